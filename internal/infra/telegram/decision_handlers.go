// internal/infra/telegram/decision_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"letter_outreach_bot/internal/app"
	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/approval"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// DecisionService applies reviewer verdicts.
type DecisionService interface {
	Decide(ctx context.Context, req app.DecisionRequest) (*approval.ApprovalData, error)
}

// QueueView is the read side of the approval queue used by the commands.
type QueueView interface {
	List(state approval.State) ([]*approval.ApprovalData, error)
	Health() (approval.HealthReport, error)
}

// BatchSubmitter queues workflow batches.
type BatchSubmitter interface {
	Submit(ctx context.Context, requestedBy approval.UserID, maxTasks int, dryRun bool) (approval.TriggerID, error)
}

// Registrar is the part of *telebot.Bot the handlers register with.
type Registrar interface {
	Handle(endpoint interface{}, h telebot.HandlerFunc, m ...telebot.MiddlewareFunc)
}

// Handlers turns reviewer interaction in the configured chat into approval decisions. A
// request-changes click makes the next text message in that chat the feedback.
type Handlers struct {
	ctx       context.Context
	decisions DecisionService
	queue     QueueView
	triggers  BatchSubmitter
	chatID    int64
	batchSize int
	logger    *logrus.Entry

	mu               sync.Mutex
	awaitingFeedback map[int64]pendingFeedback
}

// pendingFeedback is a change request click waiting for its text.
type pendingFeedback struct {
	id     approval.ApprovalID
	prompt int
}

func NewHandlers(ctx context.Context, decisions DecisionService, queue QueueView, triggers BatchSubmitter, chatID int64, batchSize int) *Handlers {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Handlers{
		ctx:              ctx,
		decisions:        decisions,
		queue:            queue,
		triggers:         triggers,
		chatID:           chatID,
		batchSize:        batchSize,
		logger:           logger.Component("telegram_handlers"),
		awaitingFeedback: make(map[int64]pendingFeedback),
	}
}

// Register installs every handler on the bot.
func (h *Handlers) Register(b Registrar) {
	b.Handle(telebot.OnCallback, h.onCallback)
	b.Handle(telebot.OnText, h.onText)
	h.registerBotCommands(b)
	h.registerOperatorCommands(b)
}

func (h *Handlers) authorized(c telebot.Context) bool {
	return h.chatID == 0 || (c.Chat() != nil && c.Chat().ID == h.chatID)
}

func (h *Handlers) onCallback(c telebot.Context) error {
	data := strings.TrimSpace(c.Callback().Data)
	log := h.logger.WithFields(logrus.Fields{"callback": data, "sender_id": senderID(c)})

	if !h.authorized(c) {
		log.Warn("Callback from foreign chat ignored")
		return c.Respond(&telebot.CallbackResponse{Text: "Nicht berechtigt."})
	}

	switch {
	case strings.HasPrefix(data, approvePrefix):
		id, err := approval.ParseApprovalID(strings.TrimPrefix(data, approvePrefix))
		if err != nil {
			log.WithError(err).Warn("Malformed approve callback")
			return c.Respond(&telebot.CallbackResponse{Text: "Ungültige Genehmigungs-ID."})
		}
		data, err := h.decisions.Decide(h.ctx, app.DecisionRequest{
			ApprovalID:      id,
			Decision:        app.DecisionApprove,
			UserID:          approval.UserID(senderID(c)),
			PromptMessageID: promptMessageID(c),
		})
		if err != nil {
			log.WithError(err).Warn("Approval failed")
			return c.Respond(&telebot.CallbackResponse{Text: decisionErrorText(err), ShowAlert: true})
		}
		if err := c.Respond(&telebot.CallbackResponse{Text: "Genehmigt ✅"}); err != nil {
			log.WithError(err).Warn("Failed to acknowledge callback")
		}
		return c.Send(fmt.Sprintf("✅ Brief an %s genehmigt. Der Versand wird vorbereitet.", data.RecipientName))

	case strings.HasPrefix(data, changePrefix):
		id, err := approval.ParseApprovalID(strings.TrimPrefix(data, changePrefix))
		if err != nil {
			log.WithError(err).Warn("Malformed change callback")
			return c.Respond(&telebot.CallbackResponse{Text: "Ungültige Genehmigungs-ID."})
		}
		h.mu.Lock()
		h.awaitingFeedback[c.Chat().ID] = pendingFeedback{id: id, prompt: promptMessageID(c)}
		h.mu.Unlock()
		log.WithField("approval_id", id.String()).Info("Waiting for feedback text")

		if err := c.Respond(); err != nil {
			log.WithError(err).Warn("Failed to acknowledge callback")
		}
		return c.Send("📝 Bitte senden Sie Ihre Änderungswünsche als Textnachricht.")
	}

	log.Warn("Unhandled callback data")
	return c.Respond(&telebot.CallbackResponse{Text: "Unbekannte Aktion."})
}

func (h *Handlers) onText(c telebot.Context) error {
	if !h.authorized(c) {
		return nil
	}
	h.mu.Lock()
	pending, ok := h.awaitingFeedback[c.Chat().ID]
	if ok {
		delete(h.awaitingFeedback, c.Chat().ID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	log := h.logger.WithFields(logrus.Fields{"approval_id": pending.id.String(), "sender_id": senderID(c)})
	_, err := h.decisions.Decide(h.ctx, app.DecisionRequest{
		ApprovalID:      pending.id,
		Decision:        app.DecisionRequestChanges,
		Feedback:        c.Text(),
		UserID:          approval.UserID(senderID(c)),
		PromptMessageID: pending.prompt,
	})
	if err != nil {
		log.WithError(err).Warn("Feedback rejected")
		if apperror.Is(err, apperror.KindValidation) {
			h.mu.Lock()
			h.awaitingFeedback[c.Chat().ID] = pending
			h.mu.Unlock()
		}
		return c.Send(decisionErrorText(err))
	}
	log.Info("Feedback recorded")
	return c.Send("🔄 Danke! Der Brief wird überarbeitet und erneut zur Genehmigung gesendet.")
}

func decisionErrorText(err error) string {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return "Genehmigung nicht gefunden."
	case errors.Is(err, approval.ErrStalePrompt):
		return "Diese Nachricht zeigt nicht mehr die aktuelle Version des Briefs. Bitte nutzen Sie die neueste Genehmigungsanfrage."
	case errors.Is(err, approval.ErrInvalidTransition):
		return "Diese Genehmigung wurde bereits bearbeitet."
	case apperror.Is(err, apperror.KindValidation):
		return "Ungültige Eingabe. Bitte senden Sie eine nicht leere Nachricht."
	default:
		return "Es ist ein Fehler aufgetreten. Bitte versuchen Sie es später erneut."
	}
}

// promptMessageID is the id of the message whose button was clicked, 0 if unknown.
func promptMessageID(c telebot.Context) int {
	cb := c.Callback()
	if cb == nil || cb.Message == nil {
		return 0
	}
	return cb.Message.ID
}

func senderID(c telebot.Context) int64 {
	if c.Sender() == nil {
		return 0
	}
	return c.Sender().ID
}
