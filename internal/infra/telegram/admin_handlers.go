package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"letter_outreach_bot/internal/app"
	"letter_outreach_bot/internal/domain/approval"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// registerOperatorCommands installs the commands that change or inspect the workflow.
func (h *Handlers) registerOperatorCommands(b Registrar) {
	b.Handle("/pending", func(c telebot.Context) error {
		handlerLogger := h.logger.WithFields(logrus.Fields{"handler": "/pending", "sender_id": senderID(c)})
		if !h.authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Fehler: Sie sind nicht berechtigt, diesen Befehl auszuführen.")
		}

		waiting, err := h.queue.List(approval.StateAwaitingUserResponse)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list awaiting approvals")
			return c.Send("Die Liste konnte nicht gelesen werden.")
		}
		if len(waiting) == 0 {
			return c.Send("Keine Briefe warten auf eine Antwort.")
		}

		var response strings.Builder
		fmt.Fprintf(&response, "👀 %d Briefe warten auf eine Antwort:\n\n", len(waiting))
		for _, d := range waiting {
			fmt.Fprintf(&response, "• %s (%s), Version %d\n  ID: %s\n",
				d.RecipientName, d.CompanyName, d.CurrentIteration(), d.ApprovalID)
		}
		return c.Send(response.String())
	})

	b.Handle("/run", func(c telebot.Context) error {
		handlerLogger := h.logger.WithFields(logrus.Fields{"handler": "/run", "sender_id": senderID(c)})
		if !h.authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Fehler: Sie sind nicht berechtigt, diesen Befehl auszuführen.")
		}

		maxTasks, dryRun, err := parseRunArgs(c.Args(), h.batchSize)
		if err != nil {
			return c.Send("Ungültiges Format. Verwenden Sie: /run [Anzahl] [dry]")
		}
		id, err := h.triggers.Submit(h.ctx, approval.UserID(senderID(c)), maxTasks, dryRun)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to submit trigger")
			return c.Send(fmt.Sprintf("Der Durchlauf konnte nicht gestartet werden: %s", err.Error()))
		}
		handlerLogger.WithFields(logrus.Fields{"trigger_id": id.String(), "max_tasks": maxTasks, "dry_run": dryRun}).Info("Trigger submitted")

		mode := ""
		if dryRun {
			mode = " (Testlauf)"
		}
		return c.Send(fmt.Sprintf("🚀 Durchlauf mit bis zu %d Tasks eingeplant%s.\nID: %s", maxTasks, mode, id))
	})

	b.Handle("/reject", func(c telebot.Context) error {
		handlerLogger := h.logger.WithFields(logrus.Fields{"handler": "/reject", "sender_id": senderID(c)})
		if !h.authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Fehler: Sie sind nicht berechtigt, diesen Befehl auszuführen.")
		}
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Ungültiges Format. Verwenden Sie: /reject <ID>")
		}
		id, err := approval.ParseApprovalID(args[0])
		if err != nil {
			return c.Send("Ungültige Genehmigungs-ID.")
		}
		if _, err := h.decisions.Decide(h.ctx, app.DecisionRequest{
			ApprovalID: id,
			Decision:   app.DecisionReject,
			UserID:     approval.UserID(senderID(c)),
		}); err != nil {
			handlerLogger.WithError(err).Warn("Reject failed")
			return c.Send(decisionErrorText(err))
		}
		return c.Send("🗑 Brief verworfen.")
	})
}

func parseRunArgs(args []string, defaultTasks int) (int, bool, error) {
	maxTasks, dryRun := defaultTasks, false
	for _, a := range args {
		if strings.EqualFold(a, "dry") {
			dryRun = true
			continue
		}
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			return 0, false, fmt.Errorf("invalid task count %q", a)
		}
		maxTasks = n
	}
	return maxTasks, dryRun, nil
}
