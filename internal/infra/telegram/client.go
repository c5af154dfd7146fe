// internal/infra/telegram/client.go
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/outreach"
	domaintg "letter_outreach_bot/internal/domain/telegram"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Callback data prefixes of the approval prompt buttons.
const (
	approvePrefix = "approve_"
	changePrefix  = "change_"
)

// Notifier posts approval prompts and error notices to the reviewer chat.
type Notifier struct {
	sender domaintg.Sender
	chatID int64
	now    func() time.Time
	logger *logrus.Entry
}

var _ outreach.Notifier = (*Notifier)(nil)

func NewNotifier(sender domaintg.Sender, chatID int64) *Notifier {
	return &Notifier{
		sender: sender,
		chatID: chatID,
		now:    time.Now,
		logger: logger.Component("telegram_notifier"),
	}
}

// SendApprovalPrompt posts the rendered letter with approve and request-changes buttons.
func (n *Notifier) SendApprovalPrompt(ctx context.Context, p outreach.ApprovalPrompt) (outreach.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return outreach.MessageRef{}, err
	}
	doc := &telebot.Document{
		File:     telebot.FromReader(bytes.NewReader(p.Document)),
		FileName: documentName(p.RecipientName, n.now()),
		MIME:     "application/pdf",
		Caption:  approvalCaption(p),
	}
	markup := &telebot.ReplyMarkup{InlineKeyboard: [][]telebot.InlineButton{{
		{Text: "✅ Genehmigen", Data: approvePrefix + p.ApprovalID},
		{Text: "📝 Änderungen anfordern", Data: changePrefix + p.ApprovalID},
	}}}

	msg, err := n.sender.Send(&telebot.Chat{ID: n.chatID}, doc, &telebot.SendOptions{
		ParseMode:   telebot.ModeHTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		return outreach.MessageRef{}, fmt.Errorf("error sending approval prompt: %w", err)
	}

	ref := outreach.MessageRef{ChatID: n.chatID, MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	n.logger.WithFields(logrus.Fields{
		"approval_id": p.ApprovalID,
		"iteration":   p.Iteration,
		"message_id":  ref.MessageID,
	}).Info("Approval prompt sent")
	return ref, nil
}

// SendErrorNotice tells the reviewer chat that a task failed.
func (n *Notifier) SendErrorNotice(ctx context.Context, e outreach.ErrorNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = n.now()
	}
	var b strings.Builder
	b.WriteString("❌ <b>Workflow fehlgeschlagen!</b>\n\n")
	fmt.Fprintf(&b, "📋 <b>Task:</b> %s\n", html.EscapeString(e.TaskID.String()))
	if e.ContactName != "" {
		fmt.Fprintf(&b, "👤 <b>Kontakt:</b> %s\n", html.EscapeString(e.ContactName))
	}
	if e.CompanyName != "" {
		fmt.Fprintf(&b, "🏢 <b>Firma:</b> %s\n", html.EscapeString(e.CompanyName))
	}
	fmt.Fprintf(&b, "⚠️ <b>Fehler:</b> %s\n", html.EscapeString(e.Message))
	fmt.Fprintf(&b, "🕐 <b>Zeit:</b> %s", at.Format("02.01.2006 15:04:05"))

	if _, err := n.sender.Send(&telebot.Chat{ID: n.chatID}, b.String(), &telebot.SendOptions{ParseMode: telebot.ModeHTML}); err != nil {
		return fmt.Errorf("error sending error notice: %w", err)
	}
	n.logger.WithField("task_id", e.TaskID).Info("Error notice sent")
	return nil
}

func approvalCaption(p outreach.ApprovalPrompt) string {
	var b strings.Builder
	b.WriteString("📬 <b>Neue Briefgenehmigung erforderlich</b>\n\n")
	fmt.Fprintf(&b, "👤 <b>Empfänger:</b> %s\n", html.EscapeString(p.RecipientName))
	fmt.Fprintf(&b, "🏢 <b>Firma:</b> %s\n", html.EscapeString(p.CompanyName))
	fmt.Fprintf(&b, "📝 <b>Betreff:</b> %s\n", html.EscapeString(p.Subject))
	if p.Iteration > 1 {
		fmt.Fprintf(&b, "🔄 <b>Version:</b> %d\n", p.Iteration)
	}
	b.WriteString("\nBitte prüfen Sie den Brief im Anhang.")
	return b.String()
}

func documentName(recipient string, at time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(recipient))
	if name == "" {
		name = "Empfaenger"
	}
	return fmt.Sprintf("Brief_%s_%s.pdf", name, at.Format("20060102_150405"))
}
