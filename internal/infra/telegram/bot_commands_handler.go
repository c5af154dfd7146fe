// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"letter_outreach_bot/internal/domain/approval"

	"gopkg.in/telebot.v3"
)

var stateLabels = map[approval.State]string{
	approval.StatePendingApproval:      "⏳ Wartet auf Versand",
	approval.StateAwaitingUserResponse: "👀 Wartet auf Antwort",
	approval.StateApproved:             "✅ Genehmigt",
	approval.StateNeedsImprovement:     "🔄 Wird überarbeitet",
	approval.StateFailed:               "❌ Fehlgeschlagen",
}

func (h *Handlers) registerBotCommands(b Registrar) {
	startHelpLogger := h.logger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID(c))
		if !h.authorized(c) {
			logCtx.Info("Start from foreign chat")
			return c.Send("Dieser Bot ist nur für das konfigurierte Team verfügbar.")
		}
		logCtx.Info("Processing /start command")
		return c.Send("Hallo! Ich sende Briefentwürfe zur Genehmigung. Verwenden Sie /help für eine Liste der Befehle.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		if !h.authorized(c) {
			return nil
		}
		var helpText strings.Builder
		helpText.WriteString("Verfügbare Befehle:\n\n")
		helpText.WriteString("`/status`\n - Anzahl der Briefe je Zustand anzeigen.\n\n")
		helpText.WriteString("`/pending`\n - Briefe anzeigen, die auf eine Antwort warten.\n\n")
		helpText.WriteString(fmt.Sprintf("`/run [Anzahl] [dry]`\n - Einen Durchlauf starten (Standard: %d Tasks).\n\n", h.batchSize))
		helpText.WriteString("`/reject <ID>`\n - Einen Brief verwerfen.\n\n")
		helpText.WriteString("`/help`\n - Diese Hilfe anzeigen.")
		return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})

	b.Handle("/status", func(c telebot.Context) error {
		if !h.authorized(c) {
			return nil
		}
		report, err := h.queue.Health()
		if err != nil {
			h.logger.WithError(err).Error("Failed to read queue health for /status")
			return c.Send("Der Status konnte nicht gelesen werden.")
		}
		var msg strings.Builder
		fmt.Fprintf(&msg, "📊 Warteschlange: %s (%d gesamt)\n\n", report.Status, report.Total)
		for _, s := range approval.AllStates {
			fmt.Fprintf(&msg, "%s: %d\n", stateLabels[s], report.Counts[s])
		}
		return c.Send(msg.String())
	})
}
