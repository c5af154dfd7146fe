package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"letter_outreach_bot/internal/domain/outreach"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

type sentMessage struct {
	to   telebot.Recipient
	what interface{}
	opts []interface{}
}

type recordingSender struct {
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, what: what, opts: opts})
	return &telebot.Message{ID: 42, Chat: &telebot.Chat{ID: -100}}, nil
}

func fixedNotifier(sender *recordingSender) *Notifier {
	n := NewNotifier(sender, -100)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return n
}

func TestSendApprovalPrompt(t *testing.T) {
	sender := &recordingSender{}
	n := fixedNotifier(sender)

	ref, err := n.SendApprovalPrompt(context.Background(), outreach.ApprovalPrompt{
		ApprovalID:    "0b6c5a2e-0000-4000-8000-000000000001",
		RecipientName: "Jane Smith",
		CompanyName:   "Acme & Co",
		Subject:       "Zusammenarbeit",
		Iteration:     2,
		Document:      []byte("%PDF"),
	})
	require.NoError(t, err)
	assert.Equal(t, outreach.MessageRef{ChatID: -100, MessageID: 42}, ref)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "-100", msg.to.Recipient())

	doc, ok := msg.what.(*telebot.Document)
	require.True(t, ok)
	assert.Equal(t, "Brief_Jane_Smith_20260301_093000.pdf", doc.FileName)
	assert.Contains(t, doc.Caption, "Neue Briefgenehmigung erforderlich")
	assert.Contains(t, doc.Caption, "Acme &amp; Co")
	assert.Contains(t, doc.Caption, "<b>Version:</b> 2")

	require.Len(t, msg.opts, 1)
	opts := msg.opts[0].(*telebot.SendOptions)
	assert.Equal(t, telebot.ModeHTML, opts.ParseMode)
	buttons := opts.ReplyMarkup.InlineKeyboard[0]
	assert.Equal(t, "approve_0b6c5a2e-0000-4000-8000-000000000001", buttons[0].Data)
	assert.Equal(t, "change_0b6c5a2e-0000-4000-8000-000000000001", buttons[1].Data)
}

func TestSendApprovalPromptFailure(t *testing.T) {
	n := fixedNotifier(&recordingSender{err: errors.New("blocked")})
	_, err := n.SendApprovalPrompt(context.Background(), outreach.ApprovalPrompt{ApprovalID: "x"})
	assert.ErrorContains(t, err, "blocked")
}

func TestSendErrorNotice(t *testing.T) {
	sender := &recordingSender{}
	n := fixedNotifier(sender)

	err := n.SendErrorNotice(context.Background(), outreach.ErrorNotice{
		TaskID:      "task-1",
		ContactName: "Jane Smith",
		Message:     "Profile <missing>",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	text := sender.sent[0].what.(string)
	assert.Contains(t, text, "Workflow fehlgeschlagen!")
	assert.Contains(t, text, "task-1")
	assert.Contains(t, text, "Profile &lt;missing&gt;")
	assert.Contains(t, text, "01.03.2026 09:30:00")
	assert.NotContains(t, text, "Firma")
}

func TestDocumentName(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "Brief_Empfaenger_20260102_030405.pdf", documentName("  ", at))
	assert.Equal(t, "Brief_A_B_20260102_030405.pdf", documentName("A/B", at))
}
