package telegram

import "gopkg.in/telebot.v3"

// Sender posts messages and documents to Telegram. *telebot.Bot satisfies it; tests substitute
// a recorder.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}
