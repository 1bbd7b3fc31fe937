package telegram

import "gopkg.in/telebot.v3"

// Client sends operator messages: trade outcomes and the daily overdue report.
// Callers depend on this instead of *telebot.Bot so they can be tested without Telegram.
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}
