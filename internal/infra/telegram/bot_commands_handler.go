// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	b *telebot.Bot,
	commands *AdminCommands,
	adminTelegramID int64,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			logCtx.Info("User identified as Admin")
			return c.Send("Hello, " + c.Sender().FirstName + "! Weekly tranche investor is running. Use /help for the list of commands.")
		}

		logCtx.Info("User is unknown")
		return c.Send("This bot manages a private investment account and only answers its owner.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID != adminTelegramID {
			logCtx.Info("User is unknown, sending restricted help.")
			return c.Send("No commands are available to you.")
		}
		return c.Send(helpText(commands))
	})
}

func helpText(commands *AdminCommands) string {
	var help strings.Builder
	help.WriteString("Available commands:\n")
	for _, cmd := range commands.commands() {
		help.WriteString("\n")
		help.WriteString(cmd.usage)
	}
	help.WriteString("\n\nAmounts are in rupees, dates and times in the exchange time zone.")
	return help.String()
}
