package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender pushes messages to one Telegram chat
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSender authorizes the bot and binds it to a chat
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing Telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

// ChannelID identifies this channel in delivery rows
func (s *TelegramSender) ChannelID() string {
	return fmt.Sprintf("telegram:%d", s.chatID)
}

// Send pushes one message and returns the provider message id
func (s *TelegramSender) Send(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	sent, err := s.bot.Send(msg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", sent.MessageID), nil
}

// Permanent reports whether a send error is unrecoverable for this channel:
// revoked token, invalid chat, or any other 4xx except 429.
func Permanent(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		if tgErr.Code == http.StatusTooManyRequests {
			return false
		}
		return tgErr.Code >= 400 && tgErr.Code < 500
	}
	return false
}
