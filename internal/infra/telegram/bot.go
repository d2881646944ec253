package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Alerter posts operator alerts into a single chat.
type Alerter struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func NewAlerter(token string, chatID int64) (*Alerter, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("chat id is required")
	}

	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &Alerter{api: api, chatID: chatID}, nil
}

func (a *Alerter) SendText(ctx context.Context, text string) error {
	if a == nil || a.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := a.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
