package forward

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts reply text into a single chat.
type Telegram struct {
	s      sender
	chatID int64
}

func NewTelegram(botToken string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &Telegram{s: api, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(_ context.Context, p Payload) error {
	msg := tgbotapi.NewMessage(t.chatID, p.Reply)
	if _, err := t.s.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
