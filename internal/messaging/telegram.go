package messaging

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/giquina/clawd-bot/internal/config"
)

// TelegramAdapter delivers notifications to Telegram chats. ChatID is the
// numeric Telegram chat ID formatted as a decimal string.
type TelegramAdapter struct {
	bot *tgbotapi.BotAPI
}

func NewTelegram(cfg config.TelegramConfig) (*TelegramAdapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramAdapter{bot: bot}, nil
}

func (a *TelegramAdapter) Platform() string { return "telegram" }

// Bot exposes the underlying tgbotapi client so internal/transport can long-
// poll for inbound updates without this package depending on the kernel.
func (a *TelegramAdapter) Bot() *tgbotapi.BotAPI { return a.bot }

// Start has no persistent connection to hold open for outbound-only
// notification delivery; inbound long-polling lives in internal/transport,
// which needs the kernel this package deliberately doesn't depend on.
func (a *TelegramAdapter) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (a *TelegramAdapter) Send(ctx context.Context, n Notification) error {
	chatID, err := strconv.ParseInt(n.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", n.ChatID, err)
	}
	msg := tgbotapi.NewMessage(chatID, n.Text)
	if _, err := a.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message to %q: %w", n.ChatID, err)
	}
	return nil
}

func (a *TelegramAdapter) Close() error { return nil }
