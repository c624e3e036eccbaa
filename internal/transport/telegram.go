package transport

import (
	"context"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/giquina/clawd-bot/internal/adapters/transcriber"
	"github.com/giquina/clawd-bot/internal/kernel"
	"github.com/giquina/clawd-bot/internal/messaging"
)

// Telegram long-polls for updates and routes each inbound text message
// through the kernel, replying in the originating chat.
type Telegram struct {
	adapter     *messaging.TelegramAdapter
	kernel      *kernel.Kernel
	transcriber *transcriber.Adapter
}

func NewTelegram(adapter *messaging.TelegramAdapter, k *kernel.Kernel) *Telegram {
	return &Telegram{adapter: adapter, kernel: k}
}

// WithTranscriber enables voice-message transcription: a Telegram voice
// note is transcribed and its text routed to the kernel as if typed.
func (t *Telegram) WithTranscriber(tr *transcriber.Adapter) *Telegram {
	t.transcriber = tr
	return t
}

// Run blocks, polling for updates until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) error {
	bot := t.adapter.Bot()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return nil
		case update := <-updates:
			if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
				continue
			}
			go t.handle(update.Message)
		}
	}
}

func (t *Telegram) handle(msg *tgbotapi.Message) {
	ctx := context.Background()
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	text := msg.Text
	if text == "" && msg.Voice != nil && t.transcriber != nil {
		bot := t.adapter.Bot()
		fileURL, err := bot.GetFileDirectURL(msg.Voice.FileID)
		if err != nil {
			slog.Error("transport: telegram voice file lookup failed", "chat_id", chatID, "error", err)
			return
		}
		transcribed, err := t.transcriber.TranscribeURL(ctx, fileURL)
		if err != nil {
			slog.Error("transport: telegram transcription failed", "chat_id", chatID, "error", err)
			return
		}
		text = transcribed.Text
	}
	if text == "" {
		return
	}

	res, err := t.kernel.Handle(ctx, kernel.InboundMessage{
		ChatID:   chatID,
		UserID:   strconv.FormatInt(msg.From.ID, 10),
		Platform: "telegram",
		Text:     text,
	})
	if err != nil {
		slog.Error("transport: telegram message handling failed", "chat_id", chatID, "error", err)
		_ = t.adapter.Send(ctx, messaging.Notification{ChatID: chatID, Text: "sorry, something went wrong handling that"})
		return
	}
	if res.Text == "" {
		return
	}
	if err := t.adapter.Send(ctx, messaging.Notification{ChatID: chatID, Text: res.Text}); err != nil {
		slog.Error("transport: telegram reply failed", "chat_id", chatID, "error", err)
	}
}
