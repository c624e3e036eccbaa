// Package transport wires chat platform SDKs to the kernel's single inbound
// entrypoint. It sits above internal/messaging (outbound-only, to avoid an
// import cycle with internal/kernel) and is the only place that both
// depends on the kernel and imports a concrete platform SDK.
package transport

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/giquina/clawd-bot/internal/adapters/transcriber"
	"github.com/giquina/clawd-bot/internal/kernel"
	"github.com/giquina/clawd-bot/internal/messaging"
)

// Discord registers a message-create handler on adapter's session that
// routes every non-bot message through the kernel and replies in the
// originating channel.
type Discord struct {
	adapter     *messaging.DiscordAdapter
	kernel      *kernel.Kernel
	transcriber *transcriber.Adapter
}

func NewDiscord(adapter *messaging.DiscordAdapter, k *kernel.Kernel) *Discord {
	return &Discord{adapter: adapter, kernel: k}
}

// WithTranscriber enables voice-attachment transcription: an audio
// attachment is transcribed and its text routed to the kernel as if typed.
func (d *Discord) WithTranscriber(t *transcriber.Adapter) *Discord {
	d.transcriber = t
	return d
}

// Attach registers the handler; call before adapter.Start opens the session.
func (d *Discord) Attach() {
	d.adapter.Session().AddHandler(d.onMessageCreate)
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	ctx := context.Background()
	text := m.Content
	if text == "" {
		if voice := voiceAttachmentURL(m.Attachments); voice != "" && d.transcriber != nil {
			transcribed, err := d.transcriber.TranscribeURL(ctx, voice)
			if err != nil {
				slog.Error("transport: discord transcription failed", "channel", m.ChannelID, "error", err)
				return
			}
			text = transcribed.Text
		}
	}
	if text == "" {
		return
	}

	res, err := d.kernel.Handle(ctx, kernel.InboundMessage{
		ChatID:   m.ChannelID,
		UserID:   m.Author.ID,
		Platform: "discord",
		Text:     text,
	})
	if err != nil {
		slog.Error("transport: discord message handling failed", "channel", m.ChannelID, "error", err)
		_, _ = s.ChannelMessageSend(m.ChannelID, "sorry, something went wrong handling that")
		return
	}
	if res.Text == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, res.Text); err != nil {
		slog.Error("transport: discord reply failed", "channel", m.ChannelID, "error", err)
	}
}

// voiceAttachmentURL returns the first audio attachment's URL, or "".
func voiceAttachmentURL(attachments []*discordgo.MessageAttachment) string {
	for _, a := range attachments {
		if strings.HasPrefix(a.ContentType, "audio/") {
			return a.URL
		}
	}
	return ""
}
