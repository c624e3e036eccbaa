package messaging

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/giquina/clawd-bot/internal/config"
)

// DiscordAdapter delivers notifications to Discord channels via a bot
// session. ChatID is the Discord channel ID.
type DiscordAdapter struct {
	session *discordgo.Session
}

func NewDiscord(cfg config.DiscordConfig) (*DiscordAdapter, error) {
	sess, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordAdapter{session: sess}, nil
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// Session exposes the underlying discordgo session so internal/transport can
// register an inbound message-create handler without this package taking a
// dependency on the kernel (Hub stays outbound-only).
func (a *DiscordAdapter) Session() *discordgo.Session { return a.session }

func (a *DiscordAdapter) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	<-ctx.Done()
	return a.session.Close()
}

func (a *DiscordAdapter) Send(ctx context.Context, n Notification) error {
	if _, err := a.session.ChannelMessageSend(n.ChatID, n.Text); err != nil {
		return fmt.Errorf("send discord message to %q: %w", n.ChatID, err)
	}
	return nil
}

func (a *DiscordAdapter) Close() error {
	return a.session.Close()
}
