package messaging

import (
	"context"
	"testing"
)

type fakeAdapter struct {
	platform string
	sent     []Notification
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Send(_ context.Context, n Notification) error {
	f.sent = append(f.sent, n)
	return nil
}
func (f *fakeAdapter) Start(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeAdapter) Close() error                    { return nil }

func TestHubAdapterLookup(t *testing.T) {
	hub := NewHub()
	discord := &fakeAdapter{platform: "discord"}
	hub.Register(discord)

	got, ok := hub.Adapter("discord")
	if !ok {
		t.Fatal("expected discord adapter to be registered")
	}
	if got != Adapter(discord) {
		t.Fatal("Adapter returned a different instance than registered")
	}

	if _, ok := hub.Adapter("telegram"); ok {
		t.Fatal("expected no telegram adapter to be registered")
	}
}

func TestHubSendRoutesByPlatform(t *testing.T) {
	hub := NewHub()
	discord := &fakeAdapter{platform: "discord"}
	telegram := &fakeAdapter{platform: "telegram"}
	hub.Register(discord)
	hub.Register(telegram)

	if err := hub.Send(context.Background(), Notification{Platform: "telegram", Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(telegram.sent) != 1 || len(discord.sent) != 0 {
		t.Fatalf("expected message routed only to telegram, got discord=%d telegram=%d", len(discord.sent), len(telegram.sent))
	}
}

func TestHubSendUnknownPlatform(t *testing.T) {
	hub := NewHub()
	if err := hub.Send(context.Background(), Notification{Platform: "nope"}); err == nil {
		t.Fatal("expected error for unregistered platform")
	}
}
