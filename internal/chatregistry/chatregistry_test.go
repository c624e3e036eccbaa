package chatregistry

import (
	"context"
	"testing"

	"github.com/giquina/clawd-bot/internal/store"
	"github.com/giquina/clawd-bot/internal/store/memory"
)

// TestRouteForMatchesRepoHQAndCriticalOnly covers P9: a critical event for
// repo R routes to chats bound to R, every HQ chat, and any chat subscribed
// at NotifyCritical, and to nothing else.
func TestRouteForMatchesRepoHQAndCriticalOnly(t *testing.T) {
	st := memory.New()
	r := New(st)
	ctx := context.Background()

	register := func(chatID string, typ store.ChatType, target string, level store.NotificationLevel) {
		if _, err := r.Register(ctx, store.ChatRegistration{ChatID: chatID, Type: typ, Target: target, Notifications: level}); err != nil {
			t.Fatalf("register %s: %v", chatID, err)
		}
	}

	register("repo-match", store.ChatRepo, "aws-clawd-bot", store.NotifyAll)
	register("repo-other", store.ChatRepo, "other-repo", store.NotifyAll)
	register("hq", store.ChatHQ, "", store.NotifyAll)
	register("company-critical", store.ChatCompany, "acme", store.NotifyCritical)
	register("repo-match-digest", store.ChatRepo, "aws-clawd-bot", store.NotifyDigest)
	register("repo-match-muted-for-noncritical", store.ChatRepo, "aws-clawd-bot", store.NotifyCritical)

	got := r.RouteFor("aws-clawd-bot", store.NotifyCritical)

	want := map[string]bool{
		"repo-match":                       true,
		"hq":                               true,
		"company-critical":                 true,
		"repo-match-muted-for-noncritical": true,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %d: %+v", len(want), len(got), got)
	}
	for _, c := range got {
		if !want[c.ChatID] {
			t.Fatalf("unexpected chat %q in route result", c.ChatID)
		}
		delete(want, c.ChatID)
	}
	if len(want) != 0 {
		t.Fatalf("missing expected chats: %+v", want)
	}
}

// TestRouteForNonCriticalExcludesCriticalOnlyChats confirms a non-critical
// event does not reach chats subscribed only at NotifyCritical.
func TestRouteForNonCriticalExcludesCriticalOnlyChats(t *testing.T) {
	st := memory.New()
	r := New(st)
	ctx := context.Background()

	if _, err := r.Register(ctx, store.ChatRegistration{ChatID: "critical-only", Type: store.ChatRepo, Target: "R", Notifications: store.NotifyCritical}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(ctx, store.ChatRegistration{ChatID: "all", Type: store.ChatRepo, Target: "R", Notifications: store.NotifyAll}); err != nil {
		t.Fatalf("register: %v", err)
	}

	got := r.RouteFor("R", store.NotifyAll)
	if len(got) != 1 || got[0].ChatID != "all" {
		t.Fatalf("expected only the all-level chat to match, got %+v", got)
	}
}
