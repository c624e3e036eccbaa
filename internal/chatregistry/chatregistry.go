// Package chatregistry tracks which chats (Discord/Telegram channels, email
// digest recipients) are registered to receive notifications for which
// target (a repo, a company, or the catch-all HQ feed), per spec.md §4.2.
package chatregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store"
)

// Registry is a thin, cached façade over store.ChatRegistrationStorer: reads
// are served from an in-memory snapshot refreshed on every mutation, so
// routing lookups on the hot notification path never hit the database.
type Registry struct {
	storer store.ChatRegistrationStorer

	mu    sync.RWMutex
	byID  map[string]store.ChatRegistration
}

func New(storer store.ChatRegistrationStorer) *Registry {
	return &Registry{
		storer: storer,
		byID:   make(map[string]store.ChatRegistration),
	}
}

// Load populates the in-memory snapshot from the store. Call once at startup.
func (r *Registry) Load(ctx context.Context) error {
	chats, err := r.storer.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]store.ChatRegistration, len(chats))
	for _, c := range chats {
		r.byID[c.ChatID] = c
	}
	return nil
}

// Register validates the Target-required-iff-{repo,company} invariant and
// persists a new or updated registration.
func (r *Registry) Register(ctx context.Context, reg store.ChatRegistration) (store.ChatRegistration, error) {
	if reg.ChatID == "" {
		return store.ChatRegistration{}, kernelerr.New(kernelerr.BadArgument, "chat_id is required")
	}
	switch reg.Type {
	case store.ChatRepo, store.ChatCompany:
		if reg.Target == "" {
			return store.ChatRegistration{}, kernelerr.New(kernelerr.BadArgument,
				fmt.Sprintf("target is required for chat type %q", reg.Type))
		}
	case store.ChatHQ:
		reg.Target = ""
	default:
		return store.ChatRegistration{}, kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown chat type %q", reg.Type))
	}
	if reg.Notifications == "" {
		reg.Notifications = store.NotifyAll
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}

	out, err := r.storer.RegisterChat(ctx, reg)
	if err != nil {
		return store.ChatRegistration{}, fmt.Errorf("register chat: %w", err)
	}

	r.mu.Lock()
	r.byID[out.ChatID] = out
	r.mu.Unlock()

	return out, nil
}

func (r *Registry) Get(chatID string) (store.ChatRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[chatID]
	return c, ok
}

func (r *Registry) Unregister(ctx context.Context, chatID string) error {
	if err := r.storer.UnregisterChat(ctx, chatID); err != nil {
		return fmt.Errorf("unregister chat: %w", err)
	}
	r.mu.Lock()
	delete(r.byID, chatID)
	r.mu.Unlock()
	return nil
}

func (r *Registry) SetNotificationLevel(ctx context.Context, chatID string, level store.NotificationLevel) error {
	if err := r.storer.SetNotificationLevel(ctx, chatID, level); err != nil {
		return fmt.Errorf("set notification level: %w", err)
	}
	r.mu.Lock()
	if c, ok := r.byID[chatID]; ok {
		c.Notifications = level
		r.byID[chatID] = c
	}
	r.mu.Unlock()
	return nil
}

// All returns a snapshot of every registered chat.
func (r *Registry) All() []store.ChatRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.ChatRegistration, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// RouteFor returns the chats that should receive a notification about
// target (a repo or company name) at the given severity level: chats bound
// to target, every registered HQ chat regardless of target, and, for a
// store.NotifyCritical event, every chat subscribed at NotifyCritical.
// NotifyDigest chats are never included, and NotifyCritical chats are left
// out of events below NotifyCritical.
func (r *Registry) RouteFor(target string, level store.NotificationLevel) []store.ChatRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []store.ChatRegistration
	for _, c := range r.byID {
		if c.Type == store.ChatHQ || c.Target == target ||
			(level == store.NotifyCritical && c.Notifications == store.NotifyCritical) {
			if !suppressed(c.Notifications, level) {
				out = append(out, c)
			}
		}
	}
	return out
}

// suppressed reports whether a chat subscribed at prefLevel should NOT
// receive a notification of the given severity level. NotifyDigest chats
// never receive immediate notifications — they're batched separately by the
// digest messaging adapter.
func suppressed(pref, level store.NotificationLevel) bool {
	if pref == store.NotifyDigest {
		return true
	}
	if pref == store.NotifyCritical && level != store.NotifyCritical {
		return true
	}
	return false
}
