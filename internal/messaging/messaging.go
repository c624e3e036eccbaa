// Package messaging defines the MessagingAdapter contract notifications
// flow through (spec.md §4.2) and a Hub that routes each notification to
// its platform's adapter, or delivers to every configured platform
// concurrently when the notification names no platform or via Broadcast.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Notification is a single outbound message bound for one chat.
type Notification struct {
	ChatID   string
	Platform string
	Text     string
	// Critical marks notifications that bypass digest batching even for
	// chats subscribed at NotifyDigest level.
	Critical bool
}

// Adapter is implemented by each concrete messaging platform.
type Adapter interface {
	// Platform returns the adapter's platform identifier ("discord",
	// "telegram", "digest"), matched against ChatRegistration.Platform.
	Platform() string
	Send(ctx context.Context, n Notification) error
	// Start begins any background connection (e.g. Discord gateway) and
	// blocks until ctx is cancelled. Adapters with no persistent connection
	// (digest) may return nil immediately.
	Start(ctx context.Context) error
	Close() error
}

// Hub sends a Notification to the adapter matching its Platform, or to
// every registered adapter when Platform is empty (Send) or on request
// (Broadcast). Send returns an error when no adapter is registered for a
// non-empty Platform.
type Hub struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewHub() *Hub {
	return &Hub{adapters: make(map[string]Adapter)}
}

func (h *Hub) Register(a Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[a.Platform()] = a
}

// Adapter returns the registered adapter for platform, for transports that
// need the concrete type to attach inbound handling (internal/transport).
func (h *Hub) Adapter(platform string) (Adapter, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.adapters[platform]
	return a, ok
}

// Start launches every registered adapter's background loop in its own
// goroutine and returns immediately.
func (h *Hub) Start(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, a := range h.adapters {
		a := a
		go func() {
			if err := a.Start(ctx); err != nil {
				slog.Error("messaging: adapter stopped", "platform", a.Platform(), "error", err)
			}
		}()
	}
}

func (h *Hub) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var errs []error
	for _, a := range h.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close adapters: %v", errs)
	}
	return nil
}

// Send routes a notification to its platform's adapter. An empty Platform
// broadcasts to every adapter; that succeeds if at least one adapter accepts
// the notification.
func (h *Hub) Send(ctx context.Context, n Notification) error {
	if n.Platform == "" {
		h.mu.RLock()
		count := len(h.adapters)
		h.mu.RUnlock()
		if errs := h.Broadcast(ctx, n); count == 0 || len(errs) >= count {
			return fmt.Errorf("no messaging adapter accepted the notification: %v", errs)
		}
		return nil
	}

	h.mu.RLock()
	a, ok := h.adapters[n.Platform]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no messaging adapter registered for platform %q", n.Platform)
	}
	return a.Send(ctx, n)
}

// Broadcast sends n to every registered adapter concurrently, collecting
// errors rather than stopping at the first failure — one dead platform
// shouldn't silently swallow delivery on the others.
func (h *Hub) Broadcast(ctx context.Context, n Notification) []error {
	h.mu.RLock()
	adapters := make([]Adapter, 0, len(h.adapters))
	for _, a := range h.adapters {
		adapters = append(adapters, a)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(adapters))
	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := a.Send(ctx, n); err != nil {
				errCh <- fmt.Errorf("%s: %w", a.Platform(), err)
			}
		}(a)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}
