// Package confirmation implements the "type confirm to proceed" gate
// (spec.md §4.7) that high-risk orchestrator commands pass through before
// execution: a PendingConfirmation row is created with a TTL, the user
// replies with the token, and the broker redeems it exactly once.
package confirmation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store"
)

// Broker wraps store.ConfirmationStorer with token minting and a periodic
// sweep for expired rows.
type Broker struct {
	storer store.ConfirmationStorer
	ttl    time.Duration
}

func New(storer store.ConfirmationStorer, ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Broker{storer: storer, ttl: ttl}
}

// Pending is a decoded PendingConfirmation with Payload unmarshalled into v.
type Pending struct {
	Token     string
	Kind      string
	ExpiresAt time.Time
	CreatedBy string
}

// Create mints a new token bound to kind and an opaque payload (e.g. a
// pipeline run descriptor), returning the token the caller must echo back.
func (b *Broker) Create(ctx context.Context, kind, createdBy string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal confirmation payload: %w", err)
	}

	token := ulid.Make().String()
	c := store.PendingConfirmation{
		Token:     token,
		Kind:      kind,
		Payload:   raw,
		ExpiresAt: time.Now().UTC().Add(b.ttl),
		CreatedBy: createdBy,
	}
	if err := b.storer.CreateConfirmation(ctx, c); err != nil {
		return "", fmt.Errorf("create confirmation: %w", err)
	}
	return token, nil
}

// Redeem atomically marks token as used and decodes its payload into dest.
// Returns a kernelerr.NotFound error if the token is unknown or already
// redeemed, and a kernelerr.Timeout error if it has expired.
func (b *Broker) Redeem(ctx context.Context, token string, dest any) (Pending, error) {
	c, err := b.storer.RedeemConfirmation(ctx, token)
	if err != nil {
		return Pending{}, fmt.Errorf("redeem confirmation: %w", err)
	}
	if c == nil {
		return Pending{}, kernelerr.New(kernelerr.NotFound, "confirmation token not found or already used").
			WithSuggestion("request a new confirmation and retry before it expires")
	}
	if c.ExpiresAt.Before(time.Now().UTC()) {
		return Pending{}, kernelerr.New(kernelerr.Timeout, "confirmation token expired").
			WithSuggestion("request a new confirmation")
	}
	if dest != nil && len(c.Payload) > 0 {
		if err := json.Unmarshal(c.Payload, dest); err != nil {
			return Pending{}, fmt.Errorf("decode confirmation payload: %w", err)
		}
	}
	return Pending{Token: c.Token, Kind: c.Kind, ExpiresAt: c.ExpiresAt, CreatedBy: c.CreatedBy}, nil
}

// Peek looks up a confirmation without redeeming it, for displaying
// "you have a pending confirmation" prompts.
func (b *Broker) Peek(ctx context.Context, token string) (*store.PendingConfirmation, error) {
	c, err := b.storer.GetConfirmation(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get confirmation: %w", err)
	}
	return c, nil
}

// Cancel consumes token without decoding or acting on its payload, for the
// "cancel <token>" command. Returns a kernelerr.NotFound error under the
// same conditions as Redeem.
func (b *Broker) Cancel(ctx context.Context, token string) (Pending, error) {
	return b.Redeem(ctx, token, nil)
}

// Sweep deletes all expired confirmations and returns the count removed.
// Intended to be called periodically (e.g. every minute) from the kernel's
// background loop.
func (b *Broker) Sweep(ctx context.Context) (int, error) {
	n, err := b.storer.DeleteExpiredConfirmations(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep expired confirmations: %w", err)
	}
	return n, nil
}

// Run drives Sweep on interval until ctx is cancelled.
func (b *Broker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = b.Sweep(ctx)
		}
	}
}
