package confirmation

import (
	"context"
	"testing"
	"time"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store/memory"
)

func TestCancelConsumesTokenWithoutPayload(t *testing.T) {
	b := New(memory.New(), time.Minute)
	ctx := context.Background()

	type payload struct{ Project string }
	token, err := b.Create(ctx, "deploy", "alice", payload{Project: "clawd"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending, err := b.Cancel(ctx, token)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if pending.Kind != "deploy" || pending.CreatedBy != "alice" {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	// Second cancel must fail: redeem-once semantics.
	if _, err := b.Cancel(ctx, token); kernelerr.KindOf(err) != kernelerr.NotFound {
		t.Fatalf("expected NotFound on second cancel, got %v", err)
	}
}

func TestCancelUnknownToken(t *testing.T) {
	b := New(memory.New(), time.Minute)
	if _, err := b.Cancel(context.Background(), "does-not-exist"); kernelerr.KindOf(err) != kernelerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

// TestRedeemConsumesTokenExactlyOnce covers P3's first half: Redeem decodes
// the payload on the first call and returns NotFound on the second.
func TestRedeemConsumesTokenExactlyOnce(t *testing.T) {
	b := New(memory.New(), time.Minute)
	ctx := context.Background()

	type payload struct{ Project string }
	token, err := b.Create(ctx, "deploy", "alice", payload{Project: "clawd"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var dest payload
	if _, err := b.Redeem(ctx, token, &dest); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if dest.Project != "clawd" {
		t.Fatalf("expected decoded payload, got %+v", dest)
	}

	if _, err := b.Redeem(ctx, token, &dest); kernelerr.KindOf(err) != kernelerr.NotFound {
		t.Fatalf("expected NotFound on second redeem, got %v", err)
	}
}

// TestRedeemExpiredTokenFails covers P3's other half: a token redeemed after
// its TTL has elapsed fails even though it was never redeemed before.
func TestRedeemExpiredTokenFails(t *testing.T) {
	b := New(memory.New(), time.Millisecond)
	ctx := context.Background()

	token, err := b.Create(ctx, "deploy", "alice", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := b.Redeem(ctx, token, nil); kernelerr.KindOf(err) != kernelerr.Timeout {
		t.Fatalf("expected Timeout for an expired token, got %v", err)
	}
}
