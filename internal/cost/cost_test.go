package cost

import (
	"context"
	"testing"

	"github.com/giquina/clawd-bot/internal/store"
)

// ringStorer is a minimal store.CostStorer with a small, configurable ring
// cap so the eviction boundary in P8 can be exercised without looping
// thousands of times against the production-sized ring.
type ringStorer struct {
	cap     int
	entries []store.CostEntry
}

func (r *ringStorer) AppendCost(_ context.Context, e store.CostEntry) error {
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
	return nil
}

func (r *ringStorer) AllCosts(_ context.Context) ([]store.CostEntry, error) {
	out := make([]store.CostEntry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

// TestSummarizeTotalMatchesRingAfterEviction covers P8: summary().total
// equals the sum of estimatedCost for entries still in the ring, not every
// entry ever recorded.
func TestSummarizeTotalMatchesRingAfterEviction(t *testing.T) {
	st := &ringStorer{cap: 3}
	tr := New(st, nil)

	ctx := context.Background()
	costs := []float64{1.0, 2.0, 3.0, 4.0, 5.0}
	for _, c := range costs {
		if err := tr.Record(ctx, store.CostEntry{Provider: "p", Model: "m", EstimatedCost: c}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// Ring cap 3 keeps only the last three: 3.0 + 4.0 + 5.0.
	summary, err := tr.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	want := 3.0 + 4.0 + 5.0
	if summary.TotalCost != want {
		t.Fatalf("expected total %v after eviction, got %v", want, summary.TotalCost)
	}
}

// TestSummarizeTotalMonotonicBeforeEviction confirms the running total
// grows by exactly each new entry's cost while still under the ring cap.
func TestSummarizeTotalMonotonicBeforeEviction(t *testing.T) {
	st := &ringStorer{cap: 100}
	tr := New(st, nil)
	ctx := context.Background()

	var want float64
	for i, c := range []float64{0.5, 1.5, 2.0} {
		if err := tr.Record(ctx, store.CostEntry{Provider: "p", EstimatedCost: c}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		want += c

		summary, err := tr.Summarize(ctx)
		if err != nil {
			t.Fatalf("Summarize: %v", err)
		}
		if summary.TotalCost != want {
			t.Fatalf("after %d records: expected total %v, got %v", i+1, want, summary.TotalCost)
		}
	}
}
