package nlrouter

import (
	"context"
	"testing"
	"time"

	"github.com/giquina/clawd-bot/internal/adapters/provider"
	"github.com/giquina/clawd-bot/internal/config"
)

type fakeClassifier struct {
	calls int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ provider.ClassifyContext) (*provider.Classification, error) {
	f.calls++
	return &provider.Classification{Action: "deploy", Confidence: 0.9}, nil
}

func (f *fakeClassifier) Chat(_ context.Context, _ string, _ []provider.Message, _ []provider.Tool) (*provider.LLMResponse, error) {
	return nil, nil
}

func TestCacheStatsReflectsOccupancyAndCapacity(t *testing.T) {
	classifier := &fakeClassifier{}
	r, err := New(config.NLRouter{CacheMaxSize: 10, AmbiguityThreshold: 0.5, ClarificationThreshold: 0.3}, classifier)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if size, cap := r.CacheStats(); size != 0 || cap != 10 {
		t.Fatalf("expected empty cache with capacity 10, got size=%d cap=%d", size, cap)
	}

	if _, err := r.Route(context.Background(), "deploy the thing please", provider.ClassifyContext{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if classifier.calls != 1 {
		t.Fatalf("expected classifier called once, got %d", classifier.calls)
	}

	if size, _ := r.CacheStats(); size != 1 {
		t.Fatalf("expected one cached entry, got %d", size)
	}
}

func TestClearCacheForcesReclassification(t *testing.T) {
	classifier := &fakeClassifier{}
	r, err := New(config.NLRouter{CacheMaxSize: 10, AmbiguityThreshold: 0.5, ClarificationThreshold: 0.3}, classifier)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := r.Route(ctx, "deploy the thing please", provider.ClassifyContext{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if _, err := r.Route(ctx, "deploy the thing please", provider.ClassifyContext{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if classifier.calls != 1 {
		t.Fatalf("expected cache hit to avoid a second classify call, got %d calls", classifier.calls)
	}

	r.ClearCache()
	if size, _ := r.CacheStats(); size != 0 {
		t.Fatalf("expected cache purged, got size=%d", size)
	}

	if _, err := r.Route(ctx, "deploy the thing please", provider.ClassifyContext{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if classifier.calls != 2 {
		t.Fatalf("expected classify called again after ClearCache, got %d", classifier.calls)
	}
}

// TestCacheTTLExpiryTriggersReclassification covers P7: repeated lookups
// within the TTL hit the cache, but a lookup after the TTL elapses falls
// through to a second upstream classify call.
func TestCacheTTLExpiryTriggersReclassification(t *testing.T) {
	classifier := &fakeClassifier{}
	r, err := New(config.NLRouter{CacheMaxSize: 10, CacheMaxAgeMs: 5, AmbiguityThreshold: 0.5, ClarificationThreshold: 0.3}, classifier)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := r.Route(ctx, "deploy the thing please", provider.ClassifyContext{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if _, err := r.Route(ctx, "deploy the thing please", provider.ClassifyContext{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if classifier.calls != 1 {
		t.Fatalf("expected the second lookup within TTL to hit cache, got %d calls", classifier.calls)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := r.Route(ctx, "deploy the thing please", provider.ClassifyContext{}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if classifier.calls != 2 {
		t.Fatalf("expected a lookup after TTL expiry to reclassify, got %d calls", classifier.calls)
	}
}
