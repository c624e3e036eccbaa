// Package nlrouter implements the layered natural-language command router
// (spec.md §4.5): a fast pattern layer for unambiguous phrasing, a
// passthrough guard for plain conversation, and — only when neither settles
// the question — an LLM classifier layer behind an LRU+TTL cache so repeated
// phrasing doesn't re-hit the model.
package nlrouter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/giquina/clawd-bot/internal/adapters/provider"
	"github.com/giquina/clawd-bot/internal/config"
)

// Decision is the outcome of routing a message: either a confident command
// route, a request for clarification, or an instruction to fall back to
// plain conversational passthrough.
type Decision struct {
	// Command, when non-empty, is the resolved skill command.
	Command string
	Args    []string

	// Passthrough is true when the message should be treated as ordinary
	// conversation rather than a command.
	Passthrough bool

	// ClarifyingQuestions is non-empty when confidence fell in the
	// clarification band: ask the user instead of guessing.
	ClarifyingQuestions []string

	Classification *provider.Classification
	Source         string // "pattern", "classifier", "cache", "passthrough"
}

// Pattern binds a regular expression to the command it unambiguously
// identifies (e.g. "^task (add|list|done)\b" -> "task").
type Pattern struct {
	Command string
	Regexp  *regexp.Regexp
}

// Metrics accumulates routing counters for the "nl status" admin command.
type Metrics struct {
	mu               sync.Mutex
	PatternHits      int
	ClassifierHits   int
	CacheHits        int
	PassthroughHits  int
	ClarifyAsked     int
	Corrections      int
}

func (m *Metrics) incr(field *int) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of Metrics for display.
type Snapshot struct {
	PatternHits, ClassifierHits, CacheHits, PassthroughHits, ClarifyAsked, Corrections int
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{m.PatternHits, m.ClassifierHits, m.CacheHits, m.PassthroughHits, m.ClarifyAsked, m.Corrections}
}

// Router layers pattern matching, passthrough detection, and LLM
// classification, with tunable thresholds live-editable via SetThresholds.
type Router struct {
	patterns   []Pattern
	classifier provider.Adapter // nil disables the classifier layer entirely

	cache    *lru.Cache
	cacheTTL time.Duration

	mu         sync.RWMutex
	thresholds config.NLRouter

	metrics *Metrics
}

type cacheEntry struct {
	classification *provider.Classification
	at             time.Time
}

// New constructs a Router. classifier may be nil (e.g. no
// classifier_provider configured), in which case ambiguous text always
// falls back to Passthrough.
func New(cfg config.NLRouter, classifier provider.Adapter) (*Router, error) {
	size := cfg.CacheMaxSize
	if size <= 0 {
		size = 500
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create classification cache: %w", err)
	}

	ttl := time.Duration(cfg.CacheMaxAgeMs) * time.Millisecond
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Router{
		classifier: classifier,
		cache:      cache,
		cacheTTL:   ttl,
		thresholds: cfg,
		metrics:    &Metrics{},
	}, nil
}

// AddPattern registers a command-claiming regular expression. Patterns are
// tried in registration order; the first match wins.
func (r *Router) AddPattern(command, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile pattern for %q: %w", command, err)
	}
	r.patterns = append(r.patterns, Pattern{Command: command, Regexp: re})
	return nil
}

// SetThresholds live-updates tunable routing parameters (the "nl set"
// command per spec.md §6).
func (r *Router) SetThresholds(cfg config.NLRouter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds = cfg
	if cfg.CacheMaxAgeMs > 0 {
		r.cacheTTL = time.Duration(cfg.CacheMaxAgeMs) * time.Millisecond
	}
	if cfg.CacheMaxSize > 0 {
		r.cache.Resize(cfg.CacheMaxSize)
	}
}

func (r *Router) Thresholds() config.NLRouter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.thresholds
}

func (r *Router) Metrics() Snapshot {
	return r.metrics.Snapshot()
}

// isConversational guards obviously non-command text (greetings, questions
// about the bot, thanks) from ever reaching the classifier.
var conversationalRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|ok|okay|cool|got it|sounds good|lol)\b[.!]?\s*$`)

// Route resolves text to a Decision, trying pattern match, then passthrough
// guard, then (if available) the cached/live classifier layer.
func (r *Router) Route(ctx context.Context, text string, cctx provider.ClassifyContext) (Decision, error) {
	for _, p := range r.patterns {
		if m := p.Regexp.FindStringSubmatch(text); m != nil {
			r.metrics.incr(&r.metrics.PatternHits)
			return Decision{Command: p.Command, Args: m[1:], Source: "pattern"}, nil
		}
	}

	if conversationalRe.MatchString(text) {
		r.metrics.incr(&r.metrics.PassthroughHits)
		return Decision{Passthrough: true, Source: "passthrough"}, nil
	}

	if r.classifier == nil {
		r.metrics.incr(&r.metrics.PassthroughHits)
		return Decision{Passthrough: true, Source: "passthrough"}, nil
	}

	classification, source, err := r.classify(ctx, text, cctx)
	if err != nil {
		// Degrade to passthrough rather than surface a classifier error to
		// the user for what might just be small talk.
		r.metrics.incr(&r.metrics.PassthroughHits)
		return Decision{Passthrough: true, Source: "passthrough"}, nil
	}

	th := r.Thresholds()

	if classification.Confidence < th.ClarificationThreshold || len(classification.ClarifyingQuestions) > 0 {
		r.metrics.incr(&r.metrics.ClarifyAsked)
		return Decision{
			ClarifyingQuestions: classification.ClarifyingQuestions,
			Classification:      classification,
			Source:              source,
		}, nil
	}

	if classification.Confidence < th.AmbiguityThreshold || classification.Ambiguous {
		r.metrics.incr(&r.metrics.ClarifyAsked)
		qs := classification.ClarifyingQuestions
		if len(qs) == 0 {
			qs = []string{fmt.Sprintf("Did you mean to run %q?", classification.Action)}
		}
		return Decision{ClarifyingQuestions: qs, Classification: classification, Source: source}, nil
	}

	return Decision{
		Command:        classification.Action,
		Classification: classification,
		Source:         source,
	}, nil
}

func (r *Router) classify(ctx context.Context, text string, cctx provider.ClassifyContext) (*provider.Classification, string, error) {
	key := cacheKey(text, cctx.RegisteredRepo)

	r.mu.RLock()
	ttl := r.cacheTTL
	r.mu.RUnlock()

	if v, ok := r.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.at) < ttl {
			r.metrics.incr(&r.metrics.CacheHits)
			return entry.classification, "cache", nil
		}
		r.cache.Remove(key)
	}

	th := r.Thresholds()
	timeout := time.Duration(th.AITimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	classifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	classification, err := r.classifier.Classify(classifyCtx, text, cctx)
	if err != nil {
		return nil, "", fmt.Errorf("classify: %w", err)
	}

	r.cache.Add(key, cacheEntry{classification: classification, at: time.Now()})
	r.metrics.incr(&r.metrics.ClassifierHits)
	return classification, "classifier", nil
}

func cacheKey(text, repo string) string {
	h := sha256.Sum256([]byte(repo + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// ClearCache purges the classification cache, for the "nl cache clear"
// command.
func (r *Router) ClearCache() {
	r.cache.Purge()
}

// CacheStats reports the cache's current occupancy for "nl cache stats".
func (r *Router) CacheStats() (size, capacity int) {
	th := r.Thresholds()
	cap := th.CacheMaxSize
	if cap <= 0 {
		cap = 500
	}
	return r.cache.Len(), cap
}

// RecordCorrection is called when a user overrides a routing decision (e.g.
// "no, I meant task add"); it invalidates the cached classification for
// text so the same phrasing doesn't repeat the mistake, and increments the
// correction-learning telemetry counter surfaced by "nl status".
func (r *Router) RecordCorrection(text, repo string) {
	r.cache.Remove(cacheKey(text, repo))
	r.metrics.incr(&r.metrics.Corrections)
}
