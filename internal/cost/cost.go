// Package cost tracks per-provider/model LLM spend against configured
// budgets and rates (spec.md §4.8).
package cost

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/store"
)

// Budget is a spend ceiling for a single provider, checked against the
// running total of AllCosts' EstimatedCost.
type Budget struct {
	Provider string
	Limit    float64
}

// Status reports a budget's current consumption.
type Status struct {
	Provider string
	Spent    float64
	Limit    float64
	// Exceeded is true once Spent >= Limit.
	Exceeded bool
	// Warning is true once Spent >= 80% of Limit but not yet exceeded.
	Warning bool
}

// Summary aggregates cost across every provider/model pair recorded.
type Summary struct {
	TotalCost    float64
	TotalInput   int
	TotalOutput  int
	ByProvider   map[string]float64
	ByModel      map[string]float64
	ByTaskType   map[string]float64
}

// Tracker prices and records LLM usage, grounded on config.CostRate tables
// rather than hard-coded prices so operators can repoint rates without a
// rebuild.
type Tracker struct {
	storer store.CostStorer
	rates  map[string]map[string]config.CostRate

	mu      sync.RWMutex
	budgets map[string]float64 // provider -> limit
}

func New(storer store.CostStorer, rates map[string]map[string]config.CostRate) *Tracker {
	return &Tracker{
		storer:  storer,
		rates:   rates,
		budgets: make(map[string]float64),
	}
}

// Price computes the estimated cost for a usage sample in USD, returning 0
// if no rate is configured for provider/model.
func (t *Tracker) Price(provider, model string, inputTokens, outputTokens int) float64 {
	rate, ok := t.rates[provider][model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*rate.InputPerMille + float64(outputTokens)/1000*rate.OutputPerMille
}

// Record prices and persists a usage sample.
func (t *Tracker) Record(ctx context.Context, e store.CostEntry) error {
	if e.EstimatedCost == 0 {
		e.EstimatedCost = t.Price(e.Provider, e.Model, e.InputTokens, e.OutputTokens)
	}
	if err := t.storer.AppendCost(ctx, e); err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// SetBudget sets (or clears, with limit<=0) a spend ceiling for provider.
func (t *Tracker) SetBudget(provider string, limit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 {
		delete(t.budgets, provider)
		return
	}
	t.budgets[provider] = limit
}

// Summarize aggregates all recorded cost entries.
func (t *Tracker) Summarize(ctx context.Context) (Summary, error) {
	entries, err := t.storer.AllCosts(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize costs: %w", err)
	}

	s := Summary{
		ByProvider: make(map[string]float64),
		ByModel:    make(map[string]float64),
		ByTaskType: make(map[string]float64),
	}
	for _, e := range entries {
		s.TotalCost += e.EstimatedCost
		s.TotalInput += e.InputTokens
		s.TotalOutput += e.OutputTokens
		s.ByProvider[e.Provider] += e.EstimatedCost
		s.ByModel[e.Model] += e.EstimatedCost
		if e.TaskType != "" {
			s.ByTaskType[e.TaskType] += e.EstimatedCost
		}
	}
	return s, nil
}

// BudgetStatus reports consumption against every configured budget.
func (t *Tracker) BudgetStatus(ctx context.Context) ([]Status, error) {
	s, err := t.Summarize(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(t.budgets))
	for provider, limit := range t.budgets {
		spent := s.ByProvider[provider]
		out = append(out, Status{
			Provider: provider,
			Spent:    spent,
			Limit:    limit,
			Exceeded: spent >= limit,
			Warning:  spent >= limit*0.8 && spent < limit,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// OptimizationSuggestions returns a plain-language hint for every model that
// accounts for more than half of total spend, proposing that low-stakes
// tasks go to a cheaper model. It does not consult the rate table or name a
// specific cheaper model.
func (t *Tracker) OptimizationSuggestions(ctx context.Context) ([]string, error) {
	s, err := t.Summarize(ctx)
	if err != nil {
		return nil, err
	}

	var suggestions []string
	if s.TotalCost == 0 {
		return suggestions, nil
	}

	for model, spend := range s.ByModel {
		if s.TotalCost > 0 && spend/s.TotalCost > 0.5 {
			suggestions = append(suggestions, fmt.Sprintf(
				"model %q accounts for %.0f%% of total spend ($%.4f) — consider routing low-stakes tasks to a cheaper model",
				model, spend/s.TotalCost*100, spend))
		}
	}
	sort.Strings(suggestions)
	return suggestions, nil
}
