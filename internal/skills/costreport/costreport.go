// Package costreport implements "ai costs"/"cost report"/"cost breakdown"/
// "cost budget"/"cost history"/"cost optimize" (spec.md §6) over
// internal/cost.Tracker.
package costreport

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/giquina/clawd-bot/internal/cost"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/skill"
)

type Skill struct {
	skill.BaseSkill
	tracker *cost.Tracker
}

func New(tracker *cost.Tracker) *Skill {
	return &Skill{
		BaseSkill: skill.BaseSkill{
			SkillName:     "costreport",
			SkillCommands: []string{"ai", "cost", "api"},
			SkillPriority: skill.DefaultPriority,
		},
		tracker: tracker,
	}
}

func (s *Skill) Execute(ctx skill.Context) skill.Result {
	switch ctx.Command {
	case "ai", "api":
		if len(ctx.Args) > 0 && ctx.Args[0] == "costs" {
			return s.report(ctx)
		}
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("usage: %s costs", ctx.Command))}
	case "cost":
		return s.cost(ctx)
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("costreport does not handle %q", ctx.Command))}
	}
}

func (s *Skill) cost(ctx skill.Context) skill.Result {
	if len(ctx.Args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: cost report|breakdown|budget <provider> <amt>|history|optimize")}
	}
	switch ctx.Args[0] {
	case "report":
		return s.report(ctx)
	case "breakdown":
		return s.breakdown(ctx)
	case "budget":
		return s.budget(ctx, ctx.Args[1:])
	case "history":
		return s.history(ctx)
	case "optimize":
		return s.optimize(ctx)
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown cost subcommand %q", ctx.Args[0]))}
	}
}

func (s *Skill) report(ctx skill.Context) skill.Result {
	summary, err := s.tracker.Summarize(ctx.Context)
	if err != nil {
		return skill.Result{Err: fmt.Errorf("cost report: %w", err)}
	}
	return skill.Result{Text: fmt.Sprintf(
		"total spend: $%.4f (input=%d output=%d tokens)",
		summary.TotalCost, summary.TotalInput, summary.TotalOutput,
	)}
}

func (s *Skill) breakdown(ctx skill.Context) skill.Result {
	summary, err := s.tracker.Summarize(ctx.Context)
	if err != nil {
		return skill.Result{Err: fmt.Errorf("cost breakdown: %w", err)}
	}

	var b strings.Builder
	b.WriteString("by provider:\n")
	for _, k := range sortedKeys(summary.ByProvider) {
		fmt.Fprintf(&b, "  %s: $%.4f\n", k, summary.ByProvider[k])
	}
	b.WriteString("by model:\n")
	for _, k := range sortedKeys(summary.ByModel) {
		fmt.Fprintf(&b, "  %s: $%.4f\n", k, summary.ByModel[k])
	}
	if len(summary.ByTaskType) > 0 {
		b.WriteString("by task type:\n")
		for _, k := range sortedKeys(summary.ByTaskType) {
			fmt.Fprintf(&b, "  %s: $%.4f\n", k, summary.ByTaskType[k])
		}
	}
	return skill.Result{Text: strings.TrimRight(b.String(), "\n")}
}

func (s *Skill) budget(ctx skill.Context, args []string) skill.Result {
	if len(args) < 2 {
		status, err := s.tracker.BudgetStatus(ctx.Context)
		if err != nil {
			return skill.Result{Err: fmt.Errorf("cost budget: %w", err)}
		}
		if len(status) == 0 {
			return skill.Result{Text: "no budgets configured. usage: cost budget <provider> <amt>"}
		}
		var b strings.Builder
		for _, st := range status {
			flag := ""
			if st.Exceeded {
				flag = " [EXCEEDED]"
			} else if st.Warning {
				flag = " [warning]"
			}
			fmt.Fprintf(&b, "%s: $%.4f / $%.4f%s\n", st.Provider, st.Spent, st.Limit, flag)
		}
		return skill.Result{Text: strings.TrimRight(b.String(), "\n")}
	}

	provider, raw := args[0], args[1]
	limit, err := strconv.ParseFloat(raw, 64)
	if err != nil || limit <= 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "budget amount must be a positive number")}
	}
	s.tracker.SetBudget(provider, limit)
	return skill.Result{Text: fmt.Sprintf("budget for %s set to $%.2f", provider, limit)}
}

func (s *Skill) history(ctx skill.Context) skill.Result {
	summary, err := s.tracker.Summarize(ctx.Context)
	if err != nil {
		return skill.Result{Err: fmt.Errorf("cost history: %w", err)}
	}
	return skill.Result{Text: fmt.Sprintf(
		"lifetime total: $%.4f across %d provider(s), %d model(s)",
		summary.TotalCost, len(summary.ByProvider), len(summary.ByModel),
	)}
}

func (s *Skill) optimize(ctx skill.Context) skill.Result {
	suggestions, err := s.tracker.OptimizationSuggestions(ctx.Context)
	if err != nil {
		return skill.Result{Err: fmt.Errorf("cost optimize: %w", err)}
	}
	if len(suggestions) == 0 {
		return skill.Result{Text: "no optimization suggestions; spend is reasonably distributed"}
	}
	return skill.Result{Text: strings.Join(suggestions, "\n")}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
