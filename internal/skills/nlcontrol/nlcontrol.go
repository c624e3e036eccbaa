// Package nlcontrol implements the "nl status/thresholds/set/cache/test"
// admin command family (spec.md §6) over internal/nlrouter.
package nlcontrol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/giquina/clawd-bot/internal/adapters/provider"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/nlrouter"
	"github.com/giquina/clawd-bot/internal/skill"
)

type Skill struct {
	skill.BaseSkill
	router *nlrouter.Router
}

func New(router *nlrouter.Router) *Skill {
	return &Skill{
		BaseSkill: skill.BaseSkill{
			SkillName:     "nlcontrol",
			SkillCommands: []string{"nl"},
			SkillPriority: skill.DefaultPriority,
		},
		router: router,
	}
}

func (s *Skill) Execute(ctx skill.Context) skill.Result {
	if len(ctx.Args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: nl status|thresholds|set|cache|test")}
	}

	switch ctx.Args[0] {
	case "status", "thresholds":
		return s.status(ctx)
	case "set":
		return s.set(ctx, ctx.Args[1:])
	case "cache":
		return s.cache(ctx, ctx.Args[1:])
	case "test":
		return s.test(ctx)
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown nl subcommand %q", ctx.Args[0]))}
	}
}

func (s *Skill) status(ctx skill.Context) skill.Result {
	th := s.router.Thresholds()
	m := s.router.Metrics()
	text := fmt.Sprintf(
		"ambiguity=%.2f clarification=%.2f ai-timeout=%dms cache-ttl=%dms cache-size=%d\n"+
			"pattern=%d classifier=%d cache=%d passthrough=%d clarify=%d corrections=%d",
		th.AmbiguityThreshold, th.ClarificationThreshold, th.AITimeoutMs, th.CacheMaxAgeMs, th.CacheMaxSize,
		m.PatternHits, m.ClassifierHits, m.CacheHits, m.PassthroughHits, m.ClarifyAsked, m.Corrections,
	)
	return skill.Result{Text: text}
}

func (s *Skill) set(ctx skill.Context, args []string) skill.Result {
	if len(args) < 2 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: nl set <param> <value>").
			WithSuggestion("valid params: ambiguity, clarification, ai-timeout, cache-ttl, cache-size")}
	}
	param, raw := args[0], args[1]
	th := s.router.Thresholds()

	switch param {
	case "ambiguity":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "ambiguity must be a float between 0 and 1")}
		}
		th.AmbiguityThreshold = v
	case "clarification":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "clarification must be a float between 0 and 1")}
		}
		th.ClarificationThreshold = v
	case "ai-timeout":
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "ai-timeout must be a positive integer (ms)")}
		}
		th.AITimeoutMs = v
	case "cache-ttl":
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "cache-ttl must be a positive integer (ms)")}
		}
		th.CacheMaxAgeMs = v
	case "cache-size":
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "cache-size must be a positive integer")}
		}
		th.CacheMaxSize = v
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown param %q", param)).
			WithSuggestion("valid params: ambiguity, clarification, ai-timeout, cache-ttl, cache-size")}
	}

	s.router.SetThresholds(th)
	return skill.Result{Text: fmt.Sprintf("%s set to %s", param, raw)}
}

func (s *Skill) cache(ctx skill.Context, args []string) skill.Result {
	if len(args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: nl cache clear|stats")}
	}
	switch args[0] {
	case "clear":
		s.router.ClearCache()
		return skill.Result{Text: "classification cache cleared"}
	case "stats":
		size, capacity := s.router.CacheStats()
		return skill.Result{Text: fmt.Sprintf("cache: %d/%d entries", size, capacity)}
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown nl cache subcommand %q", args[0]))}
	}
}

func (s *Skill) test(ctx skill.Context) skill.Result {
	msg := strings.TrimSpace(strings.Join(ctx.Args[1:], " "))
	msg = strings.Trim(msg, `"`)
	if msg == "" {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, `usage: nl test "<msg>"`)}
	}

	decision, err := s.router.Route(ctx.Context, msg, provider.ClassifyContext{ChatID: ctx.ChatID})
	if err != nil {
		return skill.Result{Err: fmt.Errorf("nl test: %w", err)}
	}

	switch {
	case decision.Passthrough:
		return skill.Result{Text: fmt.Sprintf("source=%s -> passthrough (conversational)", decision.Source)}
	case len(decision.ClarifyingQuestions) > 0:
		return skill.Result{Text: fmt.Sprintf("source=%s -> clarify: %s", decision.Source, strings.Join(decision.ClarifyingQuestions, " "))}
	default:
		return skill.Result{Text: fmt.Sprintf("source=%s -> command=%s args=%v", decision.Source, decision.Command, decision.Args)}
	}
}
