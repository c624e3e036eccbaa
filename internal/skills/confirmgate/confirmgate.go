// Package confirmgate implements "confirm <token>" and "cancel <token>"
// (spec.md §6), the generic redemption surface for any high-risk operation
// that minted a token through internal/confirmation.
package confirmgate

import (
	"fmt"

	"github.com/giquina/clawd-bot/internal/confirmation"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/orchestrator"
	"github.com/giquina/clawd-bot/internal/skill"
)

type Skill struct {
	skill.BaseSkill
	confirm *confirmation.Broker
	orch    *orchestrator.Orchestrator
}

func New(confirm *confirmation.Broker, orch *orchestrator.Orchestrator) *Skill {
	return &Skill{
		BaseSkill: skill.BaseSkill{
			SkillName:     "confirmgate",
			SkillCommands: []string{"confirm", "cancel"},
			SkillPriority: skill.DefaultPriority,
		},
		confirm: confirm,
		orch:    orch,
	}
}

func (s *Skill) Execute(ctx skill.Context) skill.Result {
	if len(ctx.Args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("usage: %s <token>", ctx.Command))}
	}
	token := ctx.Args[0]

	switch ctx.Command {
	case "confirm":
		return s.confirmToken(ctx, token)
	case "cancel":
		return s.cancelToken(ctx, token)
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("confirmgate does not handle %q", ctx.Command))}
	}
}

// confirmToken peeks the token's kind to dispatch to the subsystem that
// minted it; "deploy" is the only kind any skill currently mints, but the
// switch keeps room for future confirmation-gated operations.
func (s *Skill) confirmToken(ctx skill.Context, token string) skill.Result {
	pending, err := s.confirm.Peek(ctx.Context, token)
	if err != nil {
		return skill.Result{Err: err}
	}
	if pending == nil {
		return skill.Result{Err: kernelerr.New(kernelerr.NotFound, "confirmation token not found or already used")}
	}

	switch pending.Kind {
	case "deploy":
		run, err := s.orch.ConfirmAndExecute(ctx.Context, token)
		if err != nil {
			return skill.Result{Err: err}
		}
		return skill.Result{Text: fmt.Sprintf("confirmed: pipeline %s for %s ended at %s", run.ID, run.Project, run.Stage)}
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.Internal, fmt.Sprintf("unknown confirmation kind %q", pending.Kind))}
	}
}

func (s *Skill) cancelToken(ctx skill.Context, token string) skill.Result {
	pending, err := s.confirm.Cancel(ctx.Context, token)
	if err != nil {
		return skill.Result{Err: err}
	}
	return skill.Result{Text: fmt.Sprintf("cancelled pending %s confirmation", pending.Kind)}
}
