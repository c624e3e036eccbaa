// Package pipeline implements "pipeline deploy/status/rollback" (spec.md
// §6), wired directly to internal/orchestrator.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/orchestrator"
	"github.com/giquina/clawd-bot/internal/skill"
)

// defaultPipeline names the generic whitelist commands every project is
// expected to expose; per-project overrides aren't part of this surface.
var defaultPipeline = orchestrator.Pipeline{
	TestCommand:   "test",
	DeployCommand: "deploy",
	VerifyHealth:  true,
}

type Skill struct {
	skill.BaseSkill
	orch *orchestrator.Orchestrator
}

func New(orch *orchestrator.Orchestrator) *Skill {
	return &Skill{
		BaseSkill: skill.BaseSkill{
			SkillName:     "pipeline",
			SkillCommands: []string{"pipeline"},
			SkillPriority: skill.DefaultPriority,
		},
		orch: orch,
	}
}

func (s *Skill) Execute(ctx skill.Context) skill.Result {
	if len(ctx.Args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: pipeline deploy <repo> | pipeline status | pipeline rollback <repo>")}
	}

	switch ctx.Args[0] {
	case "deploy":
		return s.deploy(ctx, ctx.Args[1:])
	case "status":
		return s.status(ctx)
	case "rollback":
		return s.rollback(ctx, ctx.Args[1:])
	default:
		// "pipeline <repo>" is an alias for "pipeline deploy <repo>".
		return s.deploy(ctx, ctx.Args)
	}
}

func (s *Skill) deploy(ctx skill.Context, args []string) skill.Result {
	if len(args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: pipeline deploy <repo>")}
	}
	project := args[0]

	token, needsConfirm, err := s.orch.RequestDeploy(ctx.Context, project, defaultPipeline, ctx.UserID)
	if err != nil {
		return skill.Result{Err: err}
	}
	if needsConfirm {
		return skill.Result{Text: fmt.Sprintf("deploy of %q requires confirmation: confirm %s", project, token)}
	}

	run, err := s.orch.Execute(ctx.Context, project, defaultPipeline)
	if err != nil {
		return skill.Result{Err: err, Text: summarizeRun(run)}
	}
	return skill.Result{Text: summarizeRun(run)}
}

func (s *Skill) status(ctx skill.Context) skill.Result {
	history := s.orch.History()
	if len(history) == 0 {
		return skill.Result{Text: "no pipeline runs recorded yet"}
	}

	var b strings.Builder
	start := 0
	if len(history) > 10 {
		start = len(history) - 10
	}
	for _, run := range history[start:] {
		fmt.Fprintf(&b, "%s: %s (%s)\n", run.Project, run.Stage, run.StartedAt.Format("2006-01-02 15:04"))
	}
	return skill.Result{Text: strings.TrimRight(b.String(), "\n")}
}

func (s *Skill) rollback(ctx skill.Context, args []string) skill.Result {
	if len(args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: pipeline rollback <repo>")}
	}
	run, err := s.orch.Rollback(ctx.Context, args[0])
	if err != nil {
		return skill.Result{Err: err}
	}
	return skill.Result{Text: fmt.Sprintf("rolled back %q to %s", run.Project, run.PreCommit)}
}

func summarizeRun(run orchestrator.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipeline %s for %s: %s\n", run.ID, run.Project, run.Stage)
	for _, step := range run.Steps {
		status := "ok"
		if step.Err != nil || step.Output.ExitCode != 0 {
			status = "failed"
		}
		fmt.Fprintf(&b, "  %s (%s): %s\n", step.Stage, step.Command, status)
	}
	if run.VerifyWarning != "" {
		fmt.Fprintf(&b, "  warning: %s\n", run.VerifyWarning)
	}
	return strings.TrimRight(b.String(), "\n")
}
