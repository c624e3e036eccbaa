// Package orchestrator drives the deployment pipeline (spec.md §4.7):
// test -> deploy -> verify, gated by a whitelist of allowed commands and,
// for commands marked RequiresConfirmation, a confirmation token the caller
// must redeem before the pipeline proceeds. Rollback uses go-git to reset
// the project's working tree to the commit recorded before the failing
// deploy. Concurrent runs against the same project are single-flighted.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/worldline-go/klient"

	"github.com/giquina/clawd-bot/internal/adapters/subprocess"
	"github.com/giquina/clawd-bot/internal/confirmation"
	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/kernelerr"
)

// Stage names the pipeline phase a Run is currently in or completed at.
type Stage string

const (
	StageTest    Stage = "test"
	StageDeploy  Stage = "deploy"
	StageVerify  Stage = "verify"
	StageDone    Stage = "done"
	StageFailed  Stage = "failed"
	StageRolledBack Stage = "rolled_back"
)

// StepResult records one pipeline stage's outcome.
type StepResult struct {
	Stage    Stage
	Command  string
	Output   subprocess.Result
	Err      error
}

// Run is one full pipeline execution for a single project.
type Run struct {
	ID        string
	Project   string
	StartedAt time.Time
	EndedAt   time.Time
	Stage     Stage
	Steps     []StepResult
	PreCommit string // HEAD SHA before deploy, for rollback

	// DeploySuccess mirrors DeploymentHistory.deploySuccess (spec.md §8,
	// P5): true whenever test and deploy both succeeded, regardless of
	// verify's outcome — verify failure is a warning, not a pipeline
	// failure.
	DeploySuccess bool
	// VerifyWarning is set when VerifyHealth failed; the pipeline still
	// finishes at StageDone.
	VerifyWarning string
}

// Pipeline describes the ordered whitelist commands a project runs through.
type Pipeline struct {
	TestCommand   string
	DeployCommand string
	VerifyHealth  bool
}

// Orchestrator coordinates pipeline runs across configured projects.
type Orchestrator struct {
	cfg      config.Orchestrator
	subp     *subprocess.Adapter
	confirm  *confirmation.Broker
	healthClient *klient.Client

	mu       sync.Mutex
	inflight map[string]bool

	historyMu sync.Mutex
	history   []Run
	historyCap int
}

func New(cfg config.Orchestrator, subp *subprocess.Adapter, confirm *confirmation.Broker, historyCap int) (*Orchestrator, error) {
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create health client: %w", err)
	}
	if historyCap <= 0 {
		historyCap = 50
	}

	return &Orchestrator{
		cfg:          cfg,
		subp:         subp,
		confirm:      confirm,
		healthClient: client,
		inflight:     make(map[string]bool),
		historyCap:   historyCap,
	}, nil
}

// RequestDeploy validates project and the pipeline's commands against the
// whitelist and, if any of them require confirmation, mints a token the
// caller must redeem via Confirm before Execute will actually run.
func (o *Orchestrator) RequestDeploy(ctx context.Context, project string, pipeline Pipeline, createdBy string) (confirmToken string, needsConfirm bool, err error) {
	dir, ok := o.cfg.Projects[project]
	if !ok {
		return "", false, kernelerr.New(kernelerr.NotFound, fmt.Sprintf("unknown project %q", project)).
			WithSuggestion("register it under orchestrator.projects first")
	}

	for _, cmdName := range []string{pipeline.TestCommand, pipeline.DeployCommand} {
		if cmdName == "" {
			continue
		}
		entry, ok := o.subp.Lookup(cmdName)
		if !ok {
			return "", false, kernelerr.New(kernelerr.Unauthorized, fmt.Sprintf("command %q is not whitelisted", cmdName))
		}
		if entry.RequiresConfirmation {
			needsConfirm = true
		}
	}

	if needsConfirm {
		token, err := o.confirm.Create(ctx, "deploy", createdBy, deployPayload{Project: project, Dir: dir, Pipeline: pipeline})
		if err != nil {
			return "", true, fmt.Errorf("create confirmation: %w", err)
		}
		return token, true, nil
	}

	return "", false, nil
}

type deployPayload struct {
	Project  string
	Dir      string
	Pipeline Pipeline
}

// ConfirmAndExecute redeems a confirmation token minted by RequestDeploy and
// runs the pipeline it describes.
func (o *Orchestrator) ConfirmAndExecute(ctx context.Context, token string) (Run, error) {
	var p deployPayload
	if _, err := o.confirm.Redeem(ctx, token, &p); err != nil {
		return Run{}, err
	}
	return o.execute(ctx, p.Project, p.Dir, p.Pipeline)
}

// Execute runs a pipeline directly, for callers that already confirmed
// out of band (e.g. RequestDeploy found needsConfirm=false).
func (o *Orchestrator) Execute(ctx context.Context, project string, pipeline Pipeline) (Run, error) {
	dir, ok := o.cfg.Projects[project]
	if !ok {
		return Run{}, kernelerr.New(kernelerr.NotFound, fmt.Sprintf("unknown project %q", project))
	}
	return o.execute(ctx, project, dir, pipeline)
}

func (o *Orchestrator) execute(ctx context.Context, project, dir string, pipeline Pipeline) (Run, error) {
	o.mu.Lock()
	if o.inflight[project] {
		o.mu.Unlock()
		return Run{}, kernelerr.New(kernelerr.Conflict, fmt.Sprintf("a pipeline is already running for project %q", project))
	}
	o.inflight[project] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, project)
		o.mu.Unlock()
	}()

	run := Run{
		ID:        fmt.Sprintf("%s-%d", project, time.Now().UTC().UnixNano()),
		Project:   project,
		StartedAt: time.Now().UTC(),
		Stage:     StageTest,
	}
	run.PreCommit = headSHA(dir)

	if pipeline.TestCommand != "" {
		res, err := o.subp.Run(ctx, pipeline.TestCommand, pipeline.TestCommand, dir)
		run.Steps = append(run.Steps, StepResult{Stage: StageTest, Command: pipeline.TestCommand, Output: res, Err: err})
		if err != nil || res.ExitCode != 0 {
			run.Stage = StageFailed
			run.EndedAt = time.Now().UTC()
			o.record(run)
			return run, kernelerr.New(kernelerr.Upstream, "test stage failed").WithAttempted(pipeline.TestCommand)
		}
	}

	run.Stage = StageDeploy
	if pipeline.DeployCommand != "" {
		res, err := o.subp.Run(ctx, pipeline.DeployCommand, pipeline.DeployCommand, dir)
		run.Steps = append(run.Steps, StepResult{Stage: StageDeploy, Command: pipeline.DeployCommand, Output: res, Err: err})
		if err != nil || res.ExitCode != 0 {
			// Abort cascade (spec.md §4.7, §8 P4): deploy:failed -> aborted.
			// No automatic rollback here; rollback is a separate,
			// explicitly user-invoked recovery action (see Rollback and
			// the "pipeline rollback" skill), not something execute does
			// on the caller's behalf.
			run.Stage = StageFailed
			run.EndedAt = time.Now().UTC()
			o.record(run)
			return run, kernelerr.New(kernelerr.Upstream, "deploy stage failed").WithAttempted(pipeline.DeployCommand)
		}
	}

	run.DeploySuccess = true

	run.Stage = StageVerify
	if pipeline.VerifyHealth {
		if endpoint, ok := o.cfg.HealthEndpoints[project]; ok && endpoint != "" {
			err := o.checkHealth(ctx, endpoint)
			run.Steps = append(run.Steps, StepResult{Stage: StageVerify, Command: endpoint, Err: err})
			if err != nil {
				// Verify failure is non-fatal (spec.md §4.7, §8 P5): the
				// pipeline still succeeds, carrying a warning rather than
				// failing or rolling back.
				run.VerifyWarning = fmt.Sprintf("post-deploy health check failed: %v", err)
			}
		}
	}

	run.Stage = StageDone
	run.EndedAt = time.Now().UTC()
	o.record(run)
	return run, nil
}

func (o *Orchestrator) checkHealth(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := o.healthClient.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func headSHA(dir string) string {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

func (o *Orchestrator) rollback(dir, preCommit string) error {
	if preCommit == "" {
		return fmt.Errorf("no pre-deploy commit recorded, cannot roll back")
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("open repo %q: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{
		Commit: plumbing.NewHash(preCommit),
		Mode:   git.HardReset,
	}); err != nil {
		return fmt.Errorf("reset to %q: %w", preCommit, err)
	}
	return nil
}

func (o *Orchestrator) record(run Run) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	o.history = append(o.history, run)
	if len(o.history) > o.historyCap {
		o.history = o.history[len(o.history)-o.historyCap:]
	}
}

// Rollback explicitly resets project to the PreCommit recorded by its most
// recent history entry, for the "pipeline rollback <repo>" command. execute
// never rolls back on its own; a failed deploy just aborts (see execute's
// deploy-stage branch), and recovery is this separate, explicitly
// user-invoked action.
func (o *Orchestrator) Rollback(ctx context.Context, project string) (Run, error) {
	dir, ok := o.cfg.Projects[project]
	if !ok {
		return Run{}, kernelerr.New(kernelerr.NotFound, fmt.Sprintf("unknown project %q", project))
	}

	o.mu.Lock()
	if o.inflight[project] {
		o.mu.Unlock()
		return Run{}, kernelerr.New(kernelerr.Conflict, fmt.Sprintf("a pipeline is already running for project %q", project))
	}
	o.inflight[project] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, project)
		o.mu.Unlock()
	}()

	last, ok := o.lastRun(project)
	if !ok || last.PreCommit == "" {
		return Run{}, kernelerr.New(kernelerr.NotFound, fmt.Sprintf("no prior deploy recorded for %q to roll back to", project))
	}

	run := Run{
		ID:        fmt.Sprintf("%s-rollback-%d", project, time.Now().UTC().UnixNano()),
		Project:   project,
		StartedAt: time.Now().UTC(),
		Stage:     StageDeploy,
		PreCommit: last.PreCommit,
	}
	if err := o.rollback(dir, last.PreCommit); err != nil {
		run.Stage = StageFailed
		run.EndedAt = time.Now().UTC()
		o.record(run)
		return run, kernelerr.Wrap(kernelerr.Upstream, "rollback failed", err)
	}
	run.Stage = StageRolledBack
	run.EndedAt = time.Now().UTC()
	o.record(run)
	return run, nil
}

func (o *Orchestrator) lastRun(project string) (Run, bool) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].Project == project {
			return o.history[i], true
		}
	}
	return Run{}, false
}

// History returns a snapshot of the bounded run ring, newest last.
func (o *Orchestrator) History() []Run {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	out := make([]Run, len(o.history))
	copy(out, o.history)
	return out
}
