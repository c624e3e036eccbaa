package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/giquina/clawd-bot/internal/adapters/subprocess"
	"github.com/giquina/clawd-bot/internal/confirmation"
	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/store/memory"
)

func newTestOrchestrator(t *testing.T, dir string) *Orchestrator {
	t.Helper()
	cfg := config.Orchestrator{
		Projects:    map[string]string{"clawd": dir},
		DevMode:     true,
		SandboxRoot: dir,
	}
	subp := subprocess.New(cfg)
	confirm := confirmation.New(memory.New(), time.Minute)
	o, err := New(cfg, subp, confirm, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

// initRepoWithTwoCommits creates a git repo with a first commit (returned as
// the pre-deploy SHA) and a second commit that Rollback should undo.
func initRepoWithTwoCommits(t *testing.T) (dir string, preCommit string) {
	t.Helper()
	dir = t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}

	write("file.txt", "v1")
	firstHash, err := wt.Commit("v1", &git.CommitOptions{Author: sig})
	if err != nil {
		t.Fatalf("commit v1: %v", err)
	}

	write("file.txt", "v2")
	if _, err := wt.Commit("v2", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	return dir, firstHash.String()
}

func TestRollbackResetsToLastRecordedPreCommit(t *testing.T) {
	dir, preCommit := initRepoWithTwoCommits(t)
	o := newTestOrchestrator(t, dir)

	// Seed history as if a prior deploy recorded preCommit, the way execute
	// does before running the deploy step.
	o.record(Run{ID: "clawd-1", Project: "clawd", Stage: StageFailed, PreCommit: preCommit})

	run, err := o.Rollback(context.Background(), "clawd")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if run.Stage != StageRolledBack {
		t.Fatalf("expected StageRolledBack, got %s", run.Stage)
	}

	content, err := os.ReadFile(filepath.Join(dir, "file.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(content) != "v1" {
		t.Fatalf("expected working tree reset to v1, got %q", content)
	}
}

func TestRollbackNoHistoryIsNotFound(t *testing.T) {
	dir, _ := initRepoWithTwoCommits(t)
	o := newTestOrchestrator(t, dir)

	if _, err := o.Rollback(context.Background(), "clawd"); kernelerr.KindOf(err) != kernelerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRollbackUnknownProject(t *testing.T) {
	dir, _ := initRepoWithTwoCommits(t)
	o := newTestOrchestrator(t, dir)

	if _, err := o.Rollback(context.Background(), "unknown"); kernelerr.KindOf(err) != kernelerr.NotFound {
		t.Fatalf("expected NotFound for unknown project, got %v", err)
	}
}

// newLivePipelineOrchestrator builds an Orchestrator with DevMode off so
// test/deploy commands actually run (DevMode's simulate always reports
// success, which can't exercise P4's abort cascade or P5's verify warning).
func newLivePipelineOrchestrator(t *testing.T, whitelist map[string]config.WhitelistEntry) *Orchestrator {
	t.Helper()
	root := t.TempDir()
	cfg := config.Orchestrator{
		Projects:    map[string]string{"p": "."},
		Whitelist:   whitelist,
		SandboxRoot: root,
	}
	subp := subprocess.New(cfg)
	confirm := confirmation.New(memory.New(), time.Minute)
	o, err := New(cfg, subp, confirm, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

// TestExecuteDeployHappyPath covers spec.md §8 scenario 3: test, deploy, and
// a 200 verify all pass, giving a StageDone run with DeploySuccess true, no
// VerifyWarning, and all three steps recorded in order.
func TestExecuteDeployHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newLivePipelineOrchestrator(t, map[string]config.WhitelistEntry{
		"true": {},
	})
	o.cfg.HealthEndpoints = map[string]string{"p": srv.URL}

	run, err := o.Execute(context.Background(), "p", Pipeline{TestCommand: "true", DeployCommand: "true", VerifyHealth: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Stage != StageDone {
		t.Fatalf("expected StageDone, got %s", run.Stage)
	}
	if !run.DeploySuccess {
		t.Fatalf("expected DeploySuccess=true")
	}
	if run.VerifyWarning != "" {
		t.Fatalf("expected no verify warning, got %q", run.VerifyWarning)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("expected test, deploy, and verify steps, got %+v", run.Steps)
	}
	wantStages := []Stage{StageTest, StageDeploy, StageVerify}
	for i, s := range run.Steps {
		if s.Stage != wantStages[i] {
			t.Fatalf("step %d: expected stage %s, got %s", i, wantStages[i], s.Stage)
		}
		if s.Err != nil {
			t.Fatalf("step %d (%s): unexpected error %v", i, s.Stage, s.Err)
		}
	}
}

// TestExecuteAbortsCascadeOnTestFailure covers P4: a failing test stage
// skips deploy and verify entirely rather than running them anyway.
func TestExecuteAbortsCascadeOnTestFailure(t *testing.T) {
	o := newLivePipelineOrchestrator(t, map[string]config.WhitelistEntry{
		"test":   {},
		"deploy": {},
	})

	// The "test" whitelist entry's shell command is the POSIX "test"
	// builtin run with no arguments, which always exits 1.
	run, err := o.Execute(context.Background(), "p", Pipeline{TestCommand: "test", DeployCommand: "deploy"})
	if kernelerr.KindOf(err) != kernelerr.Upstream {
		t.Fatalf("expected Upstream error, got %v", err)
	}
	if run.Stage != StageFailed {
		t.Fatalf("expected StageFailed, got %s", run.Stage)
	}
	if len(run.Steps) != 1 || run.Steps[0].Stage != StageTest {
		t.Fatalf("expected only the test step to run, got %+v", run.Steps)
	}
	if run.DeploySuccess {
		t.Fatalf("DeploySuccess should be false when test fails")
	}
}

// TestExecuteDeployFailureDoesNotRollback covers P4's other half: a
// deploy failure aborts the pipeline without invoking rollback.
func TestExecuteDeployFailureDoesNotRollback(t *testing.T) {
	dir, _ := initRepoWithTwoCommits(t)
	o := newLivePipelineOrchestrator(t, map[string]config.WhitelistEntry{
		"true": {},
		"test": {},
	})
	o.cfg.Projects["p"] = "."
	o.cfg.SandboxRoot = dir
	o.subp = subprocess.New(o.cfg)

	// "true" always succeeds, "test" (no args) always fails, giving a
	// passing test stage followed by a failing deploy stage.
	run, err := o.Execute(context.Background(), "p", Pipeline{TestCommand: "true", DeployCommand: "test"})
	if kernelerr.KindOf(err) != kernelerr.Upstream {
		t.Fatalf("expected Upstream error, got %v", err)
	}
	if run.Stage != StageFailed {
		t.Fatalf("expected StageFailed, got %s", run.Stage)
	}

	content, readErr := os.ReadFile(filepath.Join(dir, "file.txt"))
	if readErr != nil {
		t.Fatalf("read file: %v", readErr)
	}
	if string(content) != "v2" {
		t.Fatalf("expected working tree left at v2 (no rollback), got %q", content)
	}
}

// TestExecuteVerifyFailureIsNonFatal covers P5: a failing health check
// does not fail the pipeline, only annotates it with a warning.
func TestExecuteVerifyFailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := newLivePipelineOrchestrator(t, map[string]config.WhitelistEntry{
		"true": {},
	})
	o.cfg.HealthEndpoints = map[string]string{"p": srv.URL}

	run, err := o.Execute(context.Background(), "p", Pipeline{TestCommand: "true", DeployCommand: "true", VerifyHealth: true})
	if err != nil {
		t.Fatalf("expected success despite verify failure, got %v", err)
	}
	if run.Stage != StageDone {
		t.Fatalf("expected StageDone, got %s", run.Stage)
	}
	if !run.DeploySuccess {
		t.Fatalf("expected DeploySuccess=true")
	}
	if run.VerifyWarning == "" {
		t.Fatalf("expected a non-empty VerifyWarning")
	}
}

// TestExecuteSingleFlightPerProject covers P2: a second concurrent
// Execute call for the same project returns Conflict while the first is
// still running.
func TestExecuteSingleFlightPerProject(t *testing.T) {
	o := newLivePipelineOrchestrator(t, map[string]config.WhitelistEntry{
		"slow": {},
	})

	var wg sync.WaitGroup
	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.mu.Lock()
		o.inflight["p"] = true
		o.mu.Unlock()
		close(started)
	}()
	wg.Wait()
	<-started

	_, err := o.Execute(context.Background(), "p", Pipeline{TestCommand: "slow"})
	if kernelerr.KindOf(err) != kernelerr.Conflict {
		t.Fatalf("expected Conflict for overlapping run, got %v", err)
	}

	o.mu.Lock()
	delete(o.inflight, "p")
	o.mu.Unlock()
}

func TestLastRunReturnsMostRecentMatchingProject(t *testing.T) {
	dir, _ := initRepoWithTwoCommits(t)
	o := newTestOrchestrator(t, dir)

	o.record(Run{ID: "1", Project: "other", PreCommit: "aaa"})
	o.record(Run{ID: "2", Project: "clawd", PreCommit: "bbb"})
	o.record(Run{ID: "3", Project: "clawd", PreCommit: "ccc"})
	o.record(Run{ID: "4", Project: "other", PreCommit: "ddd"})

	last, ok := o.lastRun("clawd")
	if !ok || last.PreCommit != "ccc" {
		t.Fatalf("expected most recent clawd run (ccc), got %+v ok=%v", last, ok)
	}
}
