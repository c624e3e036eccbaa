// Package subprocess executes whitelisted orchestrator commands in a
// sandboxed working directory (spec.md §4.7), grounded on the teacher's
// exec workflow node. Every invocation is checked against the configured
// whitelist before a process is spawned; commands not present in the
// whitelist are rejected outright.
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/kernelerr"
)

// argAlphabet is the fixed set of characters permitted in the
// caller-supplied projectDir before it reaches the shell (spec.md §6:
// "Arguments are sanitized before interpolation (no shell metacharacters
// outside a fixed alphabet)"). Whitelisted TestCommand/DeployCommand
// strings themselves come from trusted config, not user input, so only
// projectDir — the one value a chat command ultimately controls — needs
// this check.
var argAlphabet = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)

// Result is the outcome of a single command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	// Simulated is true when DevMode produced this result without spawning
	// a real process.
	Simulated bool
}

// Adapter runs whitelisted shell commands sandboxed under Root, or
// simulates them when DevMode is set (used for tests and local dev where
// running real deployment commands would be destructive).
type Adapter struct {
	whitelist map[string]config.WhitelistEntry
	root      string
	devMode   bool
}

func New(cfg config.Orchestrator) *Adapter {
	return &Adapter{
		whitelist: cfg.Whitelist,
		root:      cfg.SandboxRoot,
		devMode:   cfg.DevMode,
	}
}

// Lookup returns the whitelist policy for a command name, or ok=false if
// the command isn't whitelisted at all.
func (a *Adapter) Lookup(command string) (config.WhitelistEntry, bool) {
	entry, ok := a.whitelist[command]
	return entry, ok
}

// Run executes command (already resolved to a concrete shell string by the
// orchestrator, e.g. "npm test") inside projectDir, a path passed in by the
// caller. projectDir is resolved under Root and validated to not escape it.
func (a *Adapter) Run(ctx context.Context, commandName, shellCmd, projectDir string) (Result, error) {
	entry, ok := a.whitelist[commandName]
	if !ok {
		return Result{}, kernelerr.New(kernelerr.Unauthorized, fmt.Sprintf("command %q is not whitelisted", commandName)).
			WithSuggestion("add it to orchestrator.whitelist to allow execution")
	}
	if !argAlphabet.MatchString(projectDir) {
		return Result{}, kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("project path %q contains characters outside the allowed alphabet", projectDir))
	}

	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if a.devMode {
		return a.simulate(commandName, shellCmd), nil
	}

	workDirAbs, err := a.resolveSandboxed(projectDir)
	if err != nil {
		return Result{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", shellCmd)
	cmd.Dir = workDirAbs
	cmd.Env = []string{
		"HOME=" + workDirAbs,
		"PATH=/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin",
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, kernelerr.Wrap(kernelerr.Internal, fmt.Sprintf("execute %q", commandName), runErr)
		}
	}

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}

func (a *Adapter) simulate(commandName, shellCmd string) Result {
	return Result{
		Stdout:    fmt.Sprintf("[dev-mode] simulated %q: %s\n", commandName, shellCmd),
		ExitCode:  0,
		Simulated: true,
	}
}

// resolveSandboxed joins projectDir under Root and rejects any path that
// escapes it via ".." traversal or an absolute override.
func (a *Adapter) resolveSandboxed(projectDir string) (string, error) {
	root, err := filepath.Abs(a.root)
	if err != nil {
		return "", kernelerr.Wrap(kernelerr.Internal, "resolve sandbox root", err)
	}

	dir := filepath.Join(root, projectDir)
	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", kernelerr.Wrap(kernelerr.Internal, "resolve working dir", err)
	}

	if dirAbs != root && !strings.HasPrefix(dirAbs, root+string(filepath.Separator)) {
		return "", kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("project dir %q escapes sandbox", projectDir))
	}

	return dirAbs, nil
}
