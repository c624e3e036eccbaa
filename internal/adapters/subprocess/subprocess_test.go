package subprocess

import (
	"context"
	"testing"

	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/kernelerr"
)

// TestRunRejectsUnwhitelistedCommand covers P10's first half: a command
// head outside the whitelist table is rejected with Unauthorized.
func TestRunRejectsUnwhitelistedCommand(t *testing.T) {
	a := New(config.Orchestrator{
		Whitelist: map[string]config.WhitelistEntry{"deploy": {}},
		DevMode:   true,
	})

	_, err := a.Run(context.Background(), "rm-rf", "rm -rf /", "p")
	if kernelerr.KindOf(err) != kernelerr.Unauthorized {
		t.Fatalf("expected Unauthorized for an unwhitelisted command, got %v", err)
	}
}

// TestRunRejectsArgumentOutsideSanitizationAlphabet covers P10's second
// half: characters outside the fixed sanitization alphabet in the
// project-path argument are rejected, even for a whitelisted command.
func TestRunRejectsArgumentOutsideSanitizationAlphabet(t *testing.T) {
	a := New(config.Orchestrator{
		Whitelist: map[string]config.WhitelistEntry{"deploy": {}},
		DevMode:   true,
	})

	for _, projectDir := range []string{
		"p; rm -rf /",
		"p && echo pwned",
		"p`whoami`",
		"p$(whoami)",
		"p|cat",
	} {
		_, err := a.Run(context.Background(), "deploy", "deploy", projectDir)
		if kernelerr.KindOf(err) != kernelerr.BadArgument {
			t.Fatalf("projectDir %q: expected BadArgument, got %v", projectDir, err)
		}
	}
}

// TestRunAllowsSanitizedArgument confirms ordinary project names (the
// alnum/dash/underscore/dot/slash alphabet) are not rejected.
func TestRunAllowsSanitizedArgument(t *testing.T) {
	a := New(config.Orchestrator{
		Whitelist: map[string]config.WhitelistEntry{"deploy": {}},
		DevMode:   true,
	})

	res, err := a.Run(context.Background(), "deploy", "deploy", "aws-clawd-bot")
	if err != nil {
		t.Fatalf("expected a sanitized project name to pass, got %v", err)
	}
	if !res.Simulated {
		t.Fatalf("expected DevMode to simulate the run")
	}
}
