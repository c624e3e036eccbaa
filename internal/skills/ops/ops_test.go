package ops

import (
	"context"
	"testing"

	"github.com/giquina/clawd-bot/internal/adapters/secretstore"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/skill"
	"github.com/giquina/clawd-bot/internal/store/memory"
)

func newTestSkill() *Skill {
	return New(secretstore.New(memory.New()), nil, nil)
}

func ctxFor(command string, args ...string) skill.Context {
	return skill.Context{Context: context.Background(), UserID: "u1", ChatID: "c1", Command: command, Args: args}
}

func TestSecretSetGetDeleteRoundTrip(t *testing.T) {
	s := newTestSkill()

	res := s.Execute(ctxFor("secret", "set", "api_key", "sk-12345"))
	if res.Err != nil {
		t.Fatalf("set: %v", res.Err)
	}

	res = s.Execute(ctxFor("secret", "get", "api_key"))
	if res.Err != nil {
		t.Fatalf("get: %v", res.Err)
	}
	if res.Text != "api_key = sk-12345" {
		t.Fatalf("unexpected get result: %q", res.Text)
	}

	res = s.Execute(ctxFor("secret", "list"))
	if res.Err != nil || res.Text != "api_key" {
		t.Fatalf("unexpected list result: %q err=%v", res.Text, res.Err)
	}

	res = s.Execute(ctxFor("secret", "delete", "api_key"))
	if res.Err != nil {
		t.Fatalf("delete: %v", res.Err)
	}

	res = s.Execute(ctxFor("secret", "get", "api_key"))
	if kernelerr.KindOf(res.Err) != kernelerr.NotFound {
		t.Fatalf("expected NotFound after delete, got %v", res.Err)
	}
}

func TestSecretGetMissingName(t *testing.T) {
	s := newTestSkill()
	res := s.Execute(ctxFor("secret", "get"))
	if kernelerr.KindOf(res.Err) != kernelerr.BadArgument {
		t.Fatalf("expected BadArgument, got %v", res.Err)
	}
}

func TestPrWithoutSourceControlConfigured(t *testing.T) {
	s := newTestSkill()
	res := s.Execute(ctxFor("pr", "status", "owner/repo", "1"))
	if kernelerr.KindOf(res.Err) != kernelerr.Degraded {
		t.Fatalf("expected Degraded, got %v", res.Err)
	}
}

func TestLinkWithoutDeviceAuthConfigured(t *testing.T) {
	s := newTestSkill()
	res := s.Execute(ctxFor("link", "github"))
	if kernelerr.KindOf(res.Err) != kernelerr.Degraded {
		t.Fatalf("expected Degraded, got %v", res.Err)
	}
}

func TestParseRepoRejectsMissingSlash(t *testing.T) {
	if _, err := parseRepo("not-a-repo"); kernelerr.KindOf(err) != kernelerr.BadArgument {
		t.Fatalf("expected BadArgument, got %v", err)
	}
}

func TestParseRepoAccepts(t *testing.T) {
	repo, err := parseRepo("giquina/clawd-bot")
	if err != nil {
		t.Fatalf("parseRepo: %v", err)
	}
	if repo.Owner != "giquina" || repo.Name != "clawd-bot" {
		t.Fatalf("unexpected repo: %+v", repo)
	}
}
