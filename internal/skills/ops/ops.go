// Package ops implements the "secret"/"pr"/"issue"/"link github" command
// family (spec.md §6), wired to internal/adapters/secretstore and
// internal/adapters/sourcecontrol.
package ops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"

	"github.com/giquina/clawd-bot/internal/adapters/secretstore"
	"github.com/giquina/clawd-bot/internal/adapters/sourcecontrol"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/skill"
)

type Skill struct {
	skill.BaseSkill
	secrets *secretstore.Adapter
	source  *sourcecontrol.Adapter
	device  *sourcecontrol.DeviceAuth

	mu      sync.Mutex
	pending map[string]*oauth2.DeviceAuthResponse
}

// New wires secrets and source. source and device may be nil (source
// control disabled) — the "pr"/"issue"/"link" commands then reply with a
// not-configured error instead of panicking.
func New(secrets *secretstore.Adapter, source *sourcecontrol.Adapter, device *sourcecontrol.DeviceAuth) *Skill {
	return &Skill{
		BaseSkill: skill.BaseSkill{
			SkillName:     "ops",
			SkillCommands: []string{"secret", "pr", "issue", "link"},
			SkillPriority: skill.DefaultPriority,
		},
		secrets: secrets,
		source:  source,
		device:  device,
		pending: make(map[string]*oauth2.DeviceAuthResponse),
	}
}

func (s *Skill) Execute(ctx skill.Context) skill.Result {
	switch ctx.Command {
	case "secret":
		return s.secret(ctx)
	case "pr":
		return s.pr(ctx)
	case "issue":
		return s.issue(ctx)
	case "link":
		return s.link(ctx)
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown command %q", ctx.Command))}
	}
}

func (s *Skill) secret(ctx skill.Context) skill.Result {
	if len(ctx.Args) == 0 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: secret set|get|list|delete <name> [value]")}
	}
	switch ctx.Args[0] {
	case "set":
		if len(ctx.Args) < 3 {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: secret set <name> <value>")}
		}
		name, value := ctx.Args[1], strings.Join(ctx.Args[2:], " ")
		if err := s.secrets.Put(ctx.Context, name, value, ctx.UserID); err != nil {
			return skill.Result{Err: err}
		}
		return skill.Result{Text: fmt.Sprintf("secret %q stored", name)}
	case "get":
		if len(ctx.Args) < 2 {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: secret get <name>")}
		}
		value, err := s.secrets.Get(ctx.Context, ctx.Args[1], ctx.UserID)
		if err != nil {
			return skill.Result{Err: err}
		}
		return skill.Result{Text: fmt.Sprintf("%s = %s", ctx.Args[1], value)}
	case "delete":
		if len(ctx.Args) < 2 {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: secret delete <name>")}
		}
		if err := s.secrets.Delete(ctx.Context, ctx.Args[1], ctx.UserID); err != nil {
			return skill.Result{Err: err}
		}
		return skill.Result{Text: fmt.Sprintf("secret %q deleted", ctx.Args[1])}
	case "list":
		names, err := s.secrets.List(ctx.Context)
		if err != nil {
			return skill.Result{Err: err}
		}
		if len(names) == 0 {
			return skill.Result{Text: "no secrets stored"}
		}
		return skill.Result{Text: strings.Join(names, "\n")}
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown secret subcommand %q", ctx.Args[0]))}
	}
}

func (s *Skill) pr(ctx skill.Context) skill.Result {
	if s.source == nil {
		return skill.Result{Err: kernelerr.New(kernelerr.Degraded, "source control is not configured")}
	}
	if len(ctx.Args) < 2 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: pr status|merge <owner/repo> <number> [method]")}
	}
	sub := ctx.Args[0]
	repo, err := parseRepo(ctx.Args[1])
	if err != nil {
		return skill.Result{Err: err}
	}
	if len(ctx.Args) < 3 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: pr "+sub+" <owner/repo> <number> [method]")}
	}
	number, err := strconv.Atoi(ctx.Args[2])
	if err != nil {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("invalid pull request number %q", ctx.Args[2]))}
	}

	switch sub {
	case "status":
		p, err := s.source.GetPullRequest(ctx.Context, repo, number)
		if err != nil {
			return skill.Result{Err: err}
		}
		return skill.Result{Text: fmt.Sprintf("#%d %s [%s] %s", p.Number, p.Title, p.State, p.HTMLURL)}
	case "merge":
		method := "merge"
		if len(ctx.Args) >= 4 {
			method = ctx.Args[3]
		}
		if err := s.source.MergePullRequest(ctx.Context, repo, number, method); err != nil {
			return skill.Result{Err: err}
		}
		return skill.Result{Text: fmt.Sprintf("merged %s#%d via %s", repo, number, method)}
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown pr subcommand %q", sub))}
	}
}

func (s *Skill) issue(ctx skill.Context) skill.Result {
	if s.source == nil {
		return skill.Result{Err: kernelerr.New(kernelerr.Degraded, "source control is not configured")}
	}
	if len(ctx.Args) < 2 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: issue create <owner/repo> <title...>")}
	}
	if ctx.Args[0] != "create" {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown issue subcommand %q", ctx.Args[0]))}
	}
	repo, err := parseRepo(ctx.Args[1])
	if err != nil {
		return skill.Result{Err: err}
	}
	if len(ctx.Args) < 3 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: issue create <owner/repo> <title...>")}
	}
	title := strings.Join(ctx.Args[2:], " ")
	iss, err := s.source.CreateIssue(ctx.Context, repo, title, "", nil)
	if err != nil {
		return skill.Result{Err: err}
	}
	return skill.Result{Text: fmt.Sprintf("opened #%d: %s", iss.Number, iss.HTMLURL)}
}

// link drives the device-authorization flow: "link github" mints a user
// code and a short token to poll for completion with "link confirm <token>".
func (s *Skill) link(ctx skill.Context) skill.Result {
	if s.device == nil {
		return skill.Result{Err: kernelerr.New(kernelerr.Degraded, "github account linking is not configured")}
	}
	if len(ctx.Args) == 0 || ctx.Args[0] != "github" {
		if len(ctx.Args) >= 2 && ctx.Args[0] == "confirm" {
			return s.linkConfirm(ctx, ctx.Args[1])
		}
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: link github | link confirm <token>")}
	}

	code, err := s.device.DeviceCode(ctx.Context)
	if err != nil {
		return skill.Result{Err: kernelerr.Wrap(kernelerr.Upstream, "failed to start device authorization", err)}
	}
	token := ulid.Make().String()
	s.mu.Lock()
	s.pending[token] = code
	s.mu.Unlock()

	return skill.Result{Text: fmt.Sprintf(
		"go to %s and enter code %s, then run: link confirm %s",
		code.VerificationURI, code.UserCode, token,
	)}
}

func (s *Skill) linkConfirm(ctx skill.Context, token string) skill.Result {
	s.mu.Lock()
	code, ok := s.pending[token]
	s.mu.Unlock()
	if !ok {
		return skill.Result{Err: kernelerr.New(kernelerr.NotFound, fmt.Sprintf("no pending link for token %q", token))}
	}

	pollCtx, cancel := context.WithTimeout(ctx.Context, 10*time.Second)
	defer cancel()
	tok, err := s.device.Poll(pollCtx, code)
	if err != nil {
		return skill.Result{Err: kernelerr.Wrap(kernelerr.Timeout, "not approved yet, try \"link confirm "+token+"\" again shortly", err)}
	}

	s.mu.Lock()
	delete(s.pending, token)
	s.mu.Unlock()

	if err := s.secrets.Put(ctx.Context, "github_oauth_token:"+ctx.UserID, tok.AccessToken, ctx.UserID); err != nil {
		return skill.Result{Err: err}
	}
	return skill.Result{Text: "github account linked"}
}

func parseRepo(spec string) (sourcecontrol.Repository, error) {
	owner, name, ok := strings.Cut(spec, "/")
	if !ok || owner == "" || name == "" {
		return sourcecontrol.Repository{}, kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("repo must be owner/name, got %q", spec))
	}
	return sourcecontrol.Repository{Owner: owner, Name: name}, nil
}
