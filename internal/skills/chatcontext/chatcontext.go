// Package chatcontext implements the "register chat"/"context"/"list
// chats"/"set notifications" command family (spec.md §6).
package chatcontext

import (
	"fmt"
	"strings"

	"github.com/giquina/clawd-bot/internal/chatregistry"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/skill"
	"github.com/giquina/clawd-bot/internal/store"
)

// companyCodes is the closed set spec.md §6 names for "register chat for
// company <CODE>".
var companyCodes = map[string]bool{
	"GMH": true, "GACC": true, "GCAP": true, "GQCARS": true, "GSPV": true,
}

type Skill struct {
	skill.BaseSkill
	registry *chatregistry.Registry
}

func New(registry *chatregistry.Registry) *Skill {
	return &Skill{
		BaseSkill: skill.BaseSkill{
			SkillName:     "chatcontext",
			SkillCommands: []string{"register", "unregister", "context", "list", "set"},
			SkillPriority: skill.DefaultPriority,
		},
		registry: registry,
	}
}

func (s *Skill) Execute(ctx skill.Context) skill.Result {
	switch ctx.Command {
	case "register":
		return s.register(ctx)
	case "unregister":
		return s.unregister(ctx)
	case "context":
		return s.context(ctx)
	case "list":
		return s.list(ctx)
	case "set":
		return s.setNotifications(ctx)
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("chatcontext does not handle %q", ctx.Command))}
	}
}

// register handles "register chat for <repo>", "register chat for company
// <CODE>", and "register chat as hq".
func (s *Skill) register(ctx skill.Context) skill.Result {
	if len(ctx.Args) < 2 || ctx.Args[0] != "chat" {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: register chat for <repo> | register chat for company <CODE> | register chat as hq").
			WithSuggestion("try: register chat for my-repo")}
	}

	rest := ctx.Args[1:]
	reg := store.ChatRegistration{
		ChatID:        ctx.ChatID,
		Notifications: store.NotifyAll,
		RegisteredBy:  ctx.UserID,
	}

	switch {
	case rest[0] == "as" && len(rest) >= 2 && rest[1] == "hq":
		reg.Type = store.ChatHQ

	case rest[0] == "for" && len(rest) >= 3 && rest[1] == "company":
		code := strings.ToUpper(rest[2])
		if !companyCodes[code] {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown company code %q", code)).
				WithSuggestion("valid codes: GMH, GACC, GCAP, GQCARS, GSPV")}
		}
		reg.Type = store.ChatCompany
		reg.Target = code

	case rest[0] == "for" && len(rest) >= 2:
		reg.Type = store.ChatRepo
		reg.Target = rest[1]

	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: register chat for <repo> | register chat for company <CODE> | register chat as hq")}
	}

	out, err := s.registry.Register(ctx.Context, reg)
	if err != nil {
		return skill.Result{Err: err}
	}
	return skill.Result{Text: fmt.Sprintf("registered this chat as %s (%s)", out.Type, out.Target)}
}

func (s *Skill) unregister(ctx skill.Context) skill.Result {
	if err := s.registry.Unregister(ctx.Context, ctx.ChatID); err != nil {
		return skill.Result{Err: err}
	}
	return skill.Result{Text: "chat unregistered"}
}

func (s *Skill) context(ctx skill.Context) skill.Result {
	reg, ok := s.registry.Get(ctx.ChatID)
	if !ok {
		return skill.Result{Text: "this chat is not registered"}
	}
	return skill.Result{Text: fmt.Sprintf("type=%s target=%s notifications=%s", reg.Type, reg.Target, reg.Notifications)}
}

func (s *Skill) list(ctx skill.Context) skill.Result {
	all := s.registry.All()
	if len(all) == 0 {
		return skill.Result{Text: "no chats registered"}
	}
	var b strings.Builder
	for _, c := range all {
		fmt.Fprintf(&b, "%s: %s %s (%s)\n", c.ChatID, c.Type, c.Target, c.Notifications)
	}
	return skill.Result{Text: strings.TrimRight(b.String(), "\n")}
}

func (s *Skill) setNotifications(ctx skill.Context) skill.Result {
	if len(ctx.Args) < 2 || ctx.Args[0] != "notifications" {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: set notifications {all|critical|digest}")}
	}
	level := store.NotificationLevel(ctx.Args[1])
	switch level {
	case store.NotifyAll, store.NotifyCritical, store.NotifyDigest:
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("unknown notification level %q", ctx.Args[1])).
			WithSuggestion("valid levels: all, critical, digest")}
	}

	if err := s.registry.SetNotificationLevel(ctx.Context, ctx.ChatID, level); err != nil {
		return skill.Result{Err: err}
	}
	return skill.Result{Text: fmt.Sprintf("notification level set to %s", level)}
}
