// Package reminder implements "remind me ... in/at ...", "my reminders",
// and "cancel reminder <n>" (spec.md §6) as one-shot ScheduledJob rows
// dispatched through the Scheduler.
package reminder

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/messaging"
	"github.com/giquina/clawd-bot/internal/scheduler"
	"github.com/giquina/clawd-bot/internal/skill"
	"github.com/giquina/clawd-bot/internal/store"
)

const handlerName = "reminder"
const maxMinutes = 1440 // 24h, per spec.md §6's "0 < N <= 1440 min / 24 h"

var (
	inRe = regexp.MustCompile(`^remind me (.+) in (\d+) ?(m|h|min|mins|hr|hrs|hour|hours)$`)
	atRe = regexp.MustCompile(`^remind me (.+) at (\d{1,2}):(\d{2})$`)
)

type Skill struct {
	skill.BaseSkill
	storer store.ScheduledJobStorer
	hub    *messaging.Hub
}

func New(storer store.ScheduledJobStorer, hub *messaging.Hub) *Skill {
	return &Skill{
		BaseSkill: skill.BaseSkill{
			SkillName:     "reminder",
			SkillCommands: []string{"remind", "my", "cancel"},
			SkillPriority: skill.DefaultPriority,
		},
		storer: storer,
		hub:    hub,
	}
}

// Initialize registers this skill's scheduler handler so fired reminders
// are delivered back to the originating chat.
func (s *Skill) Initialize(ctx context.Context, deps skill.Deps) error {
	sched, ok := deps.Scheduler.(*scheduler.Scheduler)
	if !ok {
		return kernelerr.New(kernelerr.Internal, "reminder skill requires a scheduler dependency")
	}
	sched.RegisterHandler(handlerName, s.fire)
	return nil
}

func (s *Skill) fire(ctx context.Context, job store.ScheduledJob) error {
	return s.hub.Send(ctx, messaging.Notification{
		ChatID:   job.ChatID,
		Text:     fmt.Sprintf("reminder: %s", string(job.Params)),
		Critical: false,
	})
}

func (s *Skill) Execute(ctx skill.Context) skill.Result {
	switch {
	case ctx.Command == "remind":
		return s.remind(ctx)
	case ctx.Command == "my" && len(ctx.Args) > 0 && ctx.Args[0] == "reminders":
		return s.list(ctx)
	case ctx.Command == "cancel":
		return s.cancel(ctx)
	default:
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, fmt.Sprintf("reminder does not handle %q", ctx.Command))}
	}
}

func (s *Skill) remind(ctx skill.Context) skill.Result {
	text := ctx.Raw

	if m := inRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[2])
		unit := m[3]
		minutes := n
		if strings.HasPrefix(unit, "h") {
			minutes = n * 60
		}
		if minutes <= 0 || minutes > maxMinutes {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "reminder delay must be between 1 minute and 24 hours")}
		}
		return s.schedule(ctx, m[1], time.Now().Add(time.Duration(minutes)*time.Minute))
	}

	if m := atRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[2])
		minute, _ := strconv.Atoi(m[3])
		if hour > 23 || minute > 59 {
			return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "invalid time, use 24-hour HH:MM")}
		}
		now := time.Now()
		fire := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if fire.Before(now) {
			fire = fire.Add(24 * time.Hour)
		}
		return s.schedule(ctx, m[1], fire)
	}

	return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: remind me <msg> in <N> {m|h} | remind me <msg> at HH:MM")}
}

func (s *Skill) schedule(ctx skill.Context, message string, fireAt time.Time) skill.Result {
	job := store.ScheduledJob{
		Name:    "reminder-" + ulid.Make().String(),
		FireAt:  types.NewTimeNull(fireAt),
		Handler: handlerName,
		Params:  []byte(message),
		Enabled: true,
		Status:  store.JobPending,
		UserID:  ctx.UserID,
		ChatID:  ctx.ChatID,
	}
	if _, err := s.storer.UpsertJob(ctx.Context, job); err != nil {
		return skill.Result{Err: fmt.Errorf("schedule reminder: %w", err)}
	}
	return skill.Result{Text: fmt.Sprintf("reminder set for %s: %q", fireAt.Format("2006-01-02 15:04"), message)}
}

func (s *Skill) list(ctx skill.Context) skill.Result {
	jobs, err := s.storer.ListJobsByUser(ctx.Context, ctx.UserID)
	if err != nil {
		return skill.Result{Err: fmt.Errorf("list reminders: %w", err)}
	}

	var reminders []store.ScheduledJob
	for _, j := range jobs {
		if j.Handler == handlerName && j.Status == store.JobPending {
			reminders = append(reminders, j)
		}
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].NextRun.Before(reminders[j].NextRun) })

	if len(reminders) == 0 {
		return skill.Result{Text: "no pending reminders"}
	}

	var b strings.Builder
	for i, j := range reminders {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, j.NextRun.Format("2006-01-02 15:04"), string(j.Params))
	}
	return skill.Result{Text: strings.TrimRight(b.String(), "\n")}
}

func (s *Skill) cancel(ctx skill.Context) skill.Result {
	if len(ctx.Args) < 2 || ctx.Args[0] != "reminder" {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "usage: cancel reminder <n>")}
	}
	n, err := strconv.Atoi(ctx.Args[1])
	if err != nil || n < 1 {
		return skill.Result{Err: kernelerr.New(kernelerr.BadArgument, "reminder index must be a positive integer")}
	}

	jobs, err := s.storer.ListJobsByUser(ctx.Context, ctx.UserID)
	if err != nil {
		return skill.Result{Err: fmt.Errorf("list reminders: %w", err)}
	}
	var reminders []store.ScheduledJob
	for _, j := range jobs {
		if j.Handler == handlerName && j.Status == store.JobPending {
			reminders = append(reminders, j)
		}
	}
	sort.Slice(reminders, func(i, j int) bool { return reminders[i].NextRun.Before(reminders[j].NextRun) })

	if n > len(reminders) {
		return skill.Result{Err: kernelerr.New(kernelerr.NotFound, fmt.Sprintf("no reminder #%d", n))}
	}

	target := reminders[n-1]
	if err := s.storer.DeleteJob(ctx.Context, target.Name); err != nil {
		return skill.Result{Err: fmt.Errorf("cancel reminder: %w", err)}
	}
	return skill.Result{Text: fmt.Sprintf("cancelled reminder: %q", string(target.Params))}
}
