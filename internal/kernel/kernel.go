// Package kernel wires every subsystem together and exposes the single
// entrypoint the chat transports call into: Handle, for
// a parsed inbound chat message. Per-chat FIFO serialization (spec.md §5)
// is implemented here, not in any individual subsystem.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/giquina/clawd-bot/internal/adapters/provider"
	"github.com/giquina/clawd-bot/internal/chatregistry"
	"github.com/giquina/clawd-bot/internal/confirmation"
	"github.com/giquina/clawd-bot/internal/cost"
	"github.com/giquina/clawd-bot/internal/kernelerr"
	"github.com/giquina/clawd-bot/internal/messaging"
	"github.com/giquina/clawd-bot/internal/nlrouter"
	"github.com/giquina/clawd-bot/internal/orchestrator"
	"github.com/giquina/clawd-bot/internal/scheduler"
	"github.com/giquina/clawd-bot/internal/skill"
	"github.com/giquina/clawd-bot/internal/store"
)

// Kernel holds a reference to every wired subsystem, built once in main and
// handed to the chat transports. It has no exported
// mutable state of its own beyond the per-chat queue map.
type Kernel struct {
	Store         store.Storer
	Skills        *skill.Registry
	Scheduler     *scheduler.Scheduler
	ChatRegistry  *chatregistry.Registry
	Cost          *cost.Tracker
	Confirmation  *confirmation.Broker
	Orchestrator  *orchestrator.Orchestrator
	NLRouter      *nlrouter.Router
	Messaging     *messaging.Hub

	queues   map[string]*chatQueue
	queuesMu sync.Mutex
}

func New(
	st store.Storer,
	skills *skill.Registry,
	sched *scheduler.Scheduler,
	chats *chatregistry.Registry,
	costTracker *cost.Tracker,
	confirm *confirmation.Broker,
	orch *orchestrator.Orchestrator,
	router *nlrouter.Router,
	hub *messaging.Hub,
) *Kernel {
	return &Kernel{
		Store:        st,
		Skills:       skills,
		Scheduler:    sched,
		ChatRegistry: chats,
		Cost:         costTracker,
		Confirmation: confirm,
		Orchestrator: orch,
		NLRouter:     router,
		Messaging:    hub,
		queues:       make(map[string]*chatQueue),
	}
}

// InboundMessage is a transport-agnostic chat message; Discord/Telegram
// adapters translate their native event into this shape before calling Handle.
type InboundMessage struct {
	ChatID   string
	UserID   string
	Platform string
	Text     string
}

// Handle enqueues msg onto its chat's serial queue and returns the skill
// Result once processed. The FIFO guarantee (spec.md §5) comes from the
// per-chat queue, not from this call itself blocking other chats.
func (k *Kernel) Handle(ctx context.Context, msg InboundMessage) (skill.Result, error) {
	q := k.queueFor(msg.ChatID)
	return q.submit(ctx, func(ctx context.Context) (skill.Result, error) {
		return k.process(ctx, msg)
	})
}

// ReapIdleQueues drops chat queues that have processed nothing for longer
// than idleAfter, so a bot that has talked to thousands of chats over its
// lifetime doesn't hold one goroutine-backed queue per chat forever. Intended
// to be called periodically (e.g. from the same ticker loop that sweeps
// confirmation.Broker).
func (k *Kernel) ReapIdleQueues(idleAfter time.Duration) {
	cutoff := time.Now().Add(-idleAfter)

	k.queuesMu.Lock()
	defer k.queuesMu.Unlock()
	for chatID, q := range k.queues {
		q.mu.Lock()
		idle := !q.busy && q.lastUsed.Before(cutoff)
		q.mu.Unlock()
		if idle {
			delete(k.queues, chatID)
		}
	}
}

func (k *Kernel) queueFor(chatID string) *chatQueue {
	k.queuesMu.Lock()
	defer k.queuesMu.Unlock()

	q, ok := k.queues[chatID]
	if !ok {
		q = newChatQueue()
		k.queues[chatID] = q
	}
	return q
}

func (k *Kernel) process(ctx context.Context, msg InboundMessage) (skill.Result, error) {
	command, args, raw := splitCommand(msg.Text)

	if command == "" {
		decision, err := k.NLRouter.Route(ctx, msg.Text, k.classifyContext(msg.ChatID))
		if err != nil {
			return skill.Result{}, fmt.Errorf("route message: %w", err)
		}
		if decision.Passthrough {
			return skill.Result{Text: ""}, nil
		}
		if len(decision.ClarifyingQuestions) > 0 {
			return skill.Result{Text: strings.Join(decision.ClarifyingQuestions, " ")}, nil
		}
		command = decision.Command
		args = decision.Args
	}

	sctx := skill.Context{
		Context: ctx,
		UserID:  msg.UserID,
		ChatID:  msg.ChatID,
		Command: command,
		Args:    args,
		Raw:     raw,
	}

	res, matched := k.Skills.Route(sctx)
	if !matched {
		return skill.Result{}, kernelerr.New(kernelerr.NotFound, fmt.Sprintf("no skill owns command %q", command))
	}
	if res.Err != nil {
		slog.Error("kernel: skill execution failed", "command", command, "chat_id", msg.ChatID, "error", res.Err)
	}
	return res, nil
}

func (k *Kernel) classifyContext(chatID string) provider.ClassifyContext {
	cctx := provider.ClassifyContext{ChatID: chatID}
	if reg, ok := k.ChatRegistry.Get(chatID); ok {
		cctx.RegisteredRepo = reg.Target
	}
	return cctx
}

// splitCommand separates a leading "/command arg1 arg2" or "command arg1"
// form from plain conversational text. An empty command return means the
// text should go through the NLRouter instead.
func splitCommand(text string) (command string, args []string, raw string) {
	raw = text
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, raw
	}
	fields := strings.Fields(trimmed)
	first := strings.TrimPrefix(fields[0], "/")
	if first == fields[0] && !looksLikeCommand(first) {
		return "", nil, raw
	}
	return first, fields[1:], raw
}

// looksLikeCommand is a conservative heuristic for bare (non-slash-prefixed)
// command words so "task add buy milk" routes directly without round-
// tripping through the NLRouter, while "hey, can you help" does not.
func looksLikeCommand(word string) bool {
	known := map[string]bool{
		"task": true, "remind": true, "deploy": true, "rollback": true,
		"nl": true, "cost": true, "register": true, "unregister": true,
		"secret": true, "pr": true, "issue": true, "status": true, "link": true,
	}
	return known[word]
}

// chatQueue serializes calls for a single chat, guaranteeing strict FIFO
// ordering per spec.md §5 without holding a global lock across chats.
type chatQueue struct {
	mu       sync.Mutex
	busy     bool
	pending  []queuedCall
	lastUsed time.Time
}

type queuedCall struct {
	fn   func(ctx context.Context) (skill.Result, error)
	ctx  context.Context
	done chan queuedResult
}

type queuedResult struct {
	res skill.Result
	err error
}

func newChatQueue() *chatQueue {
	return &chatQueue{lastUsed: time.Now()}
}

func (q *chatQueue) submit(ctx context.Context, fn func(ctx context.Context) (skill.Result, error)) (skill.Result, error) {
	call := queuedCall{fn: fn, ctx: ctx, done: make(chan queuedResult, 1)}

	q.mu.Lock()
	q.lastUsed = time.Now()
	if q.busy {
		q.pending = append(q.pending, call)
		q.mu.Unlock()
	} else {
		q.busy = true
		q.mu.Unlock()
		go q.run(call)
	}

	select {
	case r := <-call.done:
		return r.res, r.err
	case <-ctx.Done():
		return skill.Result{}, ctx.Err()
	}
}

func (q *chatQueue) run(call queuedCall) {
	for {
		res, err := call.fn(call.ctx)
		call.done <- queuedResult{res: res, err: err}

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.busy = false
			q.mu.Unlock()
			return
		}
		call = q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
	}
}
