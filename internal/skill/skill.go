// Package skill defines the contract that command handlers ("skills")
// implement and the Registry that routes incoming commands to them
// (spec.md §4.4). Skills are self-contained: they declare the command
// prefixes they own, receive a narrow Context, and return a Result envelope
// that the kernel renders back to the originating chat.
package skill

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the outcome of a skill invocation, rendered back to chat.
type Result struct {
	// Text is the human-readable reply.
	Text string
	// Err, if non-nil, is reported via kernelerr taxonomy to the user and
	// the audit log; Text is still shown if non-empty (partial success).
	Err error
	// Data carries structured output for skills that feed into other
	// subsystems (e.g. the NLRouter correction-learning path).
	Data map[string]any
}

// Context is the narrow view of kernel state a skill invocation needs.
// It intentionally does not expose the full kernel so skills can't reach
// outside their sandbox.
type Context struct {
	context.Context

	UserID  string
	ChatID  string
	Command string
	Args    []string
	Raw     string
}

// Skill is the contract every command handler implements.
type Skill interface {
	// Name is the unique skill identifier (used for logging, config, and
	// the filesystem loader's directory name).
	Name() string
	// Commands lists the command prefixes this skill owns (e.g. "task",
	// "remind"), used for documentation and registration-time overlap
	// checks. Routing itself goes through CanHandle, not this list.
	Commands() []string
	// Priority orders dispatch: the Registry sorts skills by descending
	// priority (stable for ties) and offers the invocation to each in
	// turn. Two skills may claim overlapping commands as long as they
	// sit at different priorities; the higher one wins.
	Priority() int
	// CanHandle reports whether this skill claims ctx. The Registry
	// calls it in priority order and routes to the first skill that
	// returns true.
	CanHandle(ctx Context) bool
	// Execute runs the skill for a single command invocation.
	Execute(ctx Context) Result
}

// Initializer is optionally implemented by skills needing setup before
// they can serve traffic (e.g. registering scheduler handlers).
type Initializer interface {
	Initialize(ctx context.Context, deps Deps) error
}

// Shutdowner is optionally implemented by skills holding resources that
// need explicit cleanup.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Deps is the set of kernel-provided dependencies a skill may need during
// Initialize. Fields are typed as `any` to avoid an import cycle between
// skill and the concrete subsystem packages (kernel supplies the concrete
// values and each skill type-asserts what it needs).
type Deps struct {
	Scheduler any
	Store     any
	Messaging any
	Provider  any
	Extra     map[string]any
}

// Event is emitted on the Registry's typed event channel whenever a skill
// is routed to, completes, or fails — used by observability skills and
// tests rather than an untyped pub/sub bus.
type Event struct {
	Kind    EventKind
	Skill   string
	Command string
	ChatID  string
	Err     error
}

type EventKind string

const (
	EventRouted    EventKind = "routed"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Registry owns the set of loaded skills and routes commands to them.
//
// ordered holds every registered skill sorted by descending Priority,
// stable on ties by registration order (spec.md §4.4's dispatch
// algorithm). It is rebuilt on every Register/Unregister rather than kept
// sorted incrementally; the skill set is small and changes only at
// startup and shutdown.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Skill
	inserted []string // registration order, for stable priority ties
	ordered  []Skill
	events   chan Event
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Skill),
		events: make(chan Event, 64),
	}
}

// Events returns the read side of the typed event channel.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Register adds a skill. Two skills may declare the same command as long
// as they sit at different priorities (the higher one wins at dispatch);
// registering two skills with an overlapping command at the same
// priority is rejected, per spec.md §6's "authors must not register
// overlapping patterns at the same priority".
func (r *Registry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[s.Name()]; exists {
		return fmt.Errorf("skill %q already registered", s.Name())
	}
	for _, existing := range r.byName {
		if existing.Priority() != s.Priority() {
			continue
		}
		for _, cmd := range s.Commands() {
			for _, existingCmd := range existing.Commands() {
				if cmd == existingCmd {
					return fmt.Errorf("command %q already claimed by skill %q at priority %d", cmd, existing.Name(), s.Priority())
				}
			}
		}
	}

	r.byName[s.Name()] = s
	r.inserted = append(r.inserted, s.Name())
	r.rebuildOrdered()
	return nil
}

// Unregister removes a skill and frees its commands.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.inserted {
		if n == name {
			r.inserted = append(r.inserted[:i], r.inserted[i+1:]...)
			break
		}
	}
	r.rebuildOrdered()
}

// rebuildOrdered resorts the dispatch list by descending priority, stable
// on ties by registration order. Callers must hold r.mu.
func (r *Registry) rebuildOrdered() {
	ordered := make([]Skill, 0, len(r.inserted))
	for _, name := range r.inserted {
		ordered = append(ordered, r.byName[name])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	r.ordered = ordered
}

// Initialize calls Initialize on every registered skill that implements
// Initializer, in dispatch order (priority, ties by registration order).
func (r *Registry) Initialize(ctx context.Context, deps Deps) error {
	r.mu.RLock()
	skills := make([]Skill, len(r.ordered))
	copy(skills, r.ordered)
	r.mu.RUnlock()

	for _, s := range skills {
		if init, ok := s.(Initializer); ok {
			if err := init.Initialize(ctx, deps); err != nil {
				return fmt.Errorf("initialize skill %q: %w", s.Name(), err)
			}
		}
	}
	return nil
}

// Shutdown calls Shutdown on every registered skill that implements
// Shutdowner, collecting errors rather than stopping at the first one.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	skills := make([]Skill, len(r.ordered))
	copy(skills, r.ordered)
	r.mu.RUnlock()

	var errs []error
	for _, s := range skills {
		if sd, ok := s.(Shutdowner); ok {
			if err := sd.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown skill %q: %w", s.Name(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// FindMatchingSkills is a diagnostic for debugging pattern conflicts
// (spec.md §4.4): it returns every registered skill that currently claims
// ctx, in dispatch order (descending priority). Route only ever executes
// the first of these; the rest are reported so authors can spot
// unintended overlaps across priorities.
func (r *Registry) FindMatchingSkills(ctx Context) []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Skill
	for _, s := range r.ordered {
		if s.CanHandle(ctx) {
			matches = append(matches, s)
		}
	}
	return matches
}

// Route dispatches ctx to the highest-priority skill that claims it and
// emits lifecycle events. Skills are offered the invocation in descending
// priority order (stable on ties); the first whose CanHandle returns true
// wins and no lower-priority skill is consulted (spec.md §4.4, P1).
func (r *Registry) Route(ctx Context) (Result, bool) {
	r.mu.RLock()
	ordered := make([]Skill, len(r.ordered))
	copy(ordered, r.ordered)
	r.mu.RUnlock()

	var s Skill
	for _, candidate := range ordered {
		if candidate.CanHandle(ctx) {
			s = candidate
			break
		}
	}
	if s == nil {
		return Result{}, false
	}

	r.emit(Event{Kind: EventRouted, Skill: s.Name(), Command: ctx.Command, ChatID: ctx.ChatID})

	res := s.Execute(ctx)

	kind := EventCompleted
	if res.Err != nil {
		kind = EventFailed
	}
	r.emit(Event{Kind: kind, Skill: s.Name(), Command: ctx.Command, ChatID: ctx.ChatID, Err: res.Err})

	return res, true
}

func (r *Registry) emit(e Event) {
	select {
	case r.events <- e:
	default:
		// Drop rather than block routing on a full event channel; the
		// channel is for observability, not a durable log.
	}
}

// Skills returns every registered skill in dispatch order, for callers
// that need more than the name (e.g. the MCP tool bridge advertising one
// tool per skill).
func (r *Registry) Skills() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// List returns the names of every registered skill.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// DefaultPriority is the priority assigned to a skill that doesn't need to
// outrank or yield to another over an overlapping command.
const DefaultPriority = 10

// BaseSkill is an embeddable helper giving concrete skills a default
// Commands()/Name()/Priority()/CanHandle() implementation so they only
// need to override Execute. CanHandle's default is exact membership of
// ctx.Command in SkillCommands; a skill with richer pattern matching
// (e.g. fuzzy natural-language triggers) overrides CanHandle directly.
type BaseSkill struct {
	SkillName     string
	SkillCommands []string
	SkillPriority int
}

func (b BaseSkill) Name() string       { return b.SkillName }
func (b BaseSkill) Commands() []string { return b.SkillCommands }
func (b BaseSkill) Priority() int      { return b.SkillPriority }

func (b BaseSkill) CanHandle(ctx Context) bool {
	for _, cmd := range b.SkillCommands {
		if cmd == ctx.Command {
			return true
		}
	}
	return false
}
