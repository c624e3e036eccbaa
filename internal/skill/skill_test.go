package skill

import (
	"context"
	"testing"
)

// fakeSkill is a minimal Skill for dispatch tests; CanHandle is injected
// so tests can force arbitrary overlap without depending on BaseSkill.
type fakeSkill struct {
	name      string
	priority  int
	canHandle func(Context) bool
	calls     *int
}

func (f *fakeSkill) Name() string          { return f.name }
func (f *fakeSkill) Commands() []string    { return []string{"do"} }
func (f *fakeSkill) Priority() int         { return f.priority }
func (f *fakeSkill) CanHandle(c Context) bool { return f.canHandle(c) }
func (f *fakeSkill) Execute(c Context) Result {
	*f.calls++
	return Result{Text: f.name}
}

// TestRoutePicksHighestPriorityMatch covers P1: for text matched by two
// skills at different priorities, Route executes only the higher one.
func TestRoutePicksHighestPriorityMatch(t *testing.T) {
	var aCalls, bCalls int
	a := &fakeSkill{name: "a", priority: 30, canHandle: func(Context) bool { return true }, calls: &aCalls}
	b := &fakeSkill{name: "b", priority: 10, canHandle: func(Context) bool { return true }, calls: &bCalls}

	r := NewRegistry()
	if err := r.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := r.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}

	res, ok := r.Route(Context{Context: context.Background(), Command: "do"})
	if !ok {
		t.Fatalf("expected a match")
	}
	if res.Text != "a" {
		t.Fatalf("expected the priority-30 skill to win, got %q", res.Text)
	}
	if aCalls != 1 {
		t.Fatalf("expected skill a to be executed once, got %d", aCalls)
	}
	if bCalls != 0 {
		t.Fatalf("expected skill b to never be executed, got %d", bCalls)
	}
}

// TestRouteFallsThroughOnNoMatch confirms a lower-priority skill is still
// reachable when the higher-priority one declines.
func TestRouteFallsThroughOnNoMatch(t *testing.T) {
	var aCalls, bCalls int
	a := &fakeSkill{name: "a", priority: 30, canHandle: func(Context) bool { return false }, calls: &aCalls}
	b := &fakeSkill{name: "b", priority: 10, canHandle: func(Context) bool { return true }, calls: &bCalls}

	r := NewRegistry()
	_ = r.Register(a)
	_ = r.Register(b)

	res, ok := r.Route(Context{Context: context.Background(), Command: "do"})
	if !ok || res.Text != "b" {
		t.Fatalf("expected skill b to handle, got %q ok=%v", res.Text, ok)
	}
}

// TestRegisterRejectsOverlapAtSamePriority mirrors spec.md §6: two skills
// may not claim the same command at the same priority.
func TestRegisterRejectsOverlapAtSamePriority(t *testing.T) {
	r := NewRegistry()
	a := &fakeSkill{name: "a", priority: 10, canHandle: func(Context) bool { return true }, calls: new(int)}
	b := &fakeSkill{name: "b", priority: 10, canHandle: func(Context) bool { return true }, calls: new(int)}

	if err := r.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Fatalf("expected overlap at the same priority to be rejected")
	}
}

// TestRegisterAllowsOverlapAtDifferentPriority confirms the same command
// may be claimed by two skills as long as priorities differ.
func TestRegisterAllowsOverlapAtDifferentPriority(t *testing.T) {
	r := NewRegistry()
	a := &fakeSkill{name: "a", priority: 30, canHandle: func(Context) bool { return true }, calls: new(int)}
	b := &fakeSkill{name: "b", priority: 10, canHandle: func(Context) bool { return true }, calls: new(int)}

	if err := r.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("expected overlap at different priorities to be allowed, got %v", err)
	}
}
