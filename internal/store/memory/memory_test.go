package memory

import (
	"context"
	"testing"
	"time"

	"github.com/giquina/clawd-bot/internal/store"
)

// TestUpsertFactBumpsUpdatedAt covers P11's first half: re-upserting an
// existing fact advances UpdatedAt while leaving CreatedAt untouched.
func TestUpsertFactBumpsUpdatedAt(t *testing.T) {
	m := New()
	ctx := context.Background()

	f, err := m.UpsertFact(ctx, store.Fact{UserID: "u", Category: "pref", Fact: "likes tea"})
	if err != nil {
		t.Fatalf("UpsertFact: %v", err)
	}
	firstCreated, firstUpdated := f.CreatedAt, f.UpdatedAt

	time.Sleep(time.Millisecond)

	f.Fact = "likes coffee"
	f, err = m.UpsertFact(ctx, f)
	if err != nil {
		t.Fatalf("UpsertFact (update): %v", err)
	}

	if !f.CreatedAt.Equal(firstCreated) {
		t.Fatalf("expected CreatedAt to stay %v, got %v", firstCreated, f.CreatedAt)
	}
	if !f.UpdatedAt.After(firstUpdated) {
		t.Fatalf("expected UpdatedAt to advance past %v, got %v", firstUpdated, f.UpdatedAt)
	}
}

// TestUpdateTaskStatusSetsAndClearsCompletedAt covers P11's other half: a
// task's CompletedAt is set when it transitions to completed, and cleared
// when it moves away from completed again.
func TestUpdateTaskStatusSetsAndClearsCompletedAt(t *testing.T) {
	m := New()
	ctx := context.Background()

	task, err := m.CreateTask(ctx, store.Task{UserID: "u", Title: "ship it"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.CompletedAt.Valid {
		t.Fatalf("expected a freshly created pending task to have no CompletedAt")
	}

	done, err := m.UpdateTaskStatus(ctx, task.ID, store.TaskCompleted)
	if err != nil {
		t.Fatalf("UpdateTaskStatus(completed): %v", err)
	}
	if !done.CompletedAt.Valid {
		t.Fatalf("expected CompletedAt to be set after completing the task")
	}

	reopened, err := m.UpdateTaskStatus(ctx, task.ID, store.TaskPending)
	if err != nil {
		t.Fatalf("UpdateTaskStatus(pending): %v", err)
	}
	if reopened.CompletedAt.Valid {
		t.Fatalf("expected CompletedAt to be cleared after reopening the task")
	}
}
