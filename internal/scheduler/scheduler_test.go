package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/worldline-go/types"

	"github.com/giquina/clawd-bot/internal/store"
	"github.com/giquina/clawd-bot/internal/store/memory"
)

// TestDispatchIsSingleFlightedPerJob covers half of P6: overlapping poll
// ticks for the same still-running one-shot job fire the handler at most
// once, not once per tick.
func TestDispatchIsSingleFlightedPerJob(t *testing.T) {
	st := memory.New()
	if _, err := st.UpsertJob(context.Background(), store.ScheduledJob{
		Name:    "reminder-1",
		Handler: "remind",
		Enabled: true,
		FireAt:  types.NewTimeNull(time.Now().Add(-time.Minute)),
		Status:  store.JobPending,
	}); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	var calls int32
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	s := New(st, nil, "", 4)
	s.RegisterHandler("remind", func(ctx context.Context, job store.ScheduledJob) error {
		atomic.AddInt32(&calls, 1)
		entered <- struct{}{}
		<-release
		return nil
	})

	ctx := context.Background()
	s.checkOneShot(ctx) // first poll: dispatches, handler blocks on release
	<-entered

	s.checkOneShot(ctx) // overlapping poll while still in flight: must no-op

	close(release)

	// Give the dispatched goroutine a moment to finish and persist its result.
	deadline := time.After(time.Second)
	for {
		jobs, err := st.PendingJobs(ctx)
		if err != nil {
			t.Fatalf("PendingJobs: %v", err)
		}
		if len(jobs) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never left pending status")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected handler to run exactly once, got %d", got)
	}
}

// TestCompletedJobNeverRefires covers the other half of P6: once a one-shot
// job is marked completed, later polls never dispatch it again even though
// its FireAt remains in the past.
func TestCompletedJobNeverRefires(t *testing.T) {
	st := memory.New()
	if _, err := st.UpsertJob(context.Background(), store.ScheduledJob{
		Name:    "reminder-2",
		Handler: "remind",
		Enabled: true,
		FireAt:  types.NewTimeNull(time.Now().Add(-time.Minute)),
		Status:  store.JobPending,
	}); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	var calls int32
	s := New(st, nil, "", 4)
	done := make(chan struct{}, 4)
	s.RegisterHandler("remind", func(ctx context.Context, job store.ScheduledJob) error {
		atomic.AddInt32(&calls, 1)
		done <- struct{}{}
		return nil
	})

	ctx := context.Background()
	s.checkOneShot(ctx)
	<-done

	// Wait for MarkJobResult to land before polling again.
	deadline := time.After(time.Second)
	for {
		job, err := st.GetJobByName(ctx, "reminder-2")
		if err != nil {
			t.Fatalf("GetJobByName: %v", err)
		}
		if job != nil && job.Status == store.JobCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never marked completed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.checkOneShot(ctx)
	s.checkOneShot(ctx)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected handler to fire exactly once total, got %d", got)
	}
}
