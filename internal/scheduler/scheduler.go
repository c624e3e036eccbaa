// Package scheduler fires cron and one-shot ScheduledJob rows (spec.md
// §4.6): cron jobs run on a hardloop.Cron runner rebuilt on every change,
// one-shot jobs are polled from a persisted due-time column. Firing is
// crash-safe: MarkJobFiring durably records the attempt before the handler
// runs, MarkJobResult records the outcome and the next due instant.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/worldline-go/hardloop"

	"github.com/giquina/clawd-bot/internal/cluster"
	"github.com/giquina/clawd-bot/internal/store"
)

// Handler executes one firing of a ScheduledJob. Returning an error marks
// the firing as JobFailed but never stops the scheduler loop.
type Handler func(ctx context.Context, job store.ScheduledJob) error

// cronRunner is satisfied by hardloop's unexported cron job type.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Scheduler dispatches due jobs to registered Handlers, bounded by a worker
// pool and single-flighted per job name so a slow handler can't pile up
// concurrent firings of the same job.
type Scheduler struct {
	storer   store.ScheduledJobStorer
	cluster  *cluster.Cluster
	timezone string
	poolSize int

	pollInterval time.Duration

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	sem chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]bool

	mu     sync.Mutex
	cron   cronRunner
	cancel context.CancelFunc
	ctx    context.Context
}

func New(storer store.ScheduledJobStorer, cl *cluster.Cluster, timezone string, poolSize int) *Scheduler {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &Scheduler{
		storer:       storer,
		cluster:      cl,
		timezone:     timezone,
		poolSize:     poolSize,
		pollInterval: 15 * time.Second,
		handlers:     make(map[string]Handler),
		sem:          make(chan struct{}, poolSize),
		inflight:     make(map[string]bool),
	}
}

// RegisterHandler binds a handler name (ScheduledJob.Handler) to a Handler
// func. Skills register their handlers here during Registry.Initialize.
func (s *Scheduler) RegisterHandler(name string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[name] = h
}

// Start loads pending jobs and begins dispatch. If a Cluster is configured,
// only the elected leader runs jobs; followers stay idle until they acquire
// the scheduler lock.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.cluster != nil {
		go s.runLockLoop(ctx)
		return nil
	}

	return s.reload()
}

func (s *Scheduler) runLockLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.cluster.LockScheduler(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("scheduler: failed to acquire leader lock, retrying", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		slog.Info("scheduler: acquired leader lock")
		s.mu.Lock()
		if err := s.reload(); err != nil {
			slog.Error("scheduler: failed to start", "error", err)
		}
		s.mu.Unlock()

		<-ctx.Done()

		s.Stop()
		_ = s.cluster.UnlockScheduler()
		return
	}
}

// Reload rebuilds the cron runner from the current set of enabled jobs.
// Call after UpsertJob/DeleteJob changes a CronSpec job.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// reload must be called with s.mu held.
func (s *Scheduler) reload() error {
	s.stopLocked()

	if s.ctx == nil {
		return nil
	}

	jobs, err := s.storer.PendingJobs(s.ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load pending jobs: %w", err)
	}

	var crons []hardloop.Cron
	for _, j := range jobs {
		if j.CronSpec == "" || !j.Enabled {
			continue
		}
		job := j
		spec := job.CronSpec
		if s.timezone != "" {
			spec = "CRON_TZ=" + s.timezone + " " + spec
		}
		if _, err := cron.ParseStandard(job.CronSpec); err != nil {
			slog.Warn("scheduler: invalid cron spec, skipping", "job", job.Name, "spec", job.CronSpec, "error", err)
			continue
		}
		crons = append(crons, hardloop.Cron{
			Name:  "job-" + job.Name,
			Specs: []string{spec},
			Func: func(ctx context.Context) error {
				s.dispatch(ctx, job)
				return nil
			},
		})
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel

	if len(crons) > 0 {
		cronJob, err := hardloop.NewCron(crons...)
		if err != nil {
			cancel()
			return fmt.Errorf("scheduler: create cron runner: %w", err)
		}
		if err := cronJob.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("scheduler: start cron runner: %w", err)
		}
		s.cron = cronJob
	}

	go s.pollOneShot(ctx)

	slog.Info("scheduler: started", "cron_jobs", len(crons))
	return nil
}

// pollOneShot periodically scans for due one-shot jobs (FireAt in the past,
// Status pending) and dispatches them. Polling (rather than a per-job timer)
// keeps restart semantics simple: any job due while the process was down
// fires on the next poll tick.
func (s *Scheduler) pollOneShot(ctx context.Context) {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	s.checkOneShot(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.checkOneShot(ctx)
		}
	}
}

func (s *Scheduler) checkOneShot(ctx context.Context) {
	jobs, err := s.storer.PendingJobs(ctx)
	if err != nil {
		slog.Error("scheduler: poll pending jobs failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, j := range jobs {
		if !j.FireAt.Valid || !j.Enabled || j.Status != store.JobPending {
			continue
		}
		if j.FireAt.V.Time.After(now) {
			continue
		}
		s.dispatch(ctx, j)
	}
}

// dispatch marks the job firing, runs its handler under the worker pool with
// single-flight protection, and records the result. Jobs with unregistered
// handlers are marked failed immediately so they don't spin forever.
func (s *Scheduler) dispatch(ctx context.Context, job store.ScheduledJob) {
	s.inflightMu.Lock()
	if s.inflight[job.Name] {
		s.inflightMu.Unlock()
		return
	}
	s.inflight[job.Name] = true
	s.inflightMu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.inflightMu.Lock()
		delete(s.inflight, job.Name)
		s.inflightMu.Unlock()
		return
	}

	go func() {
		defer func() {
			<-s.sem
			s.inflightMu.Lock()
			delete(s.inflight, job.Name)
			s.inflightMu.Unlock()
		}()

		if err := s.storer.MarkJobFiring(ctx, job.Name); err != nil {
			slog.Error("scheduler: mark firing failed", "job", job.Name, "error", err)
			return
		}

		s.handlersMu.RLock()
		h, ok := s.handlers[job.Handler]
		s.handlersMu.RUnlock()

		status := store.JobCompleted
		var nextRun *time.Time
		if !ok {
			slog.Error("scheduler: no handler registered", "job", job.Name, "handler", job.Handler)
			status = store.JobFailed
		} else if err := h(ctx, job); err != nil {
			slog.Error("scheduler: handler failed", "job", job.Name, "error", err)
			status = store.JobFailed
		}

		if job.CronSpec != "" && status != store.JobFailed {
			spec := job.CronSpec
			if s.timezone != "" {
				spec = "CRON_TZ=" + s.timezone + " " + spec
			}
			if sched, err := cron.ParseStandard(spec); err == nil {
				t := sched.Next(time.Now().UTC())
				nextRun = &t
				status = store.JobPending
			}
		}

		if err := s.storer.MarkJobResult(ctx, job.Name, status, nextRun); err != nil {
			slog.Error("scheduler: mark result failed", "job", job.Name, "error", err)
		}
	}()
}
