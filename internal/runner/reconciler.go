package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
)

const (
	// DefaultPollInterval is the pause between two reconciliation passes
	DefaultPollInterval = time.Second
	// MinPollInterval and MaxPollInterval bound the configurable poll interval
	MinPollInterval = 500 * time.Millisecond
	MaxPollInterval = 300 * time.Second
)

// ActiveJobLister lists the jobs that should have a live trigger
type ActiveJobLister interface {
	ListActiveJobs(ctx context.Context) ([]domain.Job, error)
}

// triggerFactory builds an unstarted trigger for a job, inheriting guard when
// replacing a previous trigger
type triggerFactory func(job *domain.Job, previous *Trigger) (*Trigger, error)

// trackedTrigger is a registry entry: the live trigger and the updated_at it was built from
type trackedTrigger struct {
	trigger     *Trigger
	fingerprint time.Time
}

// ScheduleInfo describes one live trigger
type ScheduleInfo struct {
	JobID       int64     `json:"job_id"`
	Expression  string    `json:"cron_expression"`
	Timezone    string    `json:"timezone"`
	Fingerprint time.Time `json:"fingerprint"`
	NextRun     time.Time `json:"next_run"`
}

// Reconciler converges live triggers with the active jobs in the store.
// The registry is written only by Reconcile, which is never run concurrently
// with itself; the lock makes it readable from other goroutines.
type Reconciler struct {
	logger   *slog.Logger
	jobs     ActiveJobLister
	build    triggerFactory
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	tracked map[int64]*trackedTrigger
	// stopped is set by StopAll; later passes leave the registry empty
	stopped bool

	// rejected remembers the updated_at of jobs whose schedule failed to parse,
	// so they are retried only after the row changes
	rejected map[int64]time.Time
}

// newReconciler creates a reconciler with an empty registry
func newReconciler(logger *slog.Logger, jobs ActiveJobLister, build triggerFactory, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Reconciler{
		logger:   logger,
		jobs:     jobs,
		build:    build,
		interval: interval,
		now:      time.Now,
		tracked:  make(map[int64]*trackedTrigger),
		rejected: make(map[int64]time.Time),
	}
}

// Run reconciles immediately, then again interval after each pass completes,
// until ctx is canceled
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Reconciler started",
		slog.Duration("poll_interval", r.interval),
	)

	r.reconcileAndLog(ctx)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped - context canceled")
			return ctx.Err()

		case <-timer.C:
			r.reconcileAndLog(ctx)
			// Measured from completion so passes never overlap.
			timer.Reset(r.interval)
		}
	}
}

func (r *Reconciler) reconcileAndLog(ctx context.Context) {
	if err := r.Reconcile(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("Sync failed",
			slog.String("error", err.Error()),
		)
	}
}

// Reconcile performs one poll and diff pass. On a failed poll the registry is
// left untouched.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	jobs, err := r.jobs.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to poll active jobs: %w", err)
	}

	active := make(map[int64]struct{}, len(jobs))
	for i := range jobs {
		active[jobs[i].ID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A pass that was polling when StopAll ran must not start anything
	if r.stopped {
		return nil
	}

	// Stop triggers of jobs that are no longer active
	for id, entry := range r.tracked {
		if _, ok := active[id]; !ok {
			entry.trigger.Stop()
			delete(r.tracked, id)
			r.logger.Debug("Cron stopped",
				slog.Int64("job_id", id),
			)
		}
	}
	for id := range r.rejected {
		if _, ok := active[id]; !ok {
			delete(r.rejected, id)
		}
	}

	// Start new triggers or replace changed ones
	for i := range jobs {
		job := &jobs[i]
		existing := r.tracked[job.ID]

		if existing != nil && existing.fingerprint.Equal(job.UpdatedAt) {
			continue
		}
		if fp, ok := r.rejected[job.ID]; ok && fp.Equal(job.UpdatedAt) {
			continue
		}

		var previous *Trigger
		if existing != nil {
			previous = existing.trigger
		}

		trigger, err := r.build(job, previous)
		if err != nil {
			r.reject(job, err)
			if existing != nil {
				existing.trigger.Stop()
				delete(r.tracked, job.ID)
			}
			continue
		}
		delete(r.rejected, job.ID)

		if existing != nil {
			existing.trigger.Stop()
			r.logger.Debug("Cron replaced (job updated)",
				slog.Int64("job_id", job.ID),
			)
		}

		trigger.Start()
		r.tracked[job.ID] = &trackedTrigger{
			trigger:     trigger,
			fingerprint: job.UpdatedAt,
		}

		r.logger.Debug("Cron started",
			slog.Int64("job_id", job.ID),
			slog.String("name", job.Name),
			slog.String("cron", job.CronExpression),
		)
	}

	return nil
}

// reject records a job whose trigger could not be built
func (r *Reconciler) reject(job *domain.Job, err error) {
	r.rejected[job.ID] = job.UpdatedAt

	r.logger.Error("Job schedule rejected, job stays unscheduled until it is edited",
		slog.Int64("job_id", job.ID),
		slog.String("name", job.Name),
		slog.String("cron", job.CronExpression),
		slog.String("timezone", job.Location()),
		slog.String("error", err.Error()),
	)
}

// StopAll stops every live trigger and clears the registry. It is final:
// no later Reconcile pass registers triggers again.
func (r *Reconciler) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true

	for id, entry := range r.tracked {
		entry.trigger.Stop()
		delete(r.tracked, id)
	}
}

// Snapshot returns the live triggers ordered by job id
func (r *Reconciler) Snapshot() []ScheduleInfo {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ScheduleInfo, 0, len(r.tracked))
	for id, entry := range r.tracked {
		infos = append(infos, ScheduleInfo{
			JobID:       id,
			Expression:  entry.trigger.expression,
			Timezone:    entry.trigger.timezone,
			Fingerprint: entry.fingerprint,
			NextRun:     entry.trigger.Next(now),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].JobID < infos[j].JobID
	})

	return infos
}

// trigger returns the live trigger for a job, if any
func (r *Reconciler) trigger(jobID int64) (*Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tracked[jobID]
	if !ok {
		return nil, false
	}
	return entry.trigger, true
}

// Len returns the number of live triggers
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracked)
}
