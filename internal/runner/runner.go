package runner

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
	"github.com/robfig/cron/v3"
)

// JobStore is the persistence the runner needs
type JobStore interface {
	ActiveJobLister
	JobReader
	RunWriter
}

// Config holds runner configuration
type Config struct {
	Logger         *slog.Logger
	Store          JobStore
	Publisher      RunPublisher // optional
	HTTPClient     *http.Client // optional
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Runner keeps cron triggers in sync with the job store and fires their HTTP calls
type Runner struct {
	logger     *slog.Logger
	engine     *cron.Cron
	executor   *Executor
	reconciler *Reconciler

	// execCtx is handed to executions; it is detached from shutdown so
	// in-flight calls finish on their own
	execCtx context.Context
	// inflight tracks dispatched executions
	inflight sync.WaitGroup
	stopOnce sync.Once
}

// NewRunner creates a new runner instance
func NewRunner(cfg *Config) *Runner {
	r := &Runner{
		logger:  cfg.Logger,
		engine:  cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		execCtx: context.Background(),
	}

	r.executor = NewExecutor(&ExecutorConfig{
		Logger:     cfg.Logger,
		Jobs:       cfg.Store,
		Runs:       cfg.Store,
		Publisher:  cfg.Publisher,
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.RequestTimeout,
	})

	r.reconciler = newReconciler(cfg.Logger, cfg.Store, r.buildTrigger, cfg.PollInterval)

	return r
}

// buildTrigger creates a trigger bound to this runner's engine, reusing the
// single-flight permit of the trigger it replaces
func (r *Runner) buildTrigger(job *domain.Job, previous *Trigger) (*Trigger, error) {
	cfg := triggerConfig{
		engine:  r.engine,
		ctx:     r.execCtx,
		execute: r.executor.Execute,
		wg:      &r.inflight,
		logger:  r.logger,
	}

	if previous != nil {
		return newTrigger(cfg, job, previous.guard)
	}
	return newTrigger(cfg, job, nil)
}

// Start runs the cron engine and the reconcile loop until ctx is canceled
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Starting cron runner",
		slog.Duration("poll_interval", r.reconciler.interval),
		slog.Duration("request_timeout", r.executor.timeout),
	)

	r.execCtx = context.WithoutCancel(ctx)
	r.engine.Start()

	err := r.reconciler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops all triggers and waits for in-flight executions to finish
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping cron runner...")

		r.reconciler.StopAll()
		<-r.engine.Stop().Done()
		r.inflight.Wait()

		r.logger.Info("Cron runner stopped")
	})
}

// Schedules returns the live triggers
func (r *Runner) Schedules() []ScheduleInfo {
	return r.reconciler.Snapshot()
}
