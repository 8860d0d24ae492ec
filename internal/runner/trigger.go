package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

// cronParser accepts exactly six fields: second minute hour dom month dow.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// executeFunc runs one execution for a job id
type executeFunc func(ctx context.Context, jobID int64)

// ParseSchedule builds the cron schedule of a job in its timezone
func ParseSchedule(expression, timezone string) (cron.Schedule, error) {
	if timezone == "" {
		timezone = domain.DefaultTimezone
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidTimezone, timezone, err)
	}

	schedule, err := cronParser.Parse(normalizeDayOfWeek(expression))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidCronExpression, expression, err)
	}

	// The parser leaves the location at time.Local unless a TZ prefix is given.
	if s, ok := schedule.(*cron.SpecSchedule); ok {
		s.Location = loc
	}

	return schedule, nil
}

// normalizeDayOfWeek rewrites Sunday written as 7 to 0 in the day-of-week
// field; the parser only accepts 0-6.
func normalizeDayOfWeek(expression string) string {
	fields := strings.Fields(expression)
	if len(fields) != 6 {
		return expression
	}

	items := strings.Split(fields[5], ",")
	out := make([]string, 0, len(items)+1)
	for _, item := range items {
		rng, step, hasStep := strings.Cut(item, "/")

		if rng == "7" && !hasStep {
			out = append(out, "0")
			continue
		}

		lo, ok := strings.CutSuffix(rng, "-7")
		if !ok {
			out = append(out, item)
			continue
		}
		if lo == "7" {
			out = append(out, "0")
			continue
		}

		if !hasStep {
			out = append(out, lo+"-6", "0")
			continue
		}

		out = append(out, lo+"-6/"+step)
		// Keep Sunday when the step lands on 7
		start, errLo := strconv.Atoi(lo)
		n, errStep := strconv.Atoi(step)
		if errLo == nil && errStep == nil && n > 0 && (7-start)%n == 0 {
			out = append(out, "0")
		}
	}

	fields[5] = strings.Join(out, ",")
	return strings.Join(fields, " ")
}

// Trigger fires executions of one job on its cron schedule. It never lets two
// executions of the same job overlap: a firing that finds the previous one
// still running is dropped.
type Trigger struct {
	jobID      int64
	expression string
	timezone   string
	schedule   cron.Schedule

	// guard is a single permit shared with any trigger that replaces this one
	guard *semaphore.Weighted

	engine  *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	execute executeFunc
	wg      *sync.WaitGroup
	logger  *slog.Logger
}

// triggerConfig holds what a trigger needs besides the job row
type triggerConfig struct {
	engine  *cron.Cron
	ctx     context.Context
	execute executeFunc
	wg      *sync.WaitGroup
	logger  *slog.Logger
}

// newTrigger parses the job schedule and builds an unstarted trigger.
// A nil guard allocates a fresh permit.
func newTrigger(cfg triggerConfig, job *domain.Job, guard *semaphore.Weighted) (*Trigger, error) {
	schedule, err := ParseSchedule(job.CronExpression, job.Timezone)
	if err != nil {
		return nil, domain.NewConfigError(job.ID, err)
	}

	if guard == nil {
		guard = semaphore.NewWeighted(1)
	}

	return &Trigger{
		jobID:      job.ID,
		expression: job.CronExpression,
		timezone:   job.Location(),
		schedule:   schedule,
		guard:      guard,
		engine:     cfg.engine,
		ctx:        cfg.ctx,
		execute:    cfg.execute,
		wg:         cfg.wg,
		logger:     cfg.logger,
	}, nil
}

// Start registers the trigger with the cron engine
func (t *Trigger) Start() {
	t.entryID = t.engine.Schedule(t.schedule, t)

	t.logger.Debug("Trigger started",
		slog.Int64("job_id", t.jobID),
		slog.String("cron", t.expression),
		slog.String("timezone", t.timezone),
	)
}

// Stop cancels future firings. An execution already dispatched keeps running.
func (t *Trigger) Stop() {
	t.engine.Remove(t.entryID)

	t.logger.Debug("Trigger stopped",
		slog.Int64("job_id", t.jobID),
	)
}

// Run is invoked by the cron engine on every due instant
func (t *Trigger) Run() {
	t.fire()
}

// fire dispatches an execution unless one is still outstanding for this job.
// It reports whether an execution was started.
func (t *Trigger) fire() bool {
	if !t.guard.TryAcquire(1) {
		t.logger.Debug("Previous execution still running, skipping firing",
			slog.Int64("job_id", t.jobID),
		)
		return false
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.guard.Release(1)
		t.execute(t.ctx, t.jobID)
	}()

	return true
}

// Next returns the first due instant after from
func (t *Trigger) Next(from time.Time) time.Time {
	return t.schedule.Next(from)
}

// Expression returns the cron expression the trigger was built from
func (t *Trigger) Expression() string {
	return t.expression
}
