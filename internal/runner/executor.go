package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
)

// DefaultRequestTimeout bounds one outbound HTTP call
const DefaultRequestTimeout = 30 * time.Second

// JobReader reads a single job row
type JobReader interface {
	GetJob(ctx context.Context, jobID int64) (*domain.Job, error)
}

// RunWriter appends run records
type RunWriter interface {
	InsertRun(ctx context.Context, run *domain.JobRun) error
}

// RunPublisher announces recorded runs to interested consumers
type RunPublisher interface {
	PublishRunRecorded(ctx context.Context, run *domain.JobRun) error
}

// ExecutorConfig holds executor dependencies
type ExecutorConfig struct {
	Logger     *slog.Logger
	Jobs       JobReader
	Runs       RunWriter
	Publisher  RunPublisher // optional
	HTTPClient *http.Client // optional
	Timeout    time.Duration
}

// Executor performs one HTTP call for a job and records its outcome
type Executor struct {
	logger    *slog.Logger
	jobs      JobReader
	runs      RunWriter
	publisher RunPublisher
	client    *http.Client
	timeout   time.Duration
	now       func() time.Time
}

// NewExecutor creates a new executor instance
func NewExecutor(cfg *ExecutorConfig) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Executor{
		logger:    cfg.Logger,
		jobs:      cfg.Jobs,
		runs:      cfg.Runs,
		publisher: cfg.Publisher,
		client:    client,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Execute re-reads the job, performs its HTTP call and records exactly one run.
// Failures are logged, never returned.
func (e *Executor) Execute(ctx context.Context, jobID int64) {
	// Re-fetch the row so edits made since the trigger was built are honored.
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			e.logger.Debug("Job deleted, skipping execution",
				slog.Int64("job_id", jobID),
			)
			return
		}
		e.logger.Error("Failed to load job for execution",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	run := e.call(ctx, job)
	e.record(ctx, job, run)
}

// call performs the HTTP request and classifies its outcome
func (e *Executor) call(ctx context.Context, job *domain.Job) *domain.JobRun {
	run := &domain.JobRun{
		JobID:       job.ID,
		TriggeredAt: e.now(),
		Status:      domain.RunStatusFailure,
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, body, err := e.do(reqCtx, job)
	run.DurationMs = durationMillis(time.Since(start))

	if err != nil {
		timedOut := isTimeout(err)
		if timedOut {
			run.Status = domain.RunStatusTimeout
		}
		msg := err.Error()
		run.ErrorMessage = &msg

		e.logger.Error("Job failed",
			slog.Int64("job_id", job.ID),
			slog.String("name", job.Name),
			slog.String("url", job.Endpoint),
			slog.Bool("timeout", timedOut),
			slog.String("error", msg),
		)
		return run
	}

	code := resp.StatusCode
	run.HTTPStatusCode = &code
	if code < http.StatusBadRequest {
		run.Status = domain.RunStatusSuccess
	}

	truncated := truncateBody(body)
	run.ResponseBody = &truncated

	if headers, err := flattenHeaders(resp.Header); err == nil {
		run.ResponseHeaders = &headers
	} else {
		e.logger.Warn("Failed to serialize response headers",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("Job executed",
		slog.Int64("job_id", job.ID),
		slog.String("name", job.Name),
		slog.String("url", job.Endpoint),
		slog.String("method", job.Method),
		slog.Int("status_code", code),
		slog.Int64("duration_ms", run.DurationMs),
		slog.Bool("success", run.Status == domain.RunStatusSuccess),
	)

	return run
}

// do sends the request and reads the whole response body
func (e *Executor) do(ctx context.Context, job *domain.Job) (*http.Response, string, error) {
	var reqBody io.Reader
	if job.Body != nil {
		reqBody = strings.NewReader(*job.Body)
	}

	req, err := http.NewRequestWithContext(ctx, job.Method, job.Endpoint, reqBody)
	if err != nil {
		return nil, "", err
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range job.Headers {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	return resp, toText(data), nil
}

// toText decodes a response body as text: invalid UTF-8 sequences become
// U+FFFD and NUL bytes are dropped, since a Postgres text column accepts neither
func toText(data []byte) string {
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	return strings.ReplaceAll(text, "\x00", "")
}

// record inserts the run once; a deleted parent job is not an error
func (e *Executor) record(ctx context.Context, job *domain.Job, run *domain.JobRun) {
	run.CompletedAt = e.now()

	if err := e.runs.InsertRun(ctx, run); err != nil {
		if errors.Is(err, domain.ErrParentJobMissing) {
			e.logger.Debug("Job deleted before run could be recorded, discarding",
				slog.Int64("job_id", job.ID),
			)
			return
		}
		e.logger.Error("Failed to record job run",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if e.publisher == nil {
		return
	}

	if err := e.publisher.PublishRunRecorded(ctx, run); err != nil {
		e.logger.Warn("Failed to publish run event",
			slog.Int64("job_id", job.ID),
			slog.Int64("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}

// isTimeout reports whether err comes from the request deadline
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// truncateBody keeps the first MaxResponseBodyLength characters
func truncateBody(body string) string {
	if utf8.RuneCountInString(body) <= domain.MaxResponseBodyLength {
		return body
	}

	n := 0
	for i := range body {
		if n == domain.MaxResponseBodyLength {
			return body[:i] + domain.TruncationMarker
		}
		n++
	}
	return body
}

// flattenHeaders serializes headers as lower-case name to first value
func flattenHeaders(header http.Header) (string, error) {
	flat := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		flat[strings.ToLower(name)] = values[0]
	}

	data, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// durationMillis rounds up to whole milliseconds so any completed call is at least 1ms
func durationMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}
