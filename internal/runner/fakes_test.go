package runner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore is an in-memory JobStore
type memoryStore struct {
	mu        sync.Mutex
	jobs      map[int64]domain.Job
	runs      []domain.JobRun
	listErr   error
	insertErr error
	listCalls int
	nextRunID int64
}

func newMemoryStore(jobs ...domain.Job) *memoryStore {
	s := &memoryStore{jobs: make(map[int64]domain.Job)}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *memoryStore) ListActiveJobs(ctx context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}

	var active []domain.Job
	for _, job := range s.jobs {
		if job.IsActive {
			active = append(active, job)
		}
	}
	return active, nil
}

func (s *memoryStore) GetJob(ctx context.Context, jobID int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *memoryStore) InsertRun(ctx context.Context, run *domain.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	s.nextRunID++
	run.ID = s.nextRunID
	s.runs = append(s.runs, *run)
	return nil
}

func (s *memoryStore) put(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *memoryStore) remove(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

func (s *memoryStore) setListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

func (s *memoryStore) recordedRuns() []domain.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobRun(nil), s.runs...)
}

func (s *memoryStore) polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func testJob(id int64, cronExpr string, updatedAt time.Time) domain.Job {
	return domain.Job{
		ID:             id,
		Name:           "job",
		Endpoint:       "http://127.0.0.1:1/unused",
		Method:         domain.MethodGet,
		Headers:        domain.Headers{},
		CronExpression: cronExpr,
		Timezone:       "UTC",
		IsActive:       true,
		UpdatedAt:      updatedAt,
	}
}
