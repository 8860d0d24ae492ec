package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
	"github.com/google/uuid"
)

// EventTypeRunRecorded is published after a run row is inserted
const EventTypeRunRecorded = "job_run.recorded"

// MessagePublisher sends raw messages to a broker
type MessagePublisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// RunEvent is the message announcing a recorded run
type RunEvent struct {
	EventID        string           `json:"event_id"`
	EventType      string           `json:"event_type"`
	JobID          int64            `json:"job_id"`
	RunID          int64            `json:"run_id"`
	Status         domain.RunStatus `json:"status"`
	HTTPStatusCode *int             `json:"http_status_code,omitempty"`
	DurationMs     int64            `json:"duration_ms"`
	TriggeredAt    time.Time        `json:"triggered_at"`
	CompletedAt    time.Time        `json:"completed_at"`
}

// EventPublisher turns recorded runs into broker messages
type EventPublisher struct {
	publisher MessagePublisher
}

// NewEventPublisher creates a RunPublisher on top of a message publisher
func NewEventPublisher(publisher MessagePublisher) *EventPublisher {
	return &EventPublisher{publisher: publisher}
}

// PublishRunRecorded implements RunPublisher
func (p *EventPublisher) PublishRunRecorded(ctx context.Context, run *domain.JobRun) error {
	event := RunEvent{
		EventID:        uuid.NewString(),
		EventType:      EventTypeRunRecorded,
		JobID:          run.JobID,
		RunID:          run.ID,
		Status:         run.Status,
		HTTPStatusCode: run.HTTPStatusCode,
		DurationMs:     run.DurationMs,
		TriggeredAt:    run.TriggeredAt,
		CompletedAt:    run.CompletedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	if err := p.publisher.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	return nil
}
