package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/cron-runner/internal/runner/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessagePublisher struct {
	body        []byte
	contentType string
	err         error
}

func (p *fakeMessagePublisher) Publish(ctx context.Context, body []byte, contentType string) error {
	p.body = body
	p.contentType = contentType
	return p.err
}

func TestEventPublisher_PublishRunRecorded(t *testing.T) {
	broker := &fakeMessagePublisher{}
	code := 204
	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := &domain.JobRun{
		ID:             42,
		JobID:          7,
		TriggeredAt:    triggered,
		CompletedAt:    triggered.Add(150 * time.Millisecond),
		Status:         domain.RunStatusSuccess,
		HTTPStatusCode: &code,
		DurationMs:     150,
	}

	require.NoError(t, NewEventPublisher(broker).PublishRunRecorded(context.Background(), run))
	assert.Equal(t, "application/json", broker.contentType)

	var event RunEvent
	require.NoError(t, json.Unmarshal(broker.body, &event))

	_, err := uuid.Parse(event.EventID)
	assert.NoError(t, err)
	assert.Equal(t, EventTypeRunRecorded, event.EventType)
	assert.Equal(t, int64(7), event.JobID)
	assert.Equal(t, int64(42), event.RunID)
	assert.Equal(t, domain.RunStatusSuccess, event.Status)
	require.NotNil(t, event.HTTPStatusCode)
	assert.Equal(t, 204, *event.HTTPStatusCode)
	assert.Equal(t, int64(150), event.DurationMs)
	assert.True(t, triggered.Equal(event.TriggeredAt))
}

func TestEventPublisher_OmitsMissingStatusCode(t *testing.T) {
	broker := &fakeMessagePublisher{}
	run := &domain.JobRun{ID: 1, JobID: 1, Status: domain.RunStatusTimeout, DurationMs: 30_000}

	require.NoError(t, NewEventPublisher(broker).PublishRunRecorded(context.Background(), run))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(broker.body, &raw))
	assert.NotContains(t, raw, "http_status_code")
	assert.Equal(t, "timeout", raw["status"])
}

func TestEventPublisher_WrapsBrokerError(t *testing.T) {
	brokerErr := errors.New("channel closed")
	broker := &fakeMessagePublisher{err: brokerErr}

	err := NewEventPublisher(broker).PublishRunRecorded(context.Background(), &domain.JobRun{ID: 1, JobID: 1})
	assert.ErrorIs(t, err, brokerErr)
	assert.Contains(t, err.Error(), "failed to publish run event")
}

func TestEventPublisher_DistinctEventIDs(t *testing.T) {
	broker := &fakeMessagePublisher{}
	publisher := NewEventPublisher(broker)
	run := &domain.JobRun{ID: 1, JobID: 1}

	ids := map[string]struct{}{}
	for range 5 {
		require.NoError(t, publisher.PublishRunRecorded(context.Background(), run))
		var event RunEvent
		require.NoError(t, json.Unmarshal(broker.body, &event))
		ids[event.EventID] = struct{}{}
	}
	assert.Len(t, ids, 5)
}
