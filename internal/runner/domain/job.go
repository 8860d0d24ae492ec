package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Job is a recurring HTTP call definition as stored in the jobs table
type Job struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	Endpoint       string    `db:"endpoint"`
	Method         string    `db:"method"`
	Headers        Headers   `db:"headers"`
	Body           *string   `db:"body"`
	CronExpression string    `db:"cron_expression"`
	Timezone       string    `db:"timezone"`
	IsActive       bool      `db:"is_active"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Location returns the job's timezone name, falling back to UTC
func (j *Job) Location() string {
	if j.Timezone == "" {
		return DefaultTimezone
	}
	return j.Timezone
}

// Headers is the jsonb header map of a job
type Headers map[string]string

// Scan implements sql.Scanner for jsonb columns
func (h *Headers) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*h = Headers{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported headers type %T", src)
	}

	headers := Headers{}
	if err := json.Unmarshal(data, &headers); err != nil {
		return fmt.Errorf("failed to decode headers: %w", err)
	}
	*h = headers
	return nil
}

// Value implements driver.Valuer
func (h Headers) Value() (driver.Value, error) {
	if h == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(h))
}

// JobRun is one recorded execution of a job
type JobRun struct {
	ID              int64     `db:"id"`
	JobID           int64     `db:"job_id"`
	TriggeredAt     time.Time `db:"triggered_at"`
	CompletedAt     time.Time `db:"completed_at"`
	Status          RunStatus `db:"status"`
	HTTPStatusCode  *int      `db:"http_status_code"`
	ResponseBody    *string   `db:"response_body"`
	ResponseHeaders *string   `db:"response_headers"`
	ErrorMessage    *string   `db:"error_message"`
	DurationMs      int64     `db:"duration_ms"`
}
