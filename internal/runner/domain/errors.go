package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job row no longer exists
	ErrJobNotFound = errors.New("job not found")

	// ErrParentJobMissing is returned when a run cannot be inserted because its job was deleted
	ErrParentJobMissing = errors.New("parent job missing")

	// ErrInvalidCronExpression is returned when a cron expression cannot be parsed
	ErrInvalidCronExpression = errors.New("invalid cron expression")

	// ErrInvalidTimezone is returned when a timezone is not a known IANA name
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// ConfigError reports a job whose schedule cannot be turned into a trigger.
// It wraps ErrInvalidCronExpression or ErrInvalidTimezone.
type ConfigError struct {
	JobID int64
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("job %d: %s", e.JobID, e.Err.Error())
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error for a job
func NewConfigError(jobID int64, err error) error {
	return &ConfigError{JobID: jobID, Err: err}
}
