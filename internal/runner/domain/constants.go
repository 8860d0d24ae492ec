package domain

// RunStatus is the outcome recorded for a single execution
type RunStatus string

// Run status constants
const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
	RunStatusTimeout RunStatus = "timeout"
)

// HTTP methods a job may use
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

const (
	// DefaultTimezone is used when a job row carries no timezone
	DefaultTimezone = "UTC"

	// MaxResponseBodyLength is the number of characters of a response body kept on a run
	MaxResponseBodyLength = 10_000

	// TruncationMarker is appended to response bodies cut at MaxResponseBodyLength
	TruncationMarker = "\n[truncated]"
)
