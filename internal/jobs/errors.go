package jobs

import "errors"

var (
	// ErrInvalidInput is returned for malformed submissions and page requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidState is returned when an operation is not allowed in the job's current state.
	ErrInvalidState = errors.New("invalid job state")
	// ErrShuttingDown is returned by Submit once Shutdown has begun.
	ErrShuttingDown = errors.New("service is shutting down")

	errJobTerminal = errors.New("job is terminal")
)

// Failure reasons recorded on failed jobs.
const (
	ReasonCancelled           = "cancelled by request"
	ReasonShutdown            = "cancelled: service shutting down"
	reasonExecutorUnavailable = "executor unavailable"
)
