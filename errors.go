package conductor

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("conductor: no store configured")
	ErrStoreClosed = errors.New("conductor: store closed")
	// ErrStore marks a transient persistence failure (connection, timeout).
	// Backends wrap driver errors with it so callers can errors.Is them.
	ErrStore           = errors.New("conductor: store error")
	ErrMigrationFailed = errors.New("conductor: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("conductor: job not found")
	ErrAgentNotFound = errors.New("conductor: agent not found")
	ErrDLQNotFound   = errors.New("conductor: dead letter entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conductor: job already exists")

	// Authorization errors.
	ErrUnauthorized = errors.New("conductor: actor is not authorized for this job")

	// State errors.
	ErrNotCancellable = errors.New("conductor: job is not cancellable")
	ErrInvalidState   = errors.New("conductor: invalid state transition")

	// Input errors.
	ErrInvalidInput = errors.New("conductor: invalid input")

	// ErrWaitTimeout is returned by WaitForCompletion when its deadline
	// passes before the job reaches a terminal state.
	ErrWaitTimeout = errors.New("conductor: timed out waiting for job")
)
