package domain

import "errors"

// Domain errors represent error conditions in the predem pipeline.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("predem: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("predem: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("predem: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("predem: invalid configuration")

	// ErrNotConfigured is returned by delivery when no service URL is set.
	ErrNotConfigured = errors.New("predem: delivery not configured")

	// ErrStoreClosed is returned by record store operations after Close.
	ErrStoreClosed = errors.New("predem: record store closed")

	// ErrStoreLocked is returned when another process holds the store directory.
	ErrStoreLocked = errors.New("predem: record store locked by another process")

	// ErrCorruptRecord is returned when a persisted record fails its integrity check.
	ErrCorruptRecord = errors.New("predem: corrupt record")

	// ErrUnknownRecord is returned when an operation names an id the store does not hold.
	ErrUnknownRecord = errors.New("predem: unknown record")

	// ErrInvalidTransition is returned when a record state change is not allowed.
	ErrInvalidTransition = errors.New("predem: invalid record state transition")

	// ErrEmptyPayload is returned when a record is appended without payload bytes.
	ErrEmptyPayload = errors.New("predem: empty payload")

	// ErrUnknownKind is returned for a record kind outside the defined set.
	ErrUnknownKind = errors.New("predem: unknown record kind")
)
