package predem

import "github.com/bft-labs/predem/internal/domain"

// Errors returned by an Agent. Compare with errors.Is.
var (
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrNotConfigured   = domain.ErrNotConfigured
	ErrStoreClosed     = domain.ErrStoreClosed
	ErrStoreLocked     = domain.ErrStoreLocked
	ErrUnknownKind     = domain.ErrUnknownKind
)
