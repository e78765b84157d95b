package predem

import (
	"time"

	"github.com/bft-labs/predem/internal/domain"
)

// State is the lifecycle state of an Agent.
type State int

const (
	// StateStopped is the initial state and the state after a graceful Stop.
	StateStopped State = iota
	// StateStarting means plugins are being initialized.
	StateStarting
	// StateRunning means the delivery loop is active.
	StateRunning
	// StateStopping means Stop was called and workers are draining.
	StateStopping
	// StateCrashed means startup or shutdown failed.
	StateCrashed
	// StateCaptureOnly means the delivery loop runs without a service URL;
	// records are kept for a later, configured run.
	StateCaptureOnly
	// StateBackingOff means the last delivery cycle failed and the next one
	// waits out the backoff.
	StateBackingOff
	// StateClosed means Close was called. It is terminal.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	case StateCaptureOnly:
		return "CaptureOnly"
	case StateBackingOff:
		return "BackingOff"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanStart reports whether Start may be called in this state.
func (s State) CanStart() bool {
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether Stop may be called in this state.
func (s State) CanStop() bool {
	return s == StateStarting || s.IsRunning()
}

// IsRunning reports whether the delivery loop is active, whether or not it
// currently delivers.
func (s State) IsRunning() bool {
	return s == StateRunning || s == StateCaptureOnly || s == StateBackingOff
}

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// SendSuccessEvent is emitted when the service acknowledged at least one
// record of a batch.
type SendSuccessEvent struct {
	Records   int
	BytesSent int
	Duration  time.Duration
}

// SendErrorEvent is emitted when a delivery request failed as a whole.
type SendErrorEvent struct {
	Error     error
	Records   int
	Retryable bool
}

// RecordAbandonedEvent is emitted when a record reached the retry ceiling
// and was dropped.
type RecordAbandonedEvent struct {
	ID        RecordID
	Kind      Kind
	Attempts  int
	CreatedAt time.Time
	Reason    AbandonReason
}

// AbandonReason says why a record was dropped undelivered.
type AbandonReason string

const (
	// AbandonRetryCeiling: delivery failed RetryCeiling times.
	AbandonRetryCeiling AbandonReason = "retry_ceiling"
	// AbandonRetention: retention evicted the record to bound disk use.
	AbandonRetention AbandonReason = "retention"
)

// CrashCapturedEvent is emitted after a crash report was persisted, just
// before the process terminates. Handlers must not block.
type CrashCapturedEvent struct {
	ID     RecordID
	Source string
	Reason string
	Signal string
}

// EventHandler receives pipeline notifications. Methods are called
// synchronously from the goroutine that produced the event and should
// return quickly. Embed BaseEventHandler to implement only some of them.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnSendSuccess(SendSuccessEvent)
	OnSendError(SendErrorEvent)
	OnRecordAbandoned(RecordAbandonedEvent)
	OnCrashCaptured(CrashCapturedEvent)
}

// BaseEventHandler implements EventHandler with no-ops.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)         {}
func (BaseEventHandler) OnSendSuccess(SendSuccessEvent)         {}
func (BaseEventHandler) OnSendError(SendErrorEvent)             {}
func (BaseEventHandler) OnRecordAbandoned(RecordAbandonedEvent) {}
func (BaseEventHandler) OnCrashCaptured(CrashCapturedEvent)     {}

var _ EventHandler = BaseEventHandler{}

// abandonedEvent converts a store record to its event form.
func abandonedEvent(rec domain.Record, reason AbandonReason) RecordAbandonedEvent {
	return RecordAbandonedEvent{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Attempts:  rec.Attempts,
		CreatedAt: rec.CreatedAt,
		Reason:    reason,
	}
}
