package ports

import (
	"context"
	"os"

	"github.com/bft-labs/predem/internal/domain"
)

// RecordStore persists records and their delivery state.
//
// Append returns only after the record is durable: a crash or power loss
// after a successful Append cannot lose it. Every state change is atomic per
// call. Implementations are safe for concurrent use.
type RecordStore interface {
	// Append persists a new Pending record and returns its id.
	Append(ctx context.Context, kind domain.Kind, sessionID string, payload []byte) (domain.RecordID, error)

	// ListPending returns up to limit Pending records, oldest first.
	// A limit <= 0 returns all of them.
	ListPending(ctx context.Context, limit int) ([]domain.Record, error)

	// ClaimPending lists up to limit Pending records whose payloads sum to at
	// most maxBytes (at least one record is returned if any is pending) and
	// marks them InFlight in the same step.
	ClaimPending(ctx context.Context, limit, maxBytes int) ([]domain.Record, error)

	// MarkInFlight moves Pending records to InFlight. It fails without
	// changing anything if any id is not Pending.
	MarkInFlight(ctx context.Context, ids []domain.RecordID) error

	// MarkDelivered moves InFlight records to Delivered.
	MarkDelivered(ctx context.Context, ids []domain.RecordID) error

	// MarkFailed increments the attempt count of InFlight records and moves
	// each back to Pending, or to Abandoned once it reaches the retry
	// ceiling. It returns the ids that were abandoned.
	MarkFailed(ctx context.Context, ids []domain.RecordID) ([]domain.RecordID, error)

	// Release moves InFlight records back to Pending without counting an
	// attempt.
	Release(ctx context.Context, ids []domain.RecordID) error

	// Remove deletes Delivered or Abandoned records.
	Remove(ctx context.Context, ids []domain.RecordID) error
}

// StoreStats summarizes store contents.
type StoreStats struct {
	Pending   int
	InFlight  int
	Delivered int
	Abandoned int
	Bytes     int64
}

// CrashSlot is storage reserved ahead of time for one crash report. Writing
// to it needs no allocation and no lock.
type CrashSlot interface {
	// ID is the record id the report will carry.
	ID() domain.RecordID
	// Handler receives the report written by the crash handler.
	Handler() *os.File
	// Runtime receives the Go runtime's own fatal error output.
	Runtime() *os.File
	// Release closes the slot files. Empty slots are discarded at next open.
	Release() error
}

// SlotReserver pre-reserves crash slots.
type SlotReserver interface {
	ReserveSlot() (CrashSlot, error)
}
