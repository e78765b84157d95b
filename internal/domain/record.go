package domain

import (
	"fmt"
	"strconv"
	"time"
)

// RecordID identifies a record. IDs are time-ordered, strictly increasing in
// append order within one store, and never reused.
type RecordID int64

// String returns the decimal form of the id.
func (id RecordID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseRecordID parses the decimal form produced by RecordID.String.
func ParseRecordID(s string) (RecordID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse record id %q: %w", s, err)
	}
	return RecordID(n), nil
}

// Kind classifies the payload of a record.
type Kind uint8

const (
	KindCrashReport Kind = iota + 1
	KindSessionEvent
	KindUserEvent
	KindNetworkEvent
)

// Kinds lists every defined kind in declaration order.
var Kinds = []Kind{KindCrashReport, KindSessionEvent, KindUserEvent, KindNetworkEvent}

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCrashReport:
		return "crash_report"
	case KindSessionEvent:
		return "session_event"
	case KindUserEvent:
		return "user_event"
	case KindNetworkEvent:
		return "network_event"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindCrashReport && k <= KindNetworkEvent
}

// ParseKind parses the wire name of a kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText encodes the kind as its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a wire name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// State is the delivery state of a record.
type State uint8

const (
	StatePending State = iota
	StateInFlight
	StateDelivered
	StateAbandoned
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInFlight:
		return "InFlight"
	case StateDelivered:
		return "Delivered"
	case StateAbandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateAbandoned
}

// CanTransition reports whether a record may move from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateInFlight
	case StateInFlight:
		return next == StatePending || next == StateDelivered || next == StateAbandoned
	default:
		return false
	}
}

// Record is one durable unit of captured data.
// Payload bytes are immutable once the record is persisted.
type Record struct {
	ID        RecordID
	Kind      Kind
	Payload   []byte
	CreatedAt time.Time
	SessionID string
	Attempts  int
	State     State
}

// Size returns the number of payload bytes.
func (r Record) Size() int {
	return len(r.Payload)
}

// FailAttempt records one failed delivery attempt and returns the resulting
// state: Abandoned once attempts reaches ceiling, Pending otherwise.
// A ceiling <= 0 never abandons.
func (r *Record) FailAttempt(ceiling int) State {
	r.Attempts++
	if ceiling > 0 && r.Attempts >= ceiling {
		r.State = StateAbandoned
	} else {
		r.State = StatePending
	}
	return r.State
}
