package domain

import "time"

// Session is a bounded period of host activity. Telemetry recorded while a
// session is open carries its ID.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Open reports whether the session has not ended.
func (s Session) Open() bool {
	return s.ID != "" && s.EndedAt.IsZero()
}

// SessionPhase distinguishes session start from session end events.
type SessionPhase string

const (
	SessionStarted SessionPhase = "start"
	SessionEnded   SessionPhase = "end"
)

// SessionEvent is the payload of a KindSessionEvent record.
type SessionEvent struct {
	SessionID string        `json:"session_id"`
	Phase     SessionPhase  `json:"phase"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

// User identifies the person or account behind the host application.
type User struct {
	AccountID         string    `json:"account_id,omitempty"`
	UserID            string    `json:"user_id,omitempty"`
	AuthUserID        string    `json:"auth_user_id,omitempty"`
	AuthUserName      string    `json:"auth_user_name,omitempty"`
	StoreRegion       string    `json:"store_region,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	FirstAcquiredAt   time.Time `json:"first_acquired_at,omitzero"`
	AccountAcquiredAt time.Time `json:"account_acquired_at,omitzero"`
}

// Equal reports whether two users carry the same identity.
func (u User) Equal(other User) bool {
	return u.AccountID == other.AccountID &&
		u.UserID == other.UserID &&
		u.AuthUserID == other.AuthUserID &&
		u.AuthUserName == other.AuthUserName &&
		u.StoreRegion == other.StoreRegion &&
		u.UserAgent == other.UserAgent &&
		u.FirstAcquiredAt.Equal(other.FirstAcquiredAt) &&
		u.AccountAcquiredAt.Equal(other.AccountAcquiredAt)
}

// Empty reports whether no identity field is set.
func (u User) Empty() bool {
	return u.Equal(User{})
}

// UserEvent is the payload of a KindUserEvent record.
type UserEvent struct {
	User      User      `json:"user"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// NetworkEvent is the payload of a KindNetworkEvent record: one observed
// HTTP exchange made by the host application.
type NetworkEvent struct {
	Method        string        `json:"method"`
	URL           string        `json:"url"`
	Host          string        `json:"host"`
	StatusCode    int           `json:"status_code,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	BytesSent     int64         `json:"bytes_sent"`
	BytesReceived int64         `json:"bytes_received"`
	Error         string        `json:"error,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
}

// CrashReport is the payload of a KindCrashReport record.
type CrashReport struct {
	Reason       string    `json:"reason"`
	Signal       string    `json:"signal,omitempty"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
	InstallID    string    `json:"install_id"`
	Trace        string    `json:"trace"`
	RuntimeTrace string    `json:"runtime_trace,omitempty"`
	Marker       string    `json:"marker,omitempty"`
	GoVersion    string    `json:"go_version,omitempty"`
	OSArch       string    `json:"os_arch,omitempty"`
}

// Crash sources.
const (
	CrashSourcePanic   = "panic"
	CrashSourceSignal  = "signal"
	CrashSourceRuntime = "runtime"
)
