package log

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Level controls how much the agent reports to a log sink.
// Higher levels include everything reported at lower levels.
type Level int32

const (
	// LevelNone disables logging entirely.
	LevelNone Level = iota
	// LevelError reports only failures that lose or delay data.
	LevelError
	// LevelWarning adds recoverable problems such as rejected batches.
	LevelWarning
	// LevelDebug adds pipeline progress (batches sent, records persisted).
	LevelDebug
	// LevelVerbose reports everything.
	LevelVerbose
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelDebug:
		return "debug"
	case LevelVerbose:
		return "verbose"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name as produced by Level.String.
// "warn" and "info" are accepted as aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return LevelNone, nil
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "debug", "info":
		return LevelDebug, nil
	case "verbose", "trace":
		return LevelVerbose, nil
	default:
		return LevelNone, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelNone:
		return zerolog.Disabled
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelDebug:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// HandlerFunc receives log records that pass the level filter.
// The fields slice must not be retained after the call returns.
type HandlerFunc func(level Level, msg string, fields []Field)

// HandlerLogger implements Logger by forwarding to a HandlerFunc.
// Records above the configured level are dropped before the handler runs.
type HandlerLogger struct {
	level   atomic.Int32
	handler HandlerFunc
}

// NewHandlerLogger creates a logger that forwards records at or below level.
func NewHandlerLogger(level Level, handler HandlerFunc) *HandlerLogger {
	h := &HandlerLogger{handler: handler}
	h.level.Store(int32(level))
	return h
}

// SetLevel changes the filter level. Safe for concurrent use.
func (h *HandlerLogger) SetLevel(level Level) {
	h.level.Store(int32(level))
}

// Level returns the current filter level.
func (h *HandlerLogger) Level() Level {
	return Level(h.level.Load())
}

// Debug forwards at LevelVerbose.
func (h *HandlerLogger) Debug(msg string, fields ...Field) { h.emit(LevelVerbose, msg, fields) }

// Info forwards at LevelDebug.
func (h *HandlerLogger) Info(msg string, fields ...Field) { h.emit(LevelDebug, msg, fields) }

// Warn forwards at LevelWarning.
func (h *HandlerLogger) Warn(msg string, fields ...Field) { h.emit(LevelWarning, msg, fields) }

// Error forwards at LevelError.
func (h *HandlerLogger) Error(msg string, fields ...Field) { h.emit(LevelError, msg, fields) }

func (h *HandlerLogger) emit(level Level, msg string, fields []Field) {
	if h.handler == nil || level > h.Level() {
		return
	}
	h.handler(level, msg, fields)
}
