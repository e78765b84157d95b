package log

import "github.com/bft-labs/predem/internal/ports"

// ComponentLogger implements ports.Logger by tagging every message with the
// component that emitted it.
type ComponentLogger struct {
	next   ports.Logger
	fields []ports.Field
}

// NewComponentLogger wraps next so each entry carries component=name.
func NewComponentLogger(next ports.Logger, name string, fields ...ports.Field) *ComponentLogger {
	all := make([]ports.Field, 0, len(fields)+1)
	all = append(all, ports.String("component", name))
	all = append(all, fields...)
	return &ComponentLogger{next: next, fields: all}
}

// Debug logs a debug message.
func (l *ComponentLogger) Debug(msg string, fields ...ports.Field) {
	l.next.Debug(msg, l.with(fields)...)
}

// Info logs an info message.
func (l *ComponentLogger) Info(msg string, fields ...ports.Field) {
	l.next.Info(msg, l.with(fields)...)
}

// Warn logs a warning message.
func (l *ComponentLogger) Warn(msg string, fields ...ports.Field) {
	l.next.Warn(msg, l.with(fields)...)
}

// Error logs an error message.
func (l *ComponentLogger) Error(msg string, fields ...ports.Field) {
	l.next.Error(msg, l.with(fields)...)
}

func (l *ComponentLogger) with(fields []ports.Field) []ports.Field {
	out := make([]ports.Field, 0, len(l.fields)+len(fields))
	out = append(out, l.fields...)
	return append(out, fields...)
}
