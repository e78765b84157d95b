package log

// Discard drops every record. It is the logger the agent and its plugins
// fall back to when the host supplies none.
var Discard Logger = NoopLogger{}

// NoopLogger is a Logger fixed at LevelNone.
type NoopLogger struct{}

// NewNoopLogger returns a logger that drops every record.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard
	}
	return l
}

// Level always reports LevelNone.
func (NoopLogger) Level() Level { return LevelNone }

func (NoopLogger) Debug(string, ...Field) {}
func (NoopLogger) Info(string, ...Field)  {}
func (NoopLogger) Warn(string, ...Field)  {}
func (NoopLogger) Error(string, ...Field) {}
