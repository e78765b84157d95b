// Package log provides the logging abstraction used by predem components.
//
// Components never print directly. They log through the [Logger] interface,
// which can be backed by zerolog ([NewZerologAdapter]), discarded
// ([Discard]), or routed to a host-supplied sink filtered by
// [Level] ([NewHandlerLogger]).
//
// # Usage
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Routing records into the host's own logging:
//
//	logger := log.NewHandlerLogger(log.LevelWarning, func(l log.Level, msg string, fields []log.Field) {
//	    myLogger.Printf("[%s] %s %v", l, msg, fields)
//	})
//
// # Custom Loggers
//
// Implement the Logger interface to integrate with existing logging
// infrastructure:
//
//	type MyLogger struct { ... }
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
package log
