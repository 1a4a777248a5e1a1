// Package logger provides the logging abstraction used across go-icona, so applications can plug in
// their preferred logging framework.
//
// The Logger interface logs messages at the usual severity levels (Debug, Info, Warn, Error, Fatal)
// with structured key-value pairs.
//
// Log Levels:
//
//   - DebugLevel:  Frame-level tracing, typically disabled in production.
//   - InfoLevel:  Session lifecycle messages.
//   - WarnLevel:  Expected anomalies, such as a device not acknowledging a door command.
//   - ErrorLevel:  Transport failures.
//   - FatalLevel:  Critical errors that cause program termination.
package logger

// Level indicates the logging severity level.
type Level = int8

// LogLevel is an alias of Level.
type LogLevel = Level

// Levels in increasing severity. FatalLevel exits the process after logging.
const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel converts a level name ("debug", "info", "warn", "error", "fatal") to a Level.
// Unknown names map to InfoLevel.
func ParseLevel(name string) Level {
	switch name {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Logger is the structured logger used by every package of the module.
//
// Methods take a message followed by alternating key-value pairs, for example
// l.Debug("frame sent", "request_id", 0x4001).
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs at FatalLevel, then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
	// With returns a child logger carrying keyValues on every record.
	// The child and the parent share one level.
	With(keyValues ...any) Logger
	Level() Level
	SetLevel(level Level)
}
