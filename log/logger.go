package log

// Level controls verbosity of a Logger
type Level uint8

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

// Fields are attached to every entry written by a logger returned from WithFields
type Fields map[string]interface{}

// Logger is used across all labbus components. Bring your own implementation or use DefaultLogger.
type Logger interface {
	Log(level Level, v ...interface{})
	Logf(level Level, template string, args ...interface{})
	SetLevel(level Level)
	// WithFields returns a new logger instance which includes fields into every entry
	WithFields(fields Fields) Logger
}
