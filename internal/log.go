package internal

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents different logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// ParseLogLevel maps ERROR/WARN/INFO/DEBUG/TRACE to a LogLevel, defaulting to INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LogLevelError
	case "WARN", "WARNING":
		return LogLevelWarn
	case "DEBUG":
		return LogLevelDebug
	case "TRACE":
		return LogLevelTrace
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelTrace:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides leveled logging
type Logger struct {
	level LogLevel
	entry *logrus.Entry
}

// NewLogger creates a new logger with the specified level writing text to stderr
func NewLogger(level LogLevel) *Logger {
	return newLogger(level, os.Stderr, false)
}

// NewLoggerWithOutput creates a logger writing to w, as JSON when json is set
func NewLoggerWithOutput(level LogLevel, w io.Writer, json bool) *Logger {
	return newLogger(level, w, json)
}

func newLogger(level LogLevel, w io.Writer, json bool) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level.logrus())
	if json {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &Logger{level: level, entry: logrus.NewEntry(base)}
}

// NewDefaultLogger creates a logger based on LOG_LEVEL and LOG_FORMAT environment variables
func NewDefaultLogger() *Logger {
	return newLogger(ParseLogLevel(os.Getenv("LOG_LEVEL")), os.Stderr, strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"))
}

// WithField returns a logger that attaches key=value to every entry
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{level: l.level, entry: l.entry.WithField(key, value)}
}

// WithError returns a logger that attaches err to every entry
func (l *Logger) WithError(err error) *Logger {
	return &Logger{level: l.level, entry: l.entry.WithError(err)}
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// Writer returns an io.Writer that logs each line at info level, for
// frameworks that only accept a writer.
func (l *Logger) Writer() *io.PipeWriter {
	return l.entry.Writer()
}

// Global logger instance
var DefaultLogger = NewDefaultLogger()
