package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// ParseLogLevel converts a level string to LogLevel, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides structured logging capabilities
type Logger struct {
	entry     *logrus.Entry
	component string
}

// NewLogger creates a new logger instance writing to stdout
func NewLogger(component string, minLevel LogLevel) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(minLevel.logrusLevel())
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	return newLogger(base, component)
}

func newLogger(base *logrus.Logger, component string) *Logger {
	return &Logger{
		entry:     base.WithField("component", component),
		component: component,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, args ...interface{}) {
	l.entry.Debugf(message, args...)
}

// Info logs an info message
func (l *Logger) Info(message string, args ...interface{}) {
	l.entry.Infof(message, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, args ...interface{}) {
	l.entry.Warnf(message, args...)
}

// Error logs an error message
func (l *Logger) Error(message string, args ...interface{}) {
	l.entry.Errorf(message, args...)
}

// Fatal logs an error message and exits the program
func (l *Logger) Fatal(message string, args ...interface{}) {
	l.entry.Fatalf(message, args...)
}

// WithComponent creates a new logger with a different component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		entry:     l.entry.WithField("component", component),
		component: component,
	}
}

// WithFields returns a logger that attaches the given fields to every message
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		entry:     l.entry.WithFields(logrus.Fields(fields)),
		component: l.component,
	}
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// Global logger instance for convenience
var defaultBase = func() *logrus.Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	return base
}()

var defaultLogger = newLogger(defaultBase, "app")

// SetDefaultLogLevel sets the log level for the default logger
func SetDefaultLogLevel(level LogLevel) {
	defaultBase.SetLevel(level.logrusLevel())
}

// SetDefaultFormat switches the default logger between "text" and "json" output
func SetDefaultFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		defaultBase.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	case "json":
		defaultBase.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetDefaultOutput redirects the default logger
func SetDefaultOutput(w io.Writer) {
	defaultBase.SetOutput(w)
}

// Component returns a logger sharing the default logger's level, format and output
func Component(name string) *Logger {
	return newLogger(defaultBase, name)
}

// Debug logs a debug message using the default logger
func Debug(message string, args ...interface{}) {
	defaultLogger.Debug(message, args...)
}

// Info logs an info message using the default logger
func Info(message string, args ...interface{}) {
	defaultLogger.Info(message, args...)
}

// Warn logs a warning message using the default logger
func Warn(message string, args ...interface{}) {
	defaultLogger.Warn(message, args...)
}

// Error logs an error message using the default logger
func Error(message string, args ...interface{}) {
	defaultLogger.Error(message, args...)
}

// Fatal logs an error message and exits using the default logger
func Fatal(message string, args ...interface{}) {
	defaultLogger.Fatal(message, args...)
}
