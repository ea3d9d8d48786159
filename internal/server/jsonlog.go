// jsonlog.go - Structured logging for filedrop, backed by logrus.
//
// Text output with full timestamps in development, JSON in production.
package server

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger provides structured logging with a fields map per entry.
type Logger struct {
	base *logrus.Logger
}

// DefaultLogger is the global logger instance
var DefaultLogger = NewLogger(os.Stdout, "text", LogLevelInfo)

// NewLogger builds a logger writing format ("text" or "json") to w.
func NewLogger(w io.Writer, format string, level LogLevel) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(toLogrusLevel(level))
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "msg",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return &Logger{base: l}
}

// ConfigureLogging replaces DefaultLogger. Production always logs JSON.
func ConfigureLogging(format, level string, production bool) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	if production {
		format = "json"
	}
	DefaultLogger = NewLogger(os.Stdout, format, lvl)
	return nil
}

// ParseLogLevel maps a config value onto a LogLevel. Empty means info.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", level)
	}
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *Logger) entry(fields map[string]interface{}, err error) *logrus.Entry {
	e := logrus.NewEntry(l.base)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	if err != nil {
		e = e.WithError(err)
	}
	return e
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.entry(fields, nil).Debug(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.entry(fields, nil).Info(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]interface{}, err error) {
	l.entry(fields, err).Warn(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]interface{}, err error) {
	l.entry(fields, err).Error(msg)
}

// Global logging functions

// Debug logs a debug message
func Debug(msg string, fields map[string]interface{}) {
	DefaultLogger.Debug(msg, fields)
}

// Info logs an info message
func Info(msg string, fields map[string]interface{}) {
	DefaultLogger.Info(msg, fields)
}

// Warn logs a warning message
func Warn(msg string, fields map[string]interface{}, err error) {
	DefaultLogger.Warn(msg, fields, err)
}

// Error logs an error message
func Error(msg string, fields map[string]interface{}, err error) {
	DefaultLogger.Error(msg, fields, err)
}
