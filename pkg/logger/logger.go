// Package logger wraps logrus with the small surface the settlement services
// consume. Every logger carries a component field so log lines from the
// orchestrator, the chain sender and the background jobs stay separable.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	entry *logrus.Entry
}

// NewDefault returns a logger for the named component using the process-wide
// defaults (JSON output, level from LOG_LEVEL, info when unset).
func NewDefault(component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	return &Logger{entry: base.WithField("component", component)}
}

// WithField returns a logger with an extra structured field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
