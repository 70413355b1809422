// Package logger provides the leveled logger used across the server.
// It wraps zerolog with the five levels the mailing components expect:
// debug, verbose, info, warn and error. Verbose maps to zerolog's trace
// level and is meant for per-email noise that debug should not carry.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a leveled sink. The zero value is not usable; construct one
// with New.
type Logger struct {
	z zerolog.Logger
}

// New creates a Logger writing human-readable output to stderr at the
// given level. Unknown level names fall back to info.
func New(level string) *Logger {
	return NewWithWriter(level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// NewWithWriter creates a Logger with a custom output, used by tests to
// capture entries.
func NewWithWriter(level string, w io.Writer) *Logger {
	return &Logger{
		z: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger(),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "verbose", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.z.Debug().Msgf(format, args...)
}

// Verbosef logs a verbose (trace) level message.
func (l *Logger) Verbosef(format string, args ...interface{}) {
	l.z.Trace().Msgf(format, args...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.z.Info().Msgf(format, args...)
}

// Warnf logs a warning.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.z.Warn().Msgf(format, args...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.z.Error().Msgf(format, args...)
}

// Err logs an error value with its message, keeping the stack of wrapped
// causes in one line.
func (l *Logger) Err(err error) {
	l.z.Error().Err(err).Msg("")
}
