// Package logging provides the structured logger used across the bot. It is a
// thin layer over zerolog: every field map passes through the secret redactor
// before emission, a configured minimum level filters events, and logging
// failures are swallowed so a broken sink can never take down a command.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/gcolon75/Project-Valine-sub002/internal/redact"
)

// Logger emits leveled, timestamped, redacted log lines.
type Logger struct {
	zl       zerolog.Logger
	redactor *redact.Redactor
}

// New creates a logger writing JSON lines to w at the given minimum level.
// Unknown level strings fall back to info.
func New(w io.Writer, minLevel string, r *redact.Redactor) *Logger {
	if w == nil {
		w = os.Stderr
	}
	if r == nil {
		r = redact.Default()
	}
	level, err := zerolog.ParseLevel(minLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl, redactor: r}
}

func init() {
	// ISO-8601 UTC timestamps on every line.
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields map[string]any) { l.emit(l.zl.Debug(), msg, fields) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields map[string]any) { l.emit(l.zl.Info(), msg, fields) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields map[string]any) { l.emit(l.zl.Warn(), msg, fields) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields map[string]any) { l.emit(l.zl.Error(), msg, fields) }

func (l *Logger) emit(e *zerolog.Event, msg string, fields map[string]any) {
	defer func() {
		// A sink or marshaling failure must never reach the caller.
		_ = recover()
	}()
	if fields != nil {
		e = e.Fields(l.redactor.Fields(fields))
	}
	e.Msg(msg)
}

// With returns a logger that adds the given (redacted) fields to every event.
func (l *Logger) With(fields map[string]any) *Logger {
	zl := l.zl.With().Fields(l.redactor.Fields(fields)).Logger()
	return &Logger{zl: zl, redactor: l.redactor}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), redactor: redact.Default()}
}
