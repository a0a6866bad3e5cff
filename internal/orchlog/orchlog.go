// Package orchlog wraps github.com/charmbracelet/log to serve two surfaces
// from one logger: a colorized console sink for cmd/orchestrald, and an
// append-only events log file at a caller-given path (cmd/orchestrald opens
// one orchestrald-events.log under the runs directory; no per-run
// events.log is written) in the boundary format required by
// SPEC_FULL.md §6 ("ISO-8601 [LEVEL] event.name key=value …").
package orchlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Logger pairs a console logger with an optional events log file sink.
type Logger struct {
	console *charmlog.Logger
	events  *charmlog.Logger
	file    io.Closer
}

// NewConsole returns a Logger with only a colorized console sink, for use
// before a run directory exists (e.g. cmd/orchestrald startup/validation).
func NewConsole(verbose bool) *Logger {
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	return &Logger{console: l}
}

// WithEventsLog opens (or creates) the file at path and attaches it as a
// second sink using the boundary line format, independent of the console's
// styled output.
func (l *Logger) WithEventsLog(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open events log: %w", err)
	}
	events := charmlog.NewWithOptions(f, charmlog.Options{
		Level:           charmlog.DebugLevel,
		ReportTimestamp: false,
		Formatter:       charmlog.TextFormatter,
	})
	return &Logger{console: l.console, events: events, file: f}, nil
}

// Close releases the events.log file handle, if one is open.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Event writes one line to events.log in "ISO-8601 [LEVEL] event.name
// key=value …" form, and mirrors it to the console at debug level.
func (l *Logger) Event(level charmlog.Level, name string, fields ...any) {
	ts := time.Now().UTC().Format(time.RFC3339)
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", ts, strings.ToUpper(level.String()), name)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	line := b.String()

	if l.events != nil {
		l.events.Helper()
		fmt.Fprintln(l.events, line)
	}
	l.console.Debug(name, append([]any{"event_line", line}, fields...)...)
}

// Info logs at info level to the console sink.
func (l *Logger) Info(msg string, kv ...any) { l.console.Info(msg, kv...) }

// Warn logs at warn level to the console sink.
func (l *Logger) Warn(msg string, kv ...any) { l.console.Warn(msg, kv...) }

// Error logs at error level to the console sink, and records the event into
// the events log when a file sink is attached.
func (l *Logger) Error(msg string, kv ...any) {
	l.console.Error(msg, kv...)
	l.Event(charmlog.ErrorLevel, msg, kv...)
}

// Debug logs at debug level to the console sink.
func (l *Logger) Debug(msg string, kv ...any) { l.console.Debug(msg, kv...) }
