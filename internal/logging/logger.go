// Package logging builds the structured logger used across stagehand.
//
// Records go to the console and, when a log directory is given, are appended
// to <dir>/stagehand.log so a failed unattended run can be inspected later.
// All text is transliterated to ASCII on the way out.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LogFileName is the file appended to inside the log directory.
const LogFileName = "stagehand.log"

// Options configures New.
type Options struct {
	// Console receives human-oriented output. Defaults to os.Stderr.
	Console io.Writer
	// Dir is the log directory. Empty disables the file log.
	Dir string
	// Level is the minimum console level. The file log always records debug.
	Level slog.Level
}

// Logger couples the slog logger with the file it may hold open.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates the logger described by opts.
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: opts.Level, ReplaceAttr: dropTime}),
	}

	var f *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(filepath.Join(opts.Dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return &Logger{Logger: slog.New(newASCIIHandler(fanout(handlers))), file: f}, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// dropTime keeps console lines short; the file log retains timestamps.
func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}
