package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stagehand/internal/trace"
)

// FallbackSuffix is appended to the destination name by the last-resort copy.
const FallbackSuffix = ".tmp_copy"

// CopyOutcome describes what Copy did.
type CopyOutcome int

const (
	CopyDone CopyOutcome = iota
	CopySkippedSamePath
	CopySkippedIdentical
)

func (o CopyOutcome) String() string {
	switch o {
	case CopyDone:
		return "copied"
	case CopySkippedSamePath:
		return "same-path"
	case CopySkippedIdentical:
		return "identical"
	default:
		return fmt.Sprintf("CopyOutcome(%d)", int(o))
	}
}

// TransientIOError reports a copy that kept failing with a lock or
// permission error through every retry and the fallback.
type TransientIOError struct {
	Source   string
	Dest     string
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("copy %s -> %s failed after %d attempts: %v", e.Source, e.Dest, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// Copier copies single files robustly.
type Copier struct {
	// Retries is the number of regular attempts before the fallback.
	Retries int
	// Delay separates attempts.
	Delay time.Duration

	Logger *slog.Logger
	Sink   trace.Sink

	rename func(oldpath, newpath string) error
	sleep  func(time.Duration)
}

// NewCopier creates a Copier. A nil logger discards, a nil sink records nothing.
func NewCopier(retries int, delay time.Duration, logger *slog.Logger, sink trace.Sink) *Copier {
	return &Copier{
		Retries: retries,
		Delay:   delay,
		Logger:  logger,
		Sink:    sink,
		rename:  os.Rename,
		sleep:   time.Sleep,
	}
}

// Copy copies src to dst, preserving the modification time.
//
// The copy is skipped when both paths name the same file, or when dst already
// has the same size and the same whole-second modification time. Otherwise
// the content is written to a temporary file next to dst and renamed over
// it, so dst is never observed half-written. A transient error is retried
// until Retries attempts have been made, Delay apart; then one fallback
// attempt goes through "<dst>.tmp_copy". Other errors are returned
// immediately.
func (c *Copier) Copy(src, dst string) (CopyOutcome, error) {
	return c.copy(src, dst, true)
}

// CopyForce is Copy without the size and mtime comparison. Callers that
// have already decided src must replace dst use it: two files of equal size
// written within the same second would otherwise look identical.
func (c *Copier) CopyForce(src, dst string) (CopyOutcome, error) {
	return c.copy(src, dst, false)
}

func (c *Copier) copy(src, dst string, skipIdentical bool) (CopyOutcome, error) {
	log := loggerOrDiscard(c.Logger)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return CopyDone, fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return CopyDone, fmt.Errorf("source %s is not a regular file", src)
	}

	if SameFile(src, dst) {
		log.Debug("copy skipped, source and destination are the same", "path", src)
		trace.SafeRecord(c.Sink, trace.NewEvent(trace.EventFileSkipped, src, dst).WithReason("same-path"))
		return CopySkippedSamePath, nil
	}
	if dstInfo, err := os.Stat(dst); skipIdentical && err == nil && identical(srcInfo, dstInfo) {
		log.Debug("copy skipped, destination already matches", "dest", dst)
		trace.SafeRecord(c.Sink, trace.NewEvent(trace.EventFileSkipped, src, dst).WithReason("identical"))
		return CopySkippedIdentical, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return CopyDone, fmt.Errorf("create destination dir: %w", err)
	}

	attempts := c.Retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.copyOnce(src, dst, srcInfo, "")
		if lastErr == nil {
			return CopyDone, nil
		}
		if !isTransient(lastErr) {
			trace.SafeRecord(c.Sink, trace.NewEvent(trace.EventCopyFailed, src, dst).WithReason(lastErr.Error()))
			return CopyDone, lastErr
		}
		log.Warn("destination in use, retrying copy",
			"dest", dst, "attempt", attempt, "retries", attempts, "err", lastErr)
		ev := trace.NewEvent(trace.EventCopyRetried, src, dst)
		ev.Attempt = attempt
		trace.SafeRecord(c.Sink, ev)
		c.doSleep()
	}

	err = c.copyOnce(src, dst, srcInfo, dst+FallbackSuffix)
	if err == nil {
		log.Info("copy succeeded through fallback", "dest", dst)
		trace.SafeRecord(c.Sink, trace.NewEvent(trace.EventCopyFallback, src, dst))
		return CopyDone, nil
	}
	trace.SafeRecord(c.Sink, trace.NewEvent(trace.EventCopyFailed, src, dst).WithReason(err.Error()))
	return CopyDone, &TransientIOError{Source: src, Dest: dst, Attempts: attempts + 1, Err: lastErr}
}

// copyOnce writes src to a temporary file and renames it onto dst. With an
// empty tmpName a unique temporary name is chosen; otherwise tmpName is
// replaced if present.
func (c *Copier) copyOnce(src, dst string, srcInfo fs.FileInfo, tmpName string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	var tmp *os.File
	if tmpName == "" {
		tmp, err = os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	} else {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return rmErr
		}
		tmp, err = os.OpenFile(tmpName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return err
	}
	name := tmp.Name()
	renamed := false
	defer func() {
		_ = tmp.Close()
		if !renamed {
			_ = os.Remove(name)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	_ = tmp.Chmod(srcInfo.Mode().Perm())
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	mtime := srcInfo.ModTime()
	if err := os.Chtimes(name, mtime, mtime); err != nil {
		return err
	}

	rename := c.rename
	if rename == nil {
		rename = os.Rename
	}
	if err := rename(name, dst); err != nil {
		return err
	}
	renamed = true
	return nil
}

func (c *Copier) doSleep() {
	if c.Delay <= 0 {
		return
	}
	if c.sleep != nil {
		c.sleep(c.Delay)
		return
	}
	time.Sleep(c.Delay)
}

// SameFile reports whether a and b name the same file. Paths that do not
// exist yet are compared lexically.
func SameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

// identical is the cheap equality check: same size and the same modification
// time truncated to whole seconds.
func identical(a, b fs.FileInfo) bool {
	return a.Size() == b.Size() && a.ModTime().Unix() == b.ModTime().Unix()
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
