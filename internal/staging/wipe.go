package staging

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"stagehand/internal/trace"
)

// WipeReport counts what Wipe removed.
type WipeReport struct {
	FilesRemoved int
	DirsRemoved  int
	Failures     int
}

// Wipe empties dir: files first, then directories bottom-up. dir itself is
// kept. Failures are logged as warnings and counted, never returned.
func Wipe(dir string, logger *slog.Logger, sink trace.Sink) WipeReport {
	var report WipeReport
	log := loggerOrDiscard(logger)

	var files, dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Failures++
			log.Warn("cannot scan for wipe", "path", path, "err", err)
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		log.Warn("wipe aborted", "dir", dir, "err", err)
		return report
	}

	for _, f := range files {
		if err := os.Remove(f); err != nil {
			report.Failures++
			log.Warn("could not delete file", "path", f, "err", err)
			continue
		}
		report.FilesRemoved++
		trace.SafeRecord(sink, trace.NewEvent(trace.EventFileRemoved, f, "").WithReason("wipe"))
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if err := os.Remove(d); err != nil {
			report.Failures++
			log.Warn("could not delete directory", "path", d, "err", err)
			continue
		}
		report.DirsRemoved++
		trace.SafeRecord(sink, trace.NewEvent(trace.EventDirRemoved, d, ""))
	}
	return report
}
