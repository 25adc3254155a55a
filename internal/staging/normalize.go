package staging

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stagehand/internal/trace"
)

// MergeStats counts what MergeDir did with each eligible file.
type MergeStats struct {
	Copied    int
	Replaced  int
	Kept      int
	Discarded int
	Failed    int
}

func (s *MergeStats) add(o MergeStats) {
	s.Copied += o.Copied
	s.Replaced += o.Replaced
	s.Kept += o.Kept
	s.Discarded += o.Discarded
	s.Failed += o.Failed
}

// Normalizer heals shadow copies of a staging directory.
type Normalizer struct {
	// Root is the project root searched for shadow directories.
	Root string
	// DataDirName is the base name of the data root ("data").
	DataDirName string
	// ExcludeDirs are never descended into.
	ExcludeDirs []string

	Copier *Copier
	Logger *slog.Logger
	Sink   trace.Sink
}

// ShadowDirs returns every "<data>/<kind>" directory under Root other than
// canonical, deepest first.
func (n *Normalizer) ShadowDirs(kind, canonical string) ([]string, error) {
	canonical = filepath.Clean(canonical)
	var found []string
	err := filepath.WalkDir(n.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != n.Root {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() || path == n.Root {
			return nil
		}
		if n.excluded(d.Name()) {
			return fs.SkipDir
		}
		if d.Name() != kind || filepath.Base(filepath.Dir(path)) != n.DataDirName {
			return nil
		}
		if filepath.Clean(path) == canonical || SameFile(path, canonical) {
			return nil
		}
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan for shadow %s dirs: %w", kind, err)
	}
	sort.SliceStable(found, func(i, j int) bool {
		di, dj := depth(found[i]), depth(found[j])
		if di != dj {
			return di > dj
		}
		return found[i] < found[j]
	})
	return found, nil
}

// Normalize merges every shadow directory of kind into canonical.
func (n *Normalizer) Normalize(kind, canonical string, exts []string, removeSource bool) (MergeStats, error) {
	var total MergeStats
	shadows, err := n.ShadowDirs(kind, canonical)
	if err != nil {
		return total, err
	}
	log := loggerOrDiscard(n.Logger)
	if len(shadows) == 0 {
		log.Debug("no shadow directories", "kind", kind)
		return total, nil
	}
	for _, shadow := range shadows {
		log.Info("normalizing shadow directory", "kind", kind, "from", n.rel(shadow), "to", n.rel(canonical))
		stats, err := n.MergeDir(shadow, canonical, exts, removeSource)
		total.add(stats)
		if err != nil {
			log.Warn("shadow directory not merged", "from", n.rel(shadow), "err", err)
		}
	}
	return total, nil
}

// MergeDir moves the top-level files of from whose extension is in exts
// (all files when exts is empty) into to.
//
// When to already holds a file with the same name, the newer file wins: a
// source that is not strictly newer is discarded (or left alone when
// removeSource is false). Emptied directories under from are removed on a
// best-effort basis.
func (n *Normalizer) MergeDir(from, to string, exts []string, removeSource bool) (MergeStats, error) {
	var stats MergeStats
	log := loggerOrDiscard(n.Logger)

	if err := os.MkdirAll(to, 0o755); err != nil {
		return stats, fmt.Errorf("create %s: %w", to, err)
	}
	entries, err := os.ReadDir(from)
	if err != nil {
		return stats, fmt.Errorf("read %s: %w", from, err)
	}

	found := false
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !hasExtension(entry.Name(), exts) {
			continue
		}
		found = true
		src := filepath.Join(from, entry.Name())
		dst := filepath.Join(to, entry.Name())

		srcInfo, err := entry.Info()
		if err != nil {
			stats.Failed++
			log.Warn("cannot stat shadow file", "path", n.rel(src), "err", err)
			continue
		}

		existed := false
		if dstInfo, err := os.Stat(dst); err == nil {
			existed = true
			if !srcInfo.ModTime().After(dstInfo.ModTime()) {
				stats.Kept++
				log.Info("kept newer canonical file", "source", n.rel(src), "dest", n.rel(dst))
				if removeSource {
					n.removeFile(src, "canonical-newer")
					stats.Discarded++
				} else {
					trace.SafeRecord(n.Sink, trace.NewEvent(trace.EventFileSkipped, src, dst).WithReason("canonical-newer"))
				}
				continue
			}
		}

		// The source is strictly newer (or dst is absent), so the identical
		// check must not veto the copy.
		outcome, err := n.copier().CopyForce(src, dst)
		if err != nil {
			stats.Failed++
			log.Warn("could not move shadow file", "source", n.rel(src), "dest", n.rel(dst), "err", err)
			continue
		}
		if outcome != CopyDone {
			log.Debug("shadow file not copied", "source", n.rel(src), "outcome", outcome.String())
			continue
		}
		if existed {
			stats.Replaced++
			trace.SafeRecord(n.Sink, trace.NewEvent(trace.EventFileReplaced, src, dst))
		} else {
			stats.Copied++
			trace.SafeRecord(n.Sink, trace.NewEvent(trace.EventFileCopied, src, dst))
		}
		log.Info("merged", "source", n.rel(src), "dest", n.rel(dst))
		if removeSource {
			n.removeFile(src, "")
		}
	}

	if found && removeSource {
		n.pruneEmptyDirs(from)
	}
	return stats, nil
}

func (n *Normalizer) removeFile(path, reason string) {
	if err := os.Remove(path); err != nil {
		loggerOrDiscard(n.Logger).Warn("could not remove shadow file", "path", n.rel(path), "err", err)
		return
	}
	kind := trace.EventFileRemoved
	if reason != "" {
		kind = trace.EventFileDiscarded
	}
	trace.SafeRecord(n.Sink, trace.NewEvent(kind, path, "").WithReason(reason))
}

// pruneEmptyDirs removes empty directories under dir, deepest first, then
// dir itself. Non-empty directories are left in place; any other removal
// failure is logged.
func (n *Normalizer) pruneEmptyDirs(dir string) {
	log := loggerOrDiscard(n.Logger)
	var dirs []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if err := os.Remove(d); err != nil {
			if !dirNotEmpty(d) {
				log.Warn("could not remove shadow directory", "path", n.rel(d), "err", err)
			}
			continue
		}
		trace.SafeRecord(n.Sink, trace.NewEvent(trace.EventDirRemoved, d, ""))
	}
}

func (n *Normalizer) copier() *Copier {
	if n.Copier != nil {
		return n.Copier
	}
	return NewCopier(0, 0, n.Logger, n.Sink)
}

func (n *Normalizer) excluded(name string) bool {
	for _, ex := range n.ExcludeDirs {
		if name == ex {
			return true
		}
	}
	return false
}

func (n *Normalizer) rel(path string) string {
	return relTo(n.Root, path)
}

func hasExtension(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func depth(path string) int {
	return strings.Count(filepath.ToSlash(filepath.Clean(path)), "/")
}

func relTo(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

// dirNotEmpty reports whether dir still has entries. Checking the directory
// avoids matching ENOTEMPTY and its Windows counterpart separately.
func dirNotEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
