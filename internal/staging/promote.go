package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar"

	"stagehand/internal/trace"
)

// Promotion is one (source, destination) pair. A run copies each pair at
// most once.
type Promotion struct {
	Source string
	Dest   string
}

// PromotionReport summarizes Promote.
type PromotionReport struct {
	Candidates int
	Copied     int
	Skipped    int
	Failed     []Promotion
	Wiped      WipeReport
}

// Promoter copies accepted outputs into the final directory.
type Promoter struct {
	// DataDir is the data root the patterns are relative to.
	DataDir string
	// Patterns are slash-separated globs; "**" spans directories.
	Patterns []string
	// Dest is the final directory. Files land flat under their base name.
	Dest string
	// WipeDir is emptied after promotion. Empty disables the wipe.
	WipeDir string

	Copier *Copier
	Logger *slog.Logger
	Sink   trace.Sink

	visited map[Promotion]struct{}
}

// Candidates expands Patterns in order. Matches of a single pattern are
// sorted; a file matched by several patterns is listed once.
func (p *Promoter) Candidates() ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range p.Patterns {
		full := filepath.Join(p.DataDir, filepath.FromSlash(pattern))
		matches, err := doublestar.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			m = filepath.Clean(m)
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

// Promote copies every candidate to Dest and then wipes WipeDir.
//
// Per-file failures are logged and collected in the report; the error return
// is reserved for an unusable pattern. Running Promote again over the same
// tree copies nothing new.
func (p *Promoter) Promote() (PromotionReport, error) {
	var report PromotionReport
	log := loggerOrDiscard(p.Logger)

	candidates, err := p.Candidates()
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)
	if err := os.MkdirAll(p.Dest, 0o755); err != nil {
		return report, fmt.Errorf("create %s: %w", p.Dest, err)
	}
	if p.visited == nil {
		p.visited = make(map[Promotion]struct{})
	}

	copier := p.Copier
	if copier == nil {
		copier = NewCopier(0, 0, p.Logger, p.Sink)
	}
	for _, src := range candidates {
		pair := Promotion{Source: src, Dest: filepath.Join(p.Dest, filepath.Base(src))}
		if _, done := p.visited[pair]; done {
			report.Skipped++
			trace.SafeRecord(p.Sink, trace.NewEvent(trace.EventFileSkipped, pair.Source, pair.Dest).WithReason("visited"))
			continue
		}
		p.visited[pair] = struct{}{}

		outcome, err := copier.Copy(pair.Source, pair.Dest)
		if err != nil {
			report.Failed = append(report.Failed, pair)
			log.Warn("promotion failed", "source", p.rel(pair.Source), "dest", p.rel(pair.Dest), "err", err)
			continue
		}
		if outcome != CopyDone {
			report.Skipped++
			continue
		}
		report.Copied++
		trace.SafeRecord(p.Sink, trace.NewEvent(trace.EventFileCopied, pair.Source, pair.Dest))
		log.Info("promoted", "source", p.rel(pair.Source), "dest", p.rel(pair.Dest))
	}

	if p.WipeDir != "" {
		report.Wiped = Wipe(p.WipeDir, p.Logger, p.Sink)
	}
	return report, nil
}

// Visited reports whether pair was already handled by this Promoter.
func (p *Promoter) Visited(pair Promotion) bool {
	_, ok := p.visited[pair]
	return ok
}

func (p *Promoter) rel(path string) string {
	return relTo(filepath.Dir(p.DataDir), path)
}
