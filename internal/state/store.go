package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stagehand/internal/trace"
)

const (
	runFile     = "run.json"
	stepsFile   = "steps.json"
	failureFile = "failure.json"
	journalFile = "files.json"
)

// Store reads and writes run manifests under <stateDir>/runs/<run-id>/.
//
// All writes are atomic and durable (file sync + atomic rename + dir sync).
type Store struct {
	stateDir string
}

func NewStore(stateDir string) (*Store, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("state dir is required")
	}
	return &Store{stateDir: stateDir}, nil
}

func (s *Store) runsRootDir() string {
	return filepath.Join(s.stateDir, "runs")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

// RunDir returns the manifest directory of runID.
func (s *Store) RunDir(runID string) string {
	return s.runDir(runID)
}

// ListRunIDs returns the run IDs present on disk, sorted lexically. Run IDs
// are time-ordered, so this is also chronological.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if name := strings.TrimSpace(e.Name()); name != "" {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestRuns returns up to n runs, newest first. Unreadable manifests are
// skipped.
func (s *Store) LatestRuns(n int) ([]Run, error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return nil, err
	}
	var runs []Run
	for i := len(ids) - 1; i >= 0 && (n <= 0 || len(runs) < n); i-- {
		run, err := s.LoadRun(ids[i])
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartTime.After(runs[j].StartTime) })
	return runs, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.save(run.RunID, runFile, run)
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if err := s.load(runID, runFile, &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveSteps(runID string, steps []StepRecord) error {
	for i, st := range steps {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("invalid step %d: %w", i, err)
		}
	}
	if steps == nil {
		steps = []StepRecord{}
	}
	return s.save(runID, stepsFile, steps)
}

func (s *Store) LoadSteps(runID string) ([]StepRecord, error) {
	var steps []StepRecord
	if err := s.load(runID, stepsFile, &steps); err != nil {
		return nil, err
	}
	if steps == nil {
		return nil, errors.New("invalid steps on disk: must be an array (not null)")
	}
	return steps, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.save(runID, failureFile, failure)
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if err := s.load(runID, failureFile, &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

// SaveJournal writes the file-operation journal and returns its hash.
func (s *Store) SaveJournal(journal trace.Journal) (string, error) {
	if err := journal.Validate(); err != nil {
		return "", fmt.Errorf("invalid journal: %w", err)
	}
	data, err := journal.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal journal: %w", err)
	}
	if err := ensureDirDurable(s.runDir(journal.RunID), 0o755); err != nil {
		return "", fmt.Errorf("ensure run dir: %w", err)
	}
	if err := writeFileAtomicDurable(filepath.Join(s.runDir(journal.RunID), journalFile), data, 0o644); err != nil {
		return "", fmt.Errorf("write journal: %w", err)
	}
	return trace.HashBytes(data), nil
}

func (s *Store) LoadJournal(runID string) (trace.Journal, error) {
	var j trace.Journal
	if err := s.load(runID, journalFile, &j); err != nil {
		return trace.Journal{}, err
	}
	if err := j.Validate(); err != nil {
		return trace.Journal{}, fmt.Errorf("invalid journal on disk: %w", err)
	}
	return j, nil
}

func (s *Store) save(runID, name string, v any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := writeFileAtomicDurable(filepath.Join(s.runDir(runID), name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) load(runID, name string, dst any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	return readJSONStrict(filepath.Join(s.runDir(runID), name), dst)
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}
