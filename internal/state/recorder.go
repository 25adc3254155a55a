package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/logging"
	"stagehand/internal/pipeline"
	"stagehand/internal/trace"
)

// Recorder writes the manifest of one run as it progresses. It implements
// pipeline.Observer.
//
// Persistence problems are logged and never fail the run.
type Recorder struct {
	Store   *Store
	Journal *trace.Recorder
	Logger  *slog.Logger

	mu    sync.Mutex
	run   Run
	steps []StepRecord
	now   func() time.Time
}

// NewRecorder creates a Recorder. journal may be nil.
func NewRecorder(store *Store, journal *trace.Recorder, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{Store: store, Journal: journal, Logger: logger, now: time.Now}
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// Start creates run.json for a new run. phase is the selected phase name, or
// empty for a full run.
func (r *Recorder) Start(projectRoot, phase string) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	id, err := NewRunID()
	if err != nil {
		return Run{}, err
	}
	run := Run{
		RunID:       id,
		ProjectRoot: projectRoot,
		StartTime:   r.now().UTC(),
		Status:      RunStatusRunning,
		State:       pipeline.RunState{Stage: pipeline.StageInit}.String(),
		Phase:       phase,
	}
	if ids, err := r.Store.ListRunIDs(); err == nil && len(ids) > 0 {
		prev := ids[len(ids)-1]
		run.PreviousRunID = &prev
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}

	r.mu.Lock()
	r.run = run
	r.steps = nil
	r.mu.Unlock()
	return run, nil
}

// Run returns the current run record.
func (r *Recorder) Run() Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}

func (r *Recorder) OnStateChange(_, to pipeline.RunState) {
	r.mu.Lock()
	r.run.State = to.String()
	run := r.run
	r.mu.Unlock()
	if run.RunID == "" {
		return
	}
	if err := r.Store.SaveRun(run); err != nil {
		r.Logger.Warn("could not update run manifest", "run", run.RunID, "err", err)
	}
}

func (r *Recorder) OnStepFinished(res pipeline.StepResult) {
	rec := StepRecord{
		Phase:      res.Phase,
		Step:       res.Step,
		Path:       res.Path,
		Outcome:    string(res.Outcome),
		ExitCode:   res.ExitCode,
		Started:    res.Started.UTC(),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		rec.Error = logging.ASCII(res.Err.Error())
		rec.ErrorCode = ErrorCode(res.Err)
	}

	r.mu.Lock()
	r.steps = append(r.steps, rec)
	steps := append([]StepRecord(nil), r.steps...)
	runID := r.run.RunID
	r.mu.Unlock()
	if runID == "" {
		return
	}
	if err := r.Store.SaveSteps(runID, steps); err != nil {
		r.Logger.Warn("could not write steps manifest", "run", runID, "err", err)
	}
}

// Finish closes the manifest: final status, failure.json when the run did
// not succeed, and the file-operation journal. runErr is an error of the
// orchestrator itself, if any.
func (r *Recorder) Finish(report *pipeline.Report, runErr error) Run {
	r.mu.Lock()
	run := r.run
	steps := append([]StepRecord(nil), r.steps...)
	r.mu.Unlock()
	if run.RunID == "" {
		return run
	}

	end := r.now().UTC()
	if end.Before(run.StartTime) {
		end = run.StartTime
	}
	run.EndTime = &end
	run.Status = RunStatusSucceeded
	if report != nil {
		run.State = report.Final().String()
	}

	var failure *Failure
	switch {
	case runErr != nil:
		f := Classify(runErr)
		failure = &f
	case report == nil:
		f := Failure{FailureClass: FailureClassSystem, ErrorCode: "UnknownError", ErrorMessage: "run produced no report"}
		failure = &f
	case !report.Succeeded():
		var cause error
		if report.Failure != nil {
			cause = report.Failure.Err
		}
		f := Classify(cause)
		if report.Failure != nil {
			f.Phase = report.Failure.Phase
			step := report.Failure.Step
			f.Step = &step
			if report.Failure.ExitCode > 0 && f.ExitCode == nil {
				code := report.Failure.ExitCode
				f.ExitCode = &code
			}
		}
		failure = &f
	}
	if failure != nil {
		run.Status = RunStatusFailed
		failure.ErrorMessage = logging.ASCII(failure.ErrorMessage)
		if err := r.Store.SaveFailure(run.RunID, *failure); err != nil {
			r.Logger.Warn("could not write failure manifest", "run", run.RunID, "err", err)
		}
	}

	if err := r.Store.SaveSteps(run.RunID, steps); err != nil {
		r.Logger.Warn("could not write steps manifest", "run", run.RunID, "err", err)
	}
	if r.Journal != nil {
		hash, err := r.Store.SaveJournal(r.Journal.Journal(run.RunID))
		if err != nil {
			r.Logger.Warn("could not write file journal", "run", run.RunID, "err", err)
		}
		run.JournalHash = hash
	}
	if err := r.Store.SaveRun(run); err != nil {
		r.Logger.Warn("could not finalize run manifest", "run", run.RunID, "err", err)
	}

	r.mu.Lock()
	r.run = run
	r.mu.Unlock()
	return run
}
