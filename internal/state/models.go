// Package state persists the run manifest of every pipeline run under
// <project>/.stagehand/runs/<run-id>/.
//
// The manifest is written for post-mortem inspection only; it is never read
// back to change how a run behaves.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the run.json record.
type Run struct {
	RunID       string     `json:"run_id"`
	ProjectRoot string     `json:"project_root"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Status      RunStatus  `json:"status"`
	// State is the last run state reached (e.g. "PHASE_2_FAILED").
	State string `json:"state"`
	// Phase is set when a single phase was selected.
	Phase         string  `json:"phase,omitempty"`
	JournalHash   string  `json:"journal_hash,omitempty"`
	PreviousRunID *string `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time must not precede start_time"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	return errors.Join(errs...)
}

// StepRecord is one entry of steps.json.
type StepRecord struct {
	Phase      string    `json:"phase"`
	Step       string    `json:"step"`
	Path       string    `json:"path,omitempty"`
	Outcome    string    `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
}

func (s StepRecord) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Phase) == "" {
		errs = append(errs, errors.New("phase is required"))
	}
	if strings.TrimSpace(s.Step) == "" {
		errs = append(errs, errors.New("step is required"))
	}
	if strings.TrimSpace(s.Outcome) == "" {
		errs = append(errs, errors.New("outcome is required"))
	}
	if s.DurationMS < 0 {
		errs = append(errs, errors.New("duration_ms must be >= 0"))
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	// FailureClassResolution: the script or a prerequisite does not exist.
	FailureClassResolution FailureClass = "resolution"
	// FailureClassPrecondition: a required variable or file was missing.
	FailureClassPrecondition FailureClass = "precondition"
	// FailureClassExecution: the script ran and failed or timed out.
	FailureClassExecution FailureClass = "execution"
	// FailureClassIO: a copy kept failing on a locked destination.
	FailureClassIO FailureClass = "io"
	// FailureClassSystem: anything else.
	FailureClassSystem FailureClass = "system"
)

// Failure is the failure.json record: why the run stopped.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Phase        string       `json:"phase,omitempty"`
	Step         *string      `json:"step,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	ExitCode     *int         `json:"exit_code,omitempty"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassResolution, FailureClassPrecondition, FailureClassExecution, FailureClassIO, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Step != nil && strings.TrimSpace(*f.Step) == "" {
		errs = append(errs, errors.New("step must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}
