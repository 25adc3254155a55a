package pipeline

import (
	"time"

	"stagehand/internal/staging"
)

// Outcome is the result of one step.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// StepResult records one step of a run.
type StepResult struct {
	Phase    string
	Step     string
	Path     string
	Outcome  Outcome
	ExitCode int
	Started  time.Time
	Duration time.Duration
	// Err is nil when Outcome is OutcomeSucceeded.
	Err error
}

// PhaseReport summarizes one phase.
type PhaseReport struct {
	Name  string
	Steps []StepResult
	// Aborted is set when a stop-on-fail phase ended at its first failure.
	Aborted   bool
	Normalize []NormalizeReport
}

// Failed counts failed steps.
func (p PhaseReport) Failed() int {
	n := 0
	for _, s := range p.Steps {
		if s.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// NormalizeReport summarizes the normalization of one staging directory.
type NormalizeReport struct {
	Kind  string
	Stats staging.MergeStats
	Err   error
}

// Report is the outcome of a run.
type Report struct {
	Phases []PhaseReport
	// States is every run state visited, in order.
	States    []RunState
	Promotion *staging.PromotionReport
	// Failure is the step that aborted the run, if any.
	Failure *StepResult
}

// Final returns the last state reached.
func (r *Report) Final() RunState {
	if r == nil || len(r.States) == 0 {
		return RunState{Stage: StageInit}
	}
	return r.States[len(r.States)-1]
}

// Succeeded reports whether no stop-on-fail phase failed.
func (r *Report) Succeeded() bool {
	return r != nil && r.Failure == nil && r.Final().Stage != StageFailed
}
