package core

import (
	"context"
	"time"
)

// Script is one resolved producer script invocation.
type Script struct {
	// Name is the reference as written in the pipeline definition.
	// Used for diagnostics only.
	Name string

	// Path is the absolute script location.
	Path string

	// Dir is the working directory of the child. Empty means the
	// script's own directory.
	Dir string

	// Timeout bounds the run. Zero means unbounded.
	Timeout time.Duration

	// Env is layered over the orchestrator's environment.
	Env map[string]string
}

// Label returns the most useful identifier for log lines.
func (s Script) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

// Result is the outcome of a script that ran to completion.
type Result struct {
	// Stdout and Stderr are decoded to UTF-8.
	Stdout string
	Stderr string

	// ExitCode is the process exit code; 0 for a successful run.
	ExitCode int

	// Duration is the wall time between start and exit.
	Duration time.Duration
}

// Runner executes a single script.
//
// A nil error means the script exited 0. Any failure is reported through the
// typed errors of this package; the Result may still be non-nil so callers
// can inspect captured output.
type Runner interface {
	Run(ctx context.Context, script Script) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, script Script) (*Result, error)

func (f RunnerFunc) Run(ctx context.Context, script Script) (*Result, error) {
	return f(ctx, script)
}
