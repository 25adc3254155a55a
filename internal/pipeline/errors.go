package pipeline

import (
	"fmt"
	"strings"
)

// MissingEnvError reports a step that needs environment variables which are
// not set. The script is not started.
type MissingEnvError struct {
	Script string
	Vars   []string
}

func (e *MissingEnvError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s requires environment variable(s) %s", e.Script, strings.Join(e.Vars, ", "))
}

// PreconditionError reports a step whose prerequisite file could not be put
// in place. The script is not started.
type PreconditionError struct {
	Script string
	From   string
	To     string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("precondition for %s: copy %s -> %s: %v", e.Script, e.From, e.To, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// UnknownPhaseError reports a phase name that is not configured.
type UnknownPhaseError struct {
	Name  string
	Known []string
}

func (e *UnknownPhaseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unknown phase %q (configured: %s)", e.Name, strings.Join(e.Known, ", "))
}
