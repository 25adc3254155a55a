package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError reports a script or prerequisite file that does not exist.
type NotFoundError struct {
	Name string
	Path string
	// Suggestions lists similarly named files, relative to the project root.
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path != "" && e.Path != e.Name {
		return fmt.Sprintf("not found: %s (looked at %s)", e.Name, e.Path)
	}
	return fmt.Sprintf("not found: %s", e.Name)
}

// ExecutionError reports a child that exited with a non-zero status.
type ExecutionError struct {
	Script   string
	ExitCode int
	// Stderr is the captured error stream, verbatim.
	Stderr string
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("script %s exited with code %d", e.Script, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

// TimeoutError reports a child killed after exceeding its timeout.
type TimeoutError struct {
	Script  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("script %s timed out after %s", e.Script, e.Timeout)
}

// UnexpectedError wraps any other failure while spawning or waiting.
type UnexpectedError struct {
	Script string
	Err    error
}

func (e *UnexpectedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unexpected error running %s: %v", e.Script, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
