package state

import (
	"errors"

	"stagehand/internal/config"
	"stagehand/internal/core"
	"stagehand/internal/pipeline"
	"stagehand/internal/staging"
)

// Classify maps err onto the failure taxonomy. The order matters: wrapping
// errors (a precondition that failed because a file is missing) are matched
// before what they wrap.
func Classify(err error) Failure {
	if err == nil {
		return Failure{FailureClass: FailureClassSystem, ErrorCode: "UnknownError", ErrorMessage: "unknown failure"}
	}
	msg := err.Error()

	var missing *pipeline.MissingEnvError
	if errors.As(err, &missing) {
		return Failure{FailureClass: FailureClassPrecondition, ErrorCode: "MissingEnvError", ErrorMessage: msg}
	}
	var pre *pipeline.PreconditionError
	if errors.As(err, &pre) {
		return Failure{FailureClass: FailureClassPrecondition, ErrorCode: "PreconditionError", ErrorMessage: msg}
	}
	var nf *core.NotFoundError
	if errors.As(err, &nf) {
		return Failure{FailureClass: FailureClassResolution, ErrorCode: "NotFoundError", ErrorMessage: msg}
	}
	var timeout *core.TimeoutError
	if errors.As(err, &timeout) {
		return Failure{FailureClass: FailureClassExecution, ErrorCode: "TimeoutError", ErrorMessage: msg}
	}
	var exec *core.ExecutionError
	if errors.As(err, &exec) {
		code := exec.ExitCode
		return Failure{FailureClass: FailureClassExecution, ErrorCode: "ExecutionError", ErrorMessage: msg, ExitCode: &code}
	}
	var transient *staging.TransientIOError
	if errors.As(err, &transient) {
		return Failure{FailureClass: FailureClassIO, ErrorCode: "TransientIOError", ErrorMessage: msg}
	}
	var unexpected *core.UnexpectedError
	if errors.As(err, &unexpected) {
		return Failure{FailureClass: FailureClassSystem, ErrorCode: "UnexpectedError", ErrorMessage: msg}
	}
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return Failure{FailureClass: FailureClassSystem, ErrorCode: "ConfigError", ErrorMessage: msg}
	}
	return Failure{FailureClass: FailureClassSystem, ErrorCode: "UnknownError", ErrorMessage: msg}
}

// ErrorCode returns the taxonomy code of err, or "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err).ErrorCode
}
