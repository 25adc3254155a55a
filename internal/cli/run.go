package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"stagehand/internal/logging"
)

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (CLIResult, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	return Execute(ctx, inv, stdout, stderr)
}

// Main runs the CLI and writes any error to stderr as ASCII. It returns the
// process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	res, err := Run(ctx, args, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, Diagnostic(err))
	}
	return res.ExitCode
}

// Diagnostic renders err for the terminal. Paths and script names may carry
// accents; they are transliterated so restrictive consoles stay readable.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		msg = invErr.Message
	}
	return logging.ASCII(msg)
}
