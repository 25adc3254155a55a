package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	ExitSuccess           = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Invocation is the canonical description of one stagehand run.
//
// ProjectRoot is absolute and clean; every other path is resolved against it,
// never against the process working directory.
type Invocation struct {
	ProjectRoot string
	// ConfigPath is empty when the default <root>/stagehand.yaml applies.
	ConfigPath string
	// EnvFile is empty when the default <root>/.env applies.
	EnvFile string
	// Phase selects a single phase. Empty runs them all.
	Phase string
	// Token is the statistics-office credential given on the command line.
	Token    string
	DryRun   bool
	ListRuns bool
	Verbose  bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses CLI flags into an Invocation.
//
// The project root defaults to the current directory; a relative -root is
// resolved against it. Nothing else consults the working directory.
func ParseInvocation(args []string) (Invocation, error) {
	fs := flag.NewFlagSet("stagehand", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var inv Invocation
	var root string
	fs.StringVar(&root, "root", "", "Project root (default: current directory).")
	fs.StringVar(&inv.ConfigPath, "config", "", "Pipeline definition (default: <root>/stagehand.yaml).")
	fs.StringVar(&inv.EnvFile, "env-file", "", "Environment file (default: <root>/.env).")
	fs.StringVar(&inv.Phase, "phase", "", "Run only the named phase.")
	fs.StringVar(&inv.Token, "token", "", "Credential exported to producer scripts.")
	fs.BoolVar(&inv.DryRun, "dry-run", false, "Resolve every step and print the plan without running anything.")
	fs.BoolVar(&inv.ListRuns, "runs", false, "List recent runs and exit.")
	fs.BoolVar(&inv.Verbose, "v", false, "Verbose console logging.")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}
	if inv.DryRun && inv.ListRuns {
		return Invocation{}, invalidInvocationf("-dry-run and -runs are mutually exclusive")
	}

	resolvedRoot, err := resolveRoot(root)
	if err != nil {
		return Invocation{}, err
	}
	inv.ProjectRoot = resolvedRoot
	inv.Phase = strings.TrimSpace(inv.Phase)
	inv.Token = strings.TrimSpace(inv.Token)

	if inv.ConfigPath, err = resolveUnderRoot(resolvedRoot, inv.ConfigPath); err != nil {
		return Invocation{}, err
	}
	if inv.EnvFile, err = resolveUnderRoot(resolvedRoot, inv.EnvFile); err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" || !filepath.IsAbs(root) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", &InvocationError{ExitCode: ExitInternalError, Message: fmt.Sprintf("determine working directory: %v", err)}
		}
		root = filepath.Join(cwd, root)
	}
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return "", invalidInvocationf("project root %q: %v", root, err)
	}
	if !info.IsDir() {
		return "", invalidInvocationf("project root %q is not a directory", root)
	}
	return root, nil
}

// resolveUnderRoot keeps empty values empty (defaults apply later) and
// resolves relative paths under root.
func resolveUnderRoot(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", nil
	}
	clean := filepath.Clean(strings.TrimSpace(p))
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(root, clean), nil
}

// ExitCode extracts a semantic exit code from an invocation error.
// Unknown errors map to ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
