package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// killGrace bounds how long Wait may block on inherited pipes after the
// process group has been killed.
const killGrace = 2 * time.Second

// ProcessRunner runs scripts as child processes of the configured interpreter.
type ProcessRunner struct {
	// Interpreter is the executable the script path is passed to
	// (e.g. "python3"). It is looked up in PATH.
	Interpreter string

	// Env is layered over BaseEnv for every script (e.g. forced UTF-8).
	Env map[string]string

	// BaseEnv is the inherited environment. Nil means os.Environ().
	BaseEnv []string
}

// NewProcessRunner creates a ProcessRunner for interpreter.
func NewProcessRunner(interpreter string, env map[string]string) *ProcessRunner {
	return &ProcessRunner{Interpreter: interpreter, Env: env}
}

// Run executes script and waits for it to exit.
//
// A missing script yields NotFoundError without spawning anything. The child
// is killed together with its process group when the timeout elapses or ctx
// is cancelled.
func (r *ProcessRunner) Run(ctx context.Context, script Script) (*Result, error) {
	label := script.Label()
	if strings.TrimSpace(r.Interpreter) == "" {
		return nil, &UnexpectedError{Script: label, Err: errors.New("interpreter is not configured")}
	}

	info, err := os.Stat(script.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Name: label, Path: script.Path}
		}
		return nil, &UnexpectedError{Script: label, Err: err}
	}
	if info.IsDir() {
		return nil, &NotFoundError{Name: label, Path: script.Path}
	}

	runCtx := ctx
	if script.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, script.Timeout)
		defer cancel()
	}

	cmd := exec.Command(r.Interpreter, script.Path)
	cmd.Dir = script.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(script.Path)
	}
	base := r.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = buildChildEnv(base, r.Env, script.Env)
	cmd.WaitDelay = killGrace
	configureCommandProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &UnexpectedError{Script: label, Err: fmt.Errorf("start %s: %w", r.Interpreter, err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-runCtx.Done():
		terminateCommandProcess(cmd)
		<-done
		result := &Result{
			Stdout:   DecodeText(stdout.Bytes()),
			Stderr:   DecodeText(stderr.Bytes()),
			ExitCode: -1,
			Duration: time.Since(start),
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, &TimeoutError{Script: label, Timeout: script.Timeout}
		}
		return result, &UnexpectedError{Script: label, Err: fmt.Errorf("cancelled: %w", runCtx.Err())}
	case waitErr = <-done:
	}

	result := &Result{
		Stdout:   DecodeText(stdout.Bytes()),
		Stderr:   DecodeText(stderr.Bytes()),
		Duration: time.Since(start),
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The child exited but a grandchild kept the pipes open.
		waitErr = nil
		if cmd.ProcessState != nil && !cmd.ProcessState.Success() {
			result.ExitCode = cmd.ProcessState.ExitCode()
			return result, &ExecutionError{Script: label, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExecutionError{Script: label, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		result.ExitCode = -1
		return result, &UnexpectedError{Script: label, Err: waitErr}
	}
	return result, nil
}

// buildChildEnv returns base with the overlays applied in order. Overridden
// base entries are dropped; overlay entries are appended in sorted key order
// so the child environment is stable between runs.
func buildChildEnv(base []string, overlays ...map[string]string) []string {
	merged := make(map[string]string)
	for _, o := range overlays {
		for k, v := range o {
			if k == "" {
				continue
			}
			merged[k] = v
		}
	}

	out := make([]string, 0, len(base)+len(merged))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := merged[key]; overridden {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
