package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	icl "stagehand/internal/cli"
	"stagehand/internal/config"
	"stagehand/internal/state"
)

const pipelineYAML = `
version: 1
interpreter: sh
credential_env: STAGEHAND_E2E_TOKEN
phases:
  - name: download
    steps:
      - script: a.sh
    normalize:
      - kind: raw
  - name: process
    steps:
      - script: b.sh
    normalize:
      - kind: processed
    promote: true
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newProject(t *testing.T, b string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh scripts")
	}
	t.Setenv("STAGEHAND_E2E_TOKEN", "")
	root := t.TempDir()
	writeFile(t, filepath.Join(root, config.FileName), pipelineYAML)
	// a.sh runs from its own directory (the project root here).
	writeFile(t, filepath.Join(root, "a.sh"), "mkdir -p data/raw\necho 'id,v' > data/raw/x.csv\necho downloaded\n")
	writeFile(t, filepath.Join(root, "b.sh"), b)
	return root
}

func TestRun_RequiredStepFailureExitsOneAndKeepsEarlierOutputs(t *testing.T) {
	root := newProject(t, "echo 'cannot parse input' >&2\nexit 1\n")

	// The project root is passed explicitly; the working directory is elsewhere.
	testChdir(t, t.TempDir())

	var stdout, stderr bytes.Buffer
	res, err := icl.Run(context.Background(), []string{"-root", root}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != icl.ExitPipelineFailure {
		t.Fatalf("exit = %d, want %d\nstdout:\n%s\nstderr:\n%s", res.ExitCode, icl.ExitPipelineFailure, stdout.String(), stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, "data", "raw", "x.csv")); err != nil {
		t.Fatalf("expected x.csv from the successful step: %v", err)
	}
	if !strings.Contains(stdout.String(), "downloaded") {
		t.Fatalf("expected relayed stdout, got:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "cannot parse input") {
		t.Fatalf("expected stderr of the failing script in diagnostics, got:\n%s", stderr.String())
	}

	store, err := state.NewStore(filepath.Join(root, config.StateDirName))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	run, err := store.LoadRun(res.RunID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != state.RunStatusFailed || run.State != "PHASE_2_FAILED" {
		t.Fatalf("unexpected run record: %+v", run)
	}
	f, err := store.LoadFailure(res.RunID)
	if err != nil {
		t.Fatalf("load failure: %v", err)
	}
	if f.ExitCode == nil || *f.ExitCode != 1 {
		t.Fatalf("expected exit code 1 in failure record, got %+v", f)
	}
}

func TestRun_SuccessfulPipelinePromotes(t *testing.T) {
	root := newProject(t, "mkdir -p data/processed\necho 'id,v' > data/processed/clean.csv\n")

	var stdout bytes.Buffer
	res, err := icl.Run(context.Background(), []string{"-root", root}, &stdout, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != icl.ExitSuccess {
		t.Fatalf("exit = %d, want %d\n%s", res.ExitCode, icl.ExitSuccess, stdout.String())
	}
	if _, err := os.Stat(filepath.Join(root, "data", "interim", "clean.csv")); err != nil {
		t.Fatalf("expected promoted file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "data", "processed", "clean.csv")); !os.IsNotExist(err) {
		t.Fatalf("expected processed directory to be wiped, stat err = %v", err)
	}

	// A second run finds nothing new to copy and still succeeds.
	res2, err := icl.Run(context.Background(), []string{"-root", root}, &stdout, nil)
	if err != nil || res2.ExitCode != icl.ExitSuccess {
		t.Fatalf("second run: res=%+v err=%v", res2, err)
	}
}

func TestRun_InvalidInvocation(t *testing.T) {
	res, err := icl.Run(context.Background(), []string{"unexpected"}, nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != icl.ExitInvalidInvocation {
		t.Fatalf("exit = %d, want %d", res.ExitCode, icl.ExitInvalidInvocation)
	}
}

// testChdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it
// changes the working directory and restores it when the test finishes.
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
