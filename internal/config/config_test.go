package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: 1
interpreter: sh
credential_aliases: [token_inegi]
workdirs:
  fetch_root.sh: root
phases:
  - name: download
    steps:
      - script: notebooks/fetch.sh
        timeout: 30s
        requires_env: [INEGI_API_TOKEN]
    normalize:
      - kind: raw
  - name: process
    stop_on_fail: false
    steps:
      - script: build.sh
        precondition:
          copy:
            from: data/raw/edu_raw.csv
            to: data/raw/edu.csv
    normalize:
      - kind: processed
      - kind: interim
        extensions: [CSV, txt]
    promote: true
`

func TestParse_AppliesDefaultsAndResolvesPaths(t *testing.T) {
	root := t.TempDir()
	cfg, err := Parse(root, []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(root, "data", "raw"), cfg.Layout.RawDir)
	assert.Equal(t, filepath.Join(root, "data", "processed"), cfg.Layout.ProcessedDir)
	assert.Equal(t, filepath.Join(root, "data", "interim"), cfg.Layout.InterimDir)
	assert.Equal(t, filepath.Join(root, StateDirName), cfg.StateDir)
	assert.Equal(t, "sh", cfg.Interpreter)
	assert.Equal(t, "utf-8", cfg.Env["PYTHONIOENCODING"])
	assert.Equal(t, []string{"INEGI_API_TOKEN", "token_inegi"}, cfg.CredentialVars())

	require.NotEmpty(t, cfg.CandidateDirs)
	assert.Equal(t, root, cfg.CandidateDirs[0])
	assert.Equal(t, filepath.Join(root, "scripts"), cfg.CandidateDirs[1])

	require.Len(t, cfg.Phases, 2)
	assert.True(t, cfg.Phases[0].StopsOnFail())
	assert.False(t, cfg.Phases[1].StopsOnFail())
	assert.Equal(t, 30*time.Second, cfg.Phases[0].Steps[0].Timeout)
	assert.Equal(t, 6, cfg.Promotion.Retries)
	assert.Equal(t, 800*time.Millisecond, cfg.Promotion.RetryDelay)
}

func TestNormalize_RemovesSourceDefaults(t *testing.T) {
	cfg, err := Parse(t.TempDir(), []byte(sampleYAML))
	require.NoError(t, err)

	raw := cfg.Phases[0].Normalize[0]
	processed := cfg.Phases[1].Normalize[0]
	interim := cfg.Phases[1].Normalize[1]

	assert.True(t, raw.RemovesSource())
	assert.True(t, processed.RemovesSource())
	assert.False(t, interim.RemovesSource(), "interim normalization must be non-destructive by default")

	assert.Equal(t, []string{".csv", ".txt"}, cfg.ExtensionsFor(interim))
	assert.Contains(t, cfg.ExtensionsFor(raw), ".xls")
}

func TestWorkDirFor(t *testing.T) {
	root := t.TempDir()
	cfg, err := Parse(root, []byte(sampleYAML))
	require.NoError(t, err)

	inRoot := filepath.Join(root, "notebooks", "fetch_root.sh")
	inScript := filepath.Join(root, "notebooks", "fetch.sh")
	assert.Equal(t, root, cfg.WorkDirFor(inRoot))
	assert.Equal(t, filepath.Join(root, "notebooks"), cfg.WorkDirFor(inScript))
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse(t.TempDir(), []byte("version: 1\nphasez: []\n"))
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"no phases":        "version: 1\nphases: []\n",
		"empty steps":      "phases:\n  - name: a\n    steps: []\n",
		"early promote":    "phases:\n  - name: a\n    promote: true\n    steps: [{script: x}]\n  - name: b\n    steps: [{script: y}]\n",
		"bad kind":         "phases:\n  - name: a\n    steps: [{script: x}]\n    normalize: [{kind: cooked}]\n",
		"bad workdir":      "workdirs: {x.py: elsewhere}\nphases:\n  - name: a\n    steps: [{script: x}]\n",
		"duplicate phases": "phases:\n  - name: a\n    steps: [{script: x}]\n  - name: A\n    steps: [{script: y}]\n",
		"half precondition": "phases:\n  - name: a\n    steps:\n      - script: x\n        precondition: {copy: {from: a.csv}}\n",
		"nested data dir":  "data_dir: a/b\nphases:\n  - name: a\n    steps: [{script: x}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(t.TempDir(), []byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DefaultFileMissingIsConfigError(t *testing.T) {
	root := t.TempDir()
	_, err := Load(root, "")
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, filepath.Join(root, FileName), cfgErr.Path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoad_ReadsProjectFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(sampleYAML), 0o644))

	cfg, err := Load(root, "")
	require.NoError(t, err)
	p, ok := cfg.Phase("PROCESS")
	require.True(t, ok)
	assert.True(t, p.Promote)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(t.TempDir(), "missing.yaml")
	require.Error(t, err)
}

func TestLoad_RelativeRootRejected(t *testing.T) {
	_, err := Load("relative/root", "")
	require.Error(t, err)
}

func TestLoadEnv_DoesNotOverrideExisting(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("STAGEHAND_TEST_A=from-file\nSTAGEHAND_TEST_B=from-file\n"), 0o644))
	t.Setenv("STAGEHAND_TEST_A", "from-env")
	os.Unsetenv("STAGEHAND_TEST_B")
	t.Cleanup(func() { os.Unsetenv("STAGEHAND_TEST_B") })

	require.NoError(t, LoadEnv(root, ""))
	assert.Equal(t, "from-env", os.Getenv("STAGEHAND_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("STAGEHAND_TEST_B"))
}

func TestLoadEnv_MissingDefaultFileIsFine(t *testing.T) {
	assert.NoError(t, LoadEnv(t.TempDir(), ""))
	assert.Error(t, LoadEnv(t.TempDir(), "custom.env"))
}

func TestEnsureLayout(t *testing.T) {
	root := t.TempDir()
	cfg, err := Parse(root, []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureLayout())
	for _, kind := range []Kind{KindRaw, KindProcessed, KindInterim} {
		info, err := os.Stat(cfg.Layout.Dir(kind))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
