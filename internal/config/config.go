// Package config loads the pipeline definition (stagehand.yaml) and turns it
// into an immutable Config value that the orchestrator is constructed with.
//
// Every path in a Config is absolute and cleaned; nothing downstream consults
// the process working directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the pipeline definition looked up at the project root.
	FileName = "stagehand.yaml"

	// StateDirName holds logs and run manifests under the project root.
	StateDirName = ".stagehand"

	defaultDataDir       = "data"
	defaultCredentialEnv = "INEGI_API_TOKEN"
	defaultCopyRetries   = 6
	defaultRetryDelay    = 800 * time.Millisecond
	maxCopyRetries       = 50
)

// Kind names one of the three staging directories.
type Kind string

const (
	KindRaw       Kind = "raw"
	KindProcessed Kind = "processed"
	KindInterim   Kind = "interim"
)

// WorkDirMode selects the working directory a script is run from.
type WorkDirMode string

const (
	// WorkDirScript runs the script from its own directory (the default).
	WorkDirScript WorkDirMode = "script"
	// WorkDirRoot runs the script from the project root.
	WorkDirRoot WorkDirMode = "root"
)

// CopySpec copies a prerequisite file to the name a step expects.
// Paths are relative to the project root.
type CopySpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Precondition must hold before a step is allowed to run.
type Precondition struct {
	Copy *CopySpec `yaml:"copy,omitempty"`
}

// Step is one producer script reference inside a phase.
type Step struct {
	Script       string        `yaml:"script"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	RequiresEnv  []string      `yaml:"requires_env,omitempty"`
	Precondition *Precondition `yaml:"precondition,omitempty"`
}

// Normalize heals shadow copies of one staging directory after a phase.
type Normalize struct {
	Kind         Kind     `yaml:"kind"`
	Extensions   []string `yaml:"extensions,omitempty"`
	RemoveSource *bool    `yaml:"remove_source,omitempty"`
}

// RemovesSource reports whether shadow files are deleted after being merged.
// Interim normalization is non-destructive unless configured otherwise.
func (n Normalize) RemovesSource() bool {
	if n.RemoveSource != nil {
		return *n.RemoveSource
	}
	return n.Kind != KindInterim
}

// Phase is an ordered list of steps plus its post-phase file handling.
type Phase struct {
	Name       string      `yaml:"name"`
	StopOnFail *bool       `yaml:"stop_on_fail,omitempty"`
	Steps      []Step      `yaml:"steps"`
	Normalize  []Normalize `yaml:"normalize,omitempty"`
	Promote    bool        `yaml:"promote,omitempty"`
}

// StopsOnFail reports whether the first failing step aborts the pipeline.
func (p Phase) StopsOnFail() bool {
	if p.StopOnFail == nil {
		return true
	}
	return *p.StopOnFail
}

// Promotion configures the final copy into the interim directory.
type Promotion struct {
	// Patterns are globs relative to the data directory; "**" matches any
	// number of directories.
	Patterns   []string      `yaml:"patterns,omitempty"`
	Retries    int           `yaml:"retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`
}

// File models stagehand.yaml.
type File struct {
	Version           int                    `yaml:"version"`
	DataDir           string                 `yaml:"data_dir,omitempty"`
	Interpreter       string                 `yaml:"interpreter,omitempty"`
	Env               map[string]string      `yaml:"env,omitempty"`
	CredentialEnv     string                 `yaml:"credential_env,omitempty"`
	CredentialAliases []string               `yaml:"credential_aliases,omitempty"`
	CandidateDirs     []string               `yaml:"candidate_dirs,omitempty"`
	ExcludeDirs       []string               `yaml:"exclude_dirs,omitempty"`
	WorkDirs          map[string]WorkDirMode `yaml:"workdirs,omitempty"`
	Extensions        map[Kind][]string      `yaml:"extensions,omitempty"`
	Promotion         Promotion              `yaml:"promotion,omitempty"`
	Phases            []Phase                `yaml:"phases"`
}

// Layout is the fixed staging layout under the data root.
type Layout struct {
	DataDir      string
	RawDir       string
	ProcessedDir string
	InterimDir   string
}

// Dir returns the canonical directory for kind.
func (l Layout) Dir(kind Kind) string {
	switch kind {
	case KindRaw:
		return l.RawDir
	case KindProcessed:
		return l.ProcessedDir
	case KindInterim:
		return l.InterimDir
	default:
		return ""
	}
}

// Config is the resolved runtime configuration.
//
// Treat it as immutable once Load returns: the orchestrator keeps its own
// copy and never writes to it.
type Config struct {
	ProjectRoot string
	StateDir    string
	Layout      Layout

	Interpreter       string
	Env               map[string]string
	CredentialEnv     string
	CredentialAliases []string

	// CandidateDirs are absolute, in search order.
	CandidateDirs []string
	// ExcludeDirs are directory base names never searched (noise).
	ExcludeDirs []string
	WorkDirs    map[string]WorkDirMode
	Extensions  map[Kind][]string

	Promotion Promotion
	Phases    []Phase
}

// ConfigError reports an unusable pipeline definition.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path != "" {
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads the pipeline definition for projectRoot.
//
// When path is empty, <projectRoot>/stagehand.yaml is used. The file must
// exist either way: the built-in defaults supply paths and tunables but no
// phases, so there is nothing to run without a definition.
func Load(projectRoot, path string) (Config, error) {
	root := filepath.Clean(strings.TrimSpace(projectRoot))
	if root == "" || root == "." {
		return Config{}, &ConfigError{Err: errors.New("project root is required")}
	}
	if !filepath.IsAbs(root) {
		return Config{}, &ConfigError{Err: fmt.Errorf("project root must be absolute (got %q)", projectRoot)}
	}

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	} else {
		path = resolvePath(root, path)
	}

	var parsed File
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeStrict(data, &parsed); err != nil {
			return Config{}, &ConfigError{Path: path, Err: fmt.Errorf("parse: %w", err)}
		}
	case errors.Is(err, fs.ErrNotExist):
		return Config{}, &ConfigError{Path: path, Err: fmt.Errorf("no pipeline definition: %w", err)}
	default:
		return Config{}, &ConfigError{Path: path, Err: err}
	}

	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	return parsed.resolve(root), nil
}

// Parse builds a Config from an in-memory definition. It is what Load does
// after reading the file; tests use it to avoid touching disk.
func Parse(projectRoot string, data []byte) (Config, error) {
	root := filepath.Clean(projectRoot)
	if !filepath.IsAbs(root) {
		return Config{}, &ConfigError{Err: fmt.Errorf("project root must be absolute (got %q)", projectRoot)}
	}
	var parsed File
	if err := decodeStrict(data, &parsed); err != nil {
		return Config{}, &ConfigError{Err: fmt.Errorf("parse: %w", err)}
	}
	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return Config{}, &ConfigError{Err: err}
	}
	return parsed.resolve(root), nil
}

// LoadEnv populates the process environment from <projectRoot>/.env (or
// envFile when set). Variables already present in the environment win.
// A missing default file is not an error.
func LoadEnv(projectRoot, envFile string) error {
	explicit := strings.TrimSpace(envFile) != ""
	path := filepath.Join(projectRoot, ".env")
	if explicit {
		path = resolvePath(projectRoot, envFile)
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigError{Path: path, Err: fmt.Errorf("load env file: %w", err)}
	}
	return nil
}

// EnsureLayout creates the staging directories and the state directory.
func (c Config) EnsureLayout() error {
	dirs := []string{c.Layout.RawDir, c.Layout.ProcessedDir, c.Layout.InterimDir, c.StateDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// LogsDir returns the directory the file log is written to.
func (c Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// WorkDirFor returns the working directory a resolved script runs from.
func (c Config) WorkDirFor(scriptPath string) string {
	if c.WorkDirs[filepath.Base(scriptPath)] == WorkDirRoot {
		return c.ProjectRoot
	}
	return filepath.Dir(scriptPath)
}

// ExtensionsFor returns the allow-list used when normalizing n.
func (c Config) ExtensionsFor(n Normalize) []string {
	if len(n.Extensions) > 0 {
		return n.Extensions
	}
	return c.Extensions[n.Kind]
}

// Phase looks up a phase by name (case-insensitive).
func (c Config) Phase(name string) (Phase, bool) {
	for _, p := range c.Phases {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Phase{}, false
}

// ResolvePath resolves a project-relative path.
func (c Config) ResolvePath(p string) string {
	return resolvePath(c.ProjectRoot, p)
}

// CredentialVars returns the environment variable names the credential is
// exported under, primary name first.
func (c Config) CredentialVars() []string {
	vars := make([]string, 0, 1+len(c.CredentialAliases))
	if c.CredentialEnv != "" {
		vars = append(vars, c.CredentialEnv)
	}
	return append(vars, c.CredentialAliases...)
}

func decodeStrict(data []byte, dst *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func (f *File) applyDefaults() {
	if f.Version == 0 {
		f.Version = 1
	}
	f.DataDir = strings.TrimSpace(f.DataDir)
	if f.DataDir == "" {
		f.DataDir = defaultDataDir
	}
	if strings.TrimSpace(f.Interpreter) == "" {
		f.Interpreter = defaultInterpreter()
	}
	if f.Env == nil {
		f.Env = map[string]string{
			"PYTHONIOENCODING": "utf-8",
			"PYTHONUTF8":       "1",
		}
	}
	if strings.TrimSpace(f.CredentialEnv) == "" {
		f.CredentialEnv = defaultCredentialEnv
	}
	if len(f.CandidateDirs) == 0 {
		f.CandidateDirs = []string{".", "scripts", "notebooks", "src", "etl", "processing"}
	}
	if len(f.ExcludeDirs) == 0 {
		f.ExcludeDirs = []string{".git", ".venv", "venv", "__pycache__", StateDirName}
	}
	if f.WorkDirs == nil {
		f.WorkDirs = map[string]WorkDirMode{}
	}
	if f.Extensions == nil {
		f.Extensions = map[Kind][]string{}
	}
	if _, ok := f.Extensions[KindRaw]; !ok {
		f.Extensions[KindRaw] = []string{".csv", ".xlsx", ".xls", ".parquet", ".feather", ".txt", ".log"}
	}
	for _, kind := range []Kind{KindProcessed, KindInterim} {
		if _, ok := f.Extensions[kind]; !ok {
			f.Extensions[kind] = []string{".csv", ".xlsx", ".parquet", ".feather", ".txt", ".log"}
		}
	}
	if len(f.Promotion.Patterns) == 0 {
		f.Promotion.Patterns = []string{"processed/**/*.csv", "raw/*procesad*.csv", "interim/**/*.csv"}
	}
	if f.Promotion.Retries == 0 {
		f.Promotion.Retries = defaultCopyRetries
	}
	if f.Promotion.RetryDelay == 0 {
		f.Promotion.RetryDelay = defaultRetryDelay
	}
	for i := range f.Phases {
		f.Phases[i].Name = strings.TrimSpace(f.Phases[i].Name)
		if f.Phases[i].Name == "" {
			f.Phases[i].Name = fmt.Sprintf("phase-%d", i+1)
		}
		for j := range f.Phases[i].Steps {
			f.Phases[i].Steps[j].Script = strings.TrimSpace(f.Phases[i].Steps[j].Script)
		}
	}
}

func (f *File) validate() error {
	var errs []error
	if f.Version != 1 {
		errs = append(errs, fmt.Errorf("unsupported version %d", f.Version))
	}
	if filepath.IsAbs(f.DataDir) || strings.Contains(filepath.ToSlash(f.DataDir), "/") {
		errs = append(errs, fmt.Errorf("data_dir must be a single directory name (got %q)", f.DataDir))
	}
	if f.Promotion.Retries < 0 || f.Promotion.Retries > maxCopyRetries {
		errs = append(errs, fmt.Errorf("promotion.retries must be between 0 and %d", maxCopyRetries))
	}
	if f.Promotion.RetryDelay < 0 {
		errs = append(errs, errors.New("promotion.retry_delay must be >= 0"))
	}
	for name, mode := range f.WorkDirs {
		switch mode {
		case WorkDirRoot, WorkDirScript:
		default:
			errs = append(errs, fmt.Errorf("workdirs[%s]: mode must be 'root' or 'script'", name))
		}
	}
	if len(f.Phases) == 0 {
		errs = append(errs, errors.New("at least one phase is required"))
	}
	seen := make(map[string]bool, len(f.Phases))
	for i, p := range f.Phases {
		key := strings.ToLower(p.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("phases[%d]: duplicate name %q", i, p.Name))
		}
		seen[key] = true
		if len(p.Steps) == 0 {
			errs = append(errs, fmt.Errorf("phases[%d] (%s): at least one step is required", i, p.Name))
		}
		if p.Promote && i != len(f.Phases)-1 {
			errs = append(errs, fmt.Errorf("phases[%d] (%s): only the last phase may promote", i, p.Name))
		}
		for j, s := range p.Steps {
			if err := s.validate(); err != nil {
				errs = append(errs, fmt.Errorf("phases[%d].steps[%d]: %w", i, j, err))
			}
		}
		for j, n := range p.Normalize {
			switch n.Kind {
			case KindRaw, KindProcessed, KindInterim:
			default:
				errs = append(errs, fmt.Errorf("phases[%d].normalize[%d]: unknown kind %q", i, j, n.Kind))
			}
		}
	}
	return errors.Join(errs...)
}

func (s Step) validate() error {
	if s.Script == "" {
		return errors.New("script is required")
	}
	if s.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	for _, v := range s.RequiresEnv {
		if strings.TrimSpace(v) == "" {
			return errors.New("requires_env entries must not be empty")
		}
	}
	if s.Precondition != nil && s.Precondition.Copy != nil {
		c := s.Precondition.Copy
		if strings.TrimSpace(c.From) == "" || strings.TrimSpace(c.To) == "" {
			return errors.New("precondition.copy requires from and to")
		}
	}
	return nil
}

func (f *File) resolve(root string) Config {
	data := filepath.Join(root, f.DataDir)
	cfg := Config{
		ProjectRoot: root,
		StateDir:    filepath.Join(root, StateDirName),
		Layout: Layout{
			DataDir:      data,
			RawDir:       filepath.Join(data, string(KindRaw)),
			ProcessedDir: filepath.Join(data, string(KindProcessed)),
			InterimDir:   filepath.Join(data, string(KindInterim)),
		},
		Interpreter:       strings.TrimSpace(f.Interpreter),
		Env:               copyMap(f.Env),
		CredentialEnv:     strings.TrimSpace(f.CredentialEnv),
		CredentialAliases: append([]string(nil), f.CredentialAliases...),
		ExcludeDirs:       append([]string(nil), f.ExcludeDirs...),
		WorkDirs:          make(map[string]WorkDirMode, len(f.WorkDirs)),
		Extensions:        make(map[Kind][]string, len(f.Extensions)),
		Promotion:         f.Promotion,
		Phases:            append([]Phase(nil), f.Phases...),
	}
	for _, d := range f.CandidateDirs {
		cfg.CandidateDirs = append(cfg.CandidateDirs, resolvePath(root, d))
	}
	for name, mode := range f.WorkDirs {
		cfg.WorkDirs[name] = mode
	}
	for kind, exts := range f.Extensions {
		cfg.Extensions[kind] = normalizeExtensions(exts)
	}
	cfg.Promotion.Patterns = append([]string(nil), f.Promotion.Patterns...)
	for i := range cfg.Phases {
		norms := make([]Normalize, len(cfg.Phases[i].Normalize))
		for j, n := range cfg.Phases[i].Normalize {
			n.Extensions = normalizeExtensions(n.Extensions)
			norms[j] = n
		}
		cfg.Phases[i].Normalize = norms
	}
	return cfg
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func defaultInterpreter() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
