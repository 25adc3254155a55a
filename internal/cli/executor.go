package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"stagehand/internal/config"
	"stagehand/internal/core"
	"stagehand/internal/logging"
	"stagehand/internal/pipeline"
	"stagehand/internal/state"
	"stagehand/internal/trace"
)

// recentRuns is how many runs -runs lists.
const recentRuns = 10

// CLIResult is the outcome of one invocation.
type CLIResult struct {
	ExitCode int
	RunID    string
	Report   *pipeline.Report
}

// Execute runs inv with the configured interpreter.
func Execute(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (CLIResult, error) {
	return ExecuteWithRunner(ctx, inv, stdout, stderr, nil)
}

// ExecuteWithRunner is Execute with an injectable runner. A nil runner means
// a process runner built from the configuration.
func ExecuteWithRunner(ctx context.Context, inv Invocation, stdout, stderr io.Writer, runner core.Runner) (res CLIResult, err error) {
	res.ExitCode = ExitInternalError
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if err := config.LoadEnv(inv.ProjectRoot, inv.EnvFile); err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	cfg, err := config.Load(inv.ProjectRoot, inv.ConfigPath)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	if inv.ListRuns {
		store, err := state.NewStore(cfg.StateDir)
		if err != nil {
			return res, err
		}
		if err := printRuns(stdout, store, recentRuns); err != nil {
			return res, err
		}
		res.ExitCode = ExitSuccess
		return res, nil
	}

	if inv.Phase != "" {
		if _, ok := cfg.Phase(inv.Phase); !ok {
			res.ExitCode = ExitInvalidInvocation
			return res, &pipeline.UnknownPhaseError{Name: inv.Phase, Known: phaseNames(cfg)}
		}
	}

	level := slog.LevelInfo
	if inv.Verbose {
		level = slog.LevelDebug
	}
	logOpts := logging.Options{Console: stderr, Level: level}
	if !inv.DryRun {
		if err := cfg.EnsureLayout(); err != nil {
			return res, err
		}
		logOpts.Dir = cfg.LogsDir()
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return res, err
	}
	defer logger.Close()

	if runner == nil {
		runner = core.NewProcessRunner(cfg.Interpreter, cfg.Env)
	}
	env := credentialEnv(cfg, inv.Token)
	if len(env) == 0 && cfg.CredentialEnv != "" {
		logger.Debug("no credential configured", "var", cfg.CredentialEnv)
	}

	journal := trace.NewRecorder()
	opts := pipeline.Options{
		Runner: runner,
		Logger: logger.Logger,
		Stdout: stdout,
		Sink:   journal,
		Env:    env,
	}

	if inv.DryRun {
		orch, err := pipeline.New(cfg, opts)
		if err != nil {
			return res, err
		}
		plan, err := orch.Plan(inv.Phase)
		if err != nil {
			res.ExitCode = ExitInvalidInvocation
			return res, err
		}
		if printPlan(stdout, cfg.ProjectRoot, plan) {
			res.ExitCode = ExitPipelineFailure
		} else {
			res.ExitCode = ExitSuccess
		}
		return res, nil
	}

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return res, err
	}
	recorder := state.NewRecorder(store, journal, logger.Logger)
	opts.Observer = recorder

	orch, err := pipeline.New(cfg, opts)
	if err != nil {
		return res, err
	}
	run, err := recorder.Start(cfg.ProjectRoot, inv.Phase)
	if err != nil {
		return res, fmt.Errorf("start run manifest: %w", err)
	}
	res.RunID = run.RunID
	logger.Info("run started", "run", run.RunID, "root", cfg.ProjectRoot)

	var report *pipeline.Report
	var runErr error
	if inv.Phase != "" {
		report, runErr = orch.RunPhase(ctx, inv.Phase)
	} else {
		report, runErr = orch.Run(ctx)
	}
	final := recorder.Finish(report, runErr)
	res.Report = report

	if runErr != nil {
		var unknown *pipeline.UnknownPhaseError
		if errors.As(runErr, &unknown) {
			res.ExitCode = ExitInvalidInvocation
		}
		return res, runErr
	}

	fmt.Fprintf(stdout, "\n%s\n", logging.ASCII(summaryLine(final, report)))
	fmt.Fprintf(stdout, "Files: %s.\n", journal.Tally())
	if !report.Succeeded() {
		res.ExitCode = ExitPipelineFailure
		return res, nil
	}
	res.ExitCode = ExitSuccess
	return res, nil
}

// credentialEnv returns the credential exported to every script under each of
// the configured names. A -token value wins over the environment.
func credentialEnv(cfg config.Config, token string) map[string]string {
	if token == "" {
		for _, name := range cfg.CredentialVars() {
			if v, ok := os.LookupEnv(name); ok && v != "" {
				token = v
				break
			}
		}
	}
	if token == "" {
		return nil
	}
	env := make(map[string]string)
	for _, name := range cfg.CredentialVars() {
		env[name] = token
	}
	return env
}

func phaseNames(cfg config.Config) []string {
	names := make([]string, 0, len(cfg.Phases))
	for _, p := range cfg.Phases {
		names = append(names, p.Name)
	}
	return names
}

func summaryLine(run state.Run, report *pipeline.Report) string {
	if report.Succeeded() {
		return fmt.Sprintf("Pipeline finished OK (%s, run %s).", run.State, run.RunID)
	}
	if f := report.Failure; f != nil {
		return fmt.Sprintf("Pipeline FAILED at %s/%s (%s, run %s).", f.Phase, f.Step, run.State, run.RunID)
	}
	return fmt.Sprintf("Pipeline FAILED (%s, run %s).", run.State, run.RunID)
}
