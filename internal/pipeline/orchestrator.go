package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stagehand/internal/config"
	"stagehand/internal/core"
	"stagehand/internal/logging"
	"stagehand/internal/staging"
	"stagehand/internal/trace"
)

// Observer is notified as a run progresses. Implementations must not block.
type Observer interface {
	OnStateChange(from, to RunState)
	OnStepFinished(result StepResult)
}

// Options carries the collaborators of an Orchestrator.
type Options struct {
	// Runner executes scripts. Required.
	Runner core.Runner
	// Logger receives diagnostics. Nil discards.
	Logger *slog.Logger
	// Stdout receives the relayed standard output of every script and the
	// phase banners. Nil discards.
	Stdout io.Writer
	// Sink receives file operation events. Nil discards.
	Sink trace.Sink
	// Observer may be nil.
	Observer Observer
	// Env is passed to every script on top of the runner's environment.
	Env map[string]string
	// LookupEnv checks requires_env. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Orchestrator runs the phases of one Config.
type Orchestrator struct {
	cfg      config.Config
	runner   core.Runner
	log      *slog.Logger
	stdout   io.Writer
	sink     trace.Sink
	observer Observer
	env      map[string]string
	lookup   func(string) (string, bool)

	resolver   *core.Resolver
	copier     *staging.Copier
	normalizer *staging.Normalizer
}

// New creates an Orchestrator.
func New(cfg config.Config, opts Options) (*Orchestrator, error) {
	if opts.Runner == nil {
		return nil, errors.New("pipeline: runner is required")
	}
	if len(cfg.Phases) == 0 {
		return nil, errors.New("pipeline: no phases configured")
	}
	o := &Orchestrator{
		cfg:      cfg,
		runner:   opts.Runner,
		log:      opts.Logger,
		stdout:   opts.Stdout,
		sink:     opts.Sink,
		observer: opts.Observer,
		env:      opts.Env,
		lookup:   opts.LookupEnv,
	}
	if o.log == nil {
		o.log = logging.Discard()
	}
	if o.stdout == nil {
		o.stdout = io.Discard
	}
	if o.lookup == nil {
		o.lookup = os.LookupEnv
	}

	dataName := filepath.Base(cfg.Layout.DataDir)
	o.resolver = &core.Resolver{
		Root:          cfg.ProjectRoot,
		CandidateDirs: cfg.CandidateDirs,
		ExcludeDirs:   append(append([]string(nil), cfg.ExcludeDirs...), dataName),
	}
	o.copier = staging.NewCopier(cfg.Promotion.Retries, cfg.Promotion.RetryDelay, o.log, o.sink)
	o.normalizer = &staging.Normalizer{
		Root:        cfg.ProjectRoot,
		DataDirName: dataName,
		ExcludeDirs: cfg.ExcludeDirs,
		Copier:      o.copier,
		Logger:      o.log,
		Sink:        o.sink,
	}
	return o, nil
}

// Run executes every configured phase in order.
//
// A failing step in a stop-on-fail phase ends the run; the report then has a
// Failure and Succeeded returns false. The error return is reserved for
// problems of the orchestrator itself.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	indices := make([]int, len(o.cfg.Phases))
	for i := range indices {
		indices[i] = i
	}
	return o.run(ctx, indices)
}

// RunPhase executes a single phase by name (case-insensitive), including its
// normalization and, when configured, promotion.
func (o *Orchestrator) RunPhase(ctx context.Context, name string) (*Report, error) {
	for i, p := range o.cfg.Phases {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return o.run(ctx, []int{i})
		}
	}
	return nil, o.unknownPhase(name)
}

func (o *Orchestrator) unknownPhase(name string) error {
	known := make([]string, 0, len(o.cfg.Phases))
	for _, p := range o.cfg.Phases {
		known = append(known, p.Name)
	}
	return &UnknownPhaseError{Name: name, Known: known}
}

func (o *Orchestrator) run(ctx context.Context, indices []int) (*Report, error) {
	report := &Report{}
	machine := NewMachine(func(from, to RunState) {
		o.log.Debug("run state", "from", from.String(), "to", to.String())
		if o.observer != nil {
			o.observer.OnStateChange(from, to)
		}
	})
	defer func() { report.States = machine.History() }()

	for _, idx := range indices {
		phase := o.cfg.Phases[idx]
		n := idx + 1
		if err := machine.Transition(running(n)); err != nil {
			return report, err
		}

		pr, failure := o.runPhase(ctx, phase)
		if failure != nil {
			report.Phases = append(report.Phases, pr)
			report.Failure = failure
			if err := machine.Transition(failed(n)); err != nil {
				return report, err
			}
			o.log.Error("phase failed", "phase", phase.Name, "step", failure.Step, "err", failure.Err)
			return report, nil
		}

		pr.Normalize = o.normalize(phase)
		report.Phases = append(report.Phases, pr)
		if err := machine.Transition(normalized(n)); err != nil {
			return report, err
		}
		o.log.Info("phase finished", "phase", phase.Name,
			"steps", len(pr.Steps), "failed", pr.Failed())

		if phase.Promote {
			promotion := o.promote()
			report.Promotion = &promotion
			if err := machine.Transition(promoted(n)); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// runPhase runs the steps of phase. The returned StepResult is non-nil when
// the phase must abort the run.
func (o *Orchestrator) runPhase(ctx context.Context, phase config.Phase) (PhaseReport, *StepResult) {
	pr := PhaseReport{Name: phase.Name}
	fmt.Fprintf(o.stdout, "\n=== %s ===\n", logging.ASCII(phase.Name))

	for _, step := range phase.Steps {
		var res StepResult
		if err := ctx.Err(); err != nil {
			res = StepResult{
				Phase:   phase.Name,
				Step:    step.Script,
				Outcome: OutcomeFailed,
				Started: time.Now(),
				Err:     &core.UnexpectedError{Script: step.Script, Err: fmt.Errorf("cancelled: %w", err)},
			}
		} else {
			res = o.runStep(ctx, phase.Name, step)
		}
		pr.Steps = append(pr.Steps, res)
		if o.observer != nil {
			o.observer.OnStepFinished(res)
		}
		if res.Outcome == OutcomeSucceeded {
			continue
		}

		// Cancellation aborts every phase.
		if phase.StopsOnFail() || ctx.Err() != nil {
			pr.Aborted = true
			failure := res
			return pr, &failure
		}
		o.log.Warn("step failed, continuing", "phase", phase.Name, "step", step.Script, "err", res.Err)
	}
	return pr, nil
}

func (o *Orchestrator) runStep(ctx context.Context, phaseName string, step config.Step) (res StepResult) {
	res = StepResult{
		Phase:   phaseName,
		Step:    step.Script,
		Started: time.Now(),
		Outcome: OutcomeFailed,
	}
	defer func() { res.Duration = time.Since(res.Started) }()

	path, err := o.resolver.Resolve(step.Script)
	if err != nil {
		o.reportNotFound(step.Script, err)
		res.Err = err
		return res
	}
	res.Path = path

	if missing := o.missingEnv(step.RequiresEnv); len(missing) > 0 {
		res.Err = &MissingEnvError{Script: step.Script, Vars: missing}
		o.log.Error("missing environment", "step", step.Script, "vars", strings.Join(missing, ","))
		return res
	}

	if step.Precondition != nil && step.Precondition.Copy != nil {
		if err := o.satisfyCopy(step.Script, *step.Precondition.Copy); err != nil {
			res.Err = err
			o.log.Error("precondition not met", "step", step.Script, "err", err)
			return res
		}
	}

	script := core.Script{
		Name:    step.Script,
		Path:    path,
		Dir:     o.cfg.WorkDirFor(path),
		Timeout: step.Timeout,
		Env:     o.env,
	}
	o.log.Info("starting script", "step", step.Script, "cwd", script.Dir)

	out, err := o.safeRun(ctx, script)
	if out != nil {
		res.ExitCode = out.ExitCode
		if out.Stdout != "" {
			_, _ = io.WriteString(o.stdout, out.Stdout)
		}
		if s := strings.TrimSpace(out.Stderr); s != "" {
			o.log.Warn("script wrote to stderr", "step", step.Script, "stderr", s)
		}
	}
	if err != nil {
		res.Err = err
		o.log.Error("script failed", "step", step.Script, "err", err)
		return res
	}
	res.Outcome = OutcomeSucceeded
	o.log.Info("script finished", "step", step.Script, "duration", time.Since(res.Started).Round(time.Millisecond))
	return res
}

// safeRun converts a panicking runner into an UnexpectedError.
func (o *Orchestrator) safeRun(ctx context.Context, script core.Script) (res *core.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &core.UnexpectedError{Script: script.Label(), Err: fmt.Errorf("runner panic: %v", r)}
		}
	}()
	return o.runner.Run(ctx, script)
}

func (o *Orchestrator) reportNotFound(name string, err error) {
	var nf *core.NotFoundError
	if !errors.As(err, &nf) || len(nf.Suggestions) == 0 {
		o.log.Error("script not found in project", "step", name)
		return
	}
	o.log.Error("script not found in project", "step", name, "suggestions", len(nf.Suggestions))
	for _, s := range nf.Suggestions {
		o.log.Info("did you mean", "path", s)
	}
}

func (o *Orchestrator) missingEnv(vars []string) []string {
	var missing []string
	for _, v := range vars {
		if val, ok := o.env[v]; ok && val != "" {
			continue
		}
		if val, ok := o.lookup(v); ok && val != "" {
			continue
		}
		missing = append(missing, v)
	}
	return missing
}

func (o *Orchestrator) satisfyCopy(script string, cp config.CopySpec) error {
	from := o.cfg.ResolvePath(cp.From)
	to := o.cfg.ResolvePath(cp.To)
	if _, err := os.Stat(from); err != nil {
		return &PreconditionError{Script: script, From: cp.From, To: cp.To,
			Err: &core.NotFoundError{Name: cp.From, Path: from}}
	}
	if _, err := o.copier.Copy(from, to); err != nil {
		return &PreconditionError{Script: script, From: cp.From, To: cp.To, Err: err}
	}
	o.log.Info("prerequisite prepared", "from", cp.From, "to", cp.To)
	return nil
}

func (o *Orchestrator) normalize(phase config.Phase) []NormalizeReport {
	var out []NormalizeReport
	for _, n := range phase.Normalize {
		kind := string(n.Kind)
		stats, err := o.normalizer.Normalize(kind, o.cfg.Layout.Dir(n.Kind), o.cfg.ExtensionsFor(n), n.RemovesSource())
		if err != nil {
			o.log.Warn("normalization incomplete", "kind", kind, "err", err)
		}
		out = append(out, NormalizeReport{Kind: kind, Stats: stats, Err: err})
	}
	return out
}

func (o *Orchestrator) promote() staging.PromotionReport {
	fmt.Fprintf(o.stdout, "\n=== promote to %s ===\n", filepath.Base(o.cfg.Layout.InterimDir))
	p := &staging.Promoter{
		DataDir:  o.cfg.Layout.DataDir,
		Patterns: o.cfg.Promotion.Patterns,
		Dest:     o.cfg.Layout.InterimDir,
		WipeDir:  o.cfg.Layout.ProcessedDir,
		Copier:   o.copier,
		Logger:   o.log,
		Sink:     o.sink,
	}
	report, err := p.Promote()
	if err != nil {
		o.log.Warn("promotion incomplete", "err", err)
	}
	o.log.Info("promotion finished", "candidates", report.Candidates, "copied", report.Copied,
		"skipped", report.Skipped, "failed", len(report.Failed))
	return report
}
