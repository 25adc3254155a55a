package pipeline

import (
	"time"

	"stagehand/internal/config"
)

// PlannedStep is one step as it would run.
type PlannedStep struct {
	Phase   string
	Script  string
	Path    string
	WorkDir string
	Timeout time.Duration
	// Err is set when the script cannot be resolved or a required variable
	// is missing.
	Err error
}

// Plan resolves every step of the selected phases without running anything.
// An empty phase name selects all phases.
func (o *Orchestrator) Plan(phaseName string) ([]PlannedStep, error) {
	phases := o.cfg.Phases
	if phaseName != "" {
		p, ok := o.cfg.Phase(phaseName)
		if !ok {
			return nil, o.unknownPhase(phaseName)
		}
		phases = []config.Phase{p}
	}

	var plan []PlannedStep
	for _, phase := range phases {
		for _, step := range phase.Steps {
			ps := PlannedStep{Phase: phase.Name, Script: step.Script, Timeout: step.Timeout}
			path, err := o.resolver.Resolve(step.Script)
			if err != nil {
				ps.Err = err
				plan = append(plan, ps)
				continue
			}
			ps.Path = path
			ps.WorkDir = o.cfg.WorkDirFor(path)
			if missing := o.missingEnv(step.RequiresEnv); len(missing) > 0 {
				ps.Err = &MissingEnvError{Script: step.Script, Vars: missing}
			}
			plan = append(plan, ps)
		}
	}
	return plan, nil
}
