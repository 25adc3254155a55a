package pipeline

import "fmt"

// Stage is the coarse position of a run.
type Stage string

const (
	StageInit       Stage = "INIT"
	StageRunning    Stage = "RUNNING"
	StageFailed     Stage = "FAILED"
	StageNormalized Stage = "NORMALIZED"
	StagePromoted   Stage = "PROMOTED"
)

// RunState is a Stage bound to a 1-based phase number. Phase is zero for
// INIT.
type RunState struct {
	Phase int   `json:"phase"`
	Stage Stage `json:"stage"`
}

func (s RunState) String() string {
	switch s.Stage {
	case StageInit, StagePromoted:
		return string(s.Stage)
	case StageRunning:
		return fmt.Sprintf("RUNNING_PHASE_%d", s.Phase)
	case StageFailed, StageNormalized:
		return fmt.Sprintf("PHASE_%d_%s", s.Phase, s.Stage)
	default:
		return fmt.Sprintf("%s(%d)", s.Stage, s.Phase)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s.Stage == StageFailed || s.Stage == StagePromoted
}

func running(n int) RunState    { return RunState{Phase: n, Stage: StageRunning} }
func failed(n int) RunState     { return RunState{Phase: n, Stage: StageFailed} }
func normalized(n int) RunState { return RunState{Phase: n, Stage: StageNormalized} }
func promoted(n int) RunState   { return RunState{Phase: n, Stage: StagePromoted} }

// Machine tracks the state of one run and rejects illegal transitions.
type Machine struct {
	current  RunState
	history  []RunState
	onChange func(from, to RunState)
}

// NewMachine returns a machine in INIT. onChange may be nil.
func NewMachine(onChange func(from, to RunState)) *Machine {
	start := RunState{Stage: StageInit}
	return &Machine{current: start, history: []RunState{start}, onChange: onChange}
}

// Current returns the current state.
func (m *Machine) Current() RunState { return m.current }

// History returns every state visited, in order, starting with INIT.
func (m *Machine) History() []RunState {
	out := make([]RunState, len(m.history))
	copy(out, m.history)
	return out
}

// Transition moves to `to` if the move is allowed.
func (m *Machine) Transition(to RunState) error {
	from := m.current
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed run transition: %s -> %s", from, to)
	}
	m.current = to
	m.history = append(m.history, to)
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}

func isAllowedTransition(from, to RunState) bool {
	switch from.Stage {
	case StageInit:
		// A single-phase run may start at any phase number.
		return to.Stage == StageRunning && to.Phase >= 1
	case StageRunning:
		return (to.Stage == StageFailed || to.Stage == StageNormalized) && to.Phase == from.Phase
	case StageNormalized:
		switch to.Stage {
		case StageRunning:
			return to.Phase == from.Phase+1
		case StagePromoted:
			return to.Phase == from.Phase
		}
		return false
	default:
		return false
	}
}
