package pipeline

import (
	"testing"
)

func TestMachine_ValidSequence(t *testing.T) {
	var seen []string
	m := NewMachine(func(from, to RunState) { seen = append(seen, from.String()+">"+to.String()) })

	for _, to := range []RunState{running(1), normalized(1), running(2), normalized(2), promoted(2)} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if !m.Current().IsTerminal() {
		t.Fatalf("PROMOTED must be terminal")
	}
	if len(seen) != 5 || seen[0] != "INIT>RUNNING_PHASE_1" || seen[4] != "PHASE_2_NORMALIZED>PROMOTED" {
		t.Fatalf("unexpected callbacks: %v", seen)
	}
	if got := len(m.History()); got != 6 {
		t.Fatalf("history length = %d", got)
	}
}

func TestMachine_RejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		path []RunState
	}{
		{"skip running", []RunState{normalized(1)}},
		{"phase mismatch", []RunState{running(1), failed(2)}},
		{"skip a phase", []RunState{running(1), normalized(1), running(3)}},
		{"retry after failure", []RunState{running(1), failed(1), running(1)}},
		{"rerun phase", []RunState{running(1), normalized(1), running(1)}},
		{"promote while running", []RunState{running(1), promoted(1)}},
		{"leave promoted", []RunState{running(1), normalized(1), promoted(1), running(2)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine(nil)
			var err error
			for _, s := range tc.path {
				if err = m.Transition(s); err != nil {
					break
				}
			}
			if err == nil {
				t.Fatalf("expected the path %v to be rejected", tc.path)
			}
		})
	}
}

func TestRunState_String(t *testing.T) {
	cases := map[RunState]string{
		{Stage: StageInit}: "INIT",
		running(3):         "RUNNING_PHASE_3",
		failed(1):          "PHASE_1_FAILED",
		normalized(2):      "PHASE_2_NORMALIZED",
		promoted(2):        "PROMOTED",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%#v.String() = %q, want %q", s, got, want)
		}
	}
}
