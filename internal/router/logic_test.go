package router

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

type gateRecorder struct {
	levels []int
}

func (g *gateRecorder) publish(s device.State) { g.levels = append(g.levels, s.Level) }

func newGate(t *testing.T) (*LogicOr, *gateRecorder) {
	t.Helper()
	g := NewLogicOr("gate", []string{"a", "b"}, nil)
	rec := &gateRecorder{}
	g.SetPublisher(rec.publish)
	return g, rec
}

func TestLogicOr_Composite(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"both off", "OFF", "OFF", 0},
		{"one on", "ON", "OFF", 100},
		{"other on", "OFF", "ON", 100},
		{"both on", "ON", "ON", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGate(t)
			g.Input("a", tt.a)
			g.Input("b", tt.b)
			if got := g.CurrentState().Level; got != tt.want {
				t.Errorf("output = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLogicOr_ForwardsChangesOnly(t *testing.T) {
	g, rec := newGate(t)

	g.Input("a", "OFF")
	g.Input("a", "ON")
	g.Input("b", "ON")
	g.Input("a", "OFF")
	g.Input("b", "OFF")

	if len(rec.levels) != 2 || rec.levels[0] != 100 || rec.levels[1] != 0 {
		t.Errorf("forwarded = %v, want [100 0]", rec.levels)
	}
}

func TestLogicOr_DisabledTracksSilently(t *testing.T) {
	g, rec := newGate(t)

	g.Enable("OFF")
	g.Input("a", "ON")
	g.Input("a", "OFF")
	g.Input("b", "ON")

	if len(rec.levels) != 0 {
		t.Fatalf("forwarded while disabled: %v", rec.levels)
	}
	if g.CurrentState().Level != 100 {
		t.Errorf("internal output = %d, want 100", g.CurrentState().Level)
	}

	// Re-enabling reflects the current composite, without the ON-OFF-ON
	// history of the disabled period.
	g.Enable("ON")
	if len(rec.levels) != 1 || rec.levels[0] != 100 {
		t.Errorf("forwarded on re-enable = %v, want [100]", rec.levels)
	}
}

func TestLogicOr_ReEnableUnchangedForwardsNothing(t *testing.T) {
	g, rec := newGate(t)

	g.Input("a", "ON")
	g.Enable("OFF")
	g.Input("b", "ON")
	g.Enable("ON")

	if len(rec.levels) != 1 {
		t.Errorf("forwarded = %v, want only the first ON", rec.levels)
	}
}

func TestLogicOr_Toggle(t *testing.T) {
	g, rec := newGate(t)

	g.Input("a", "TOGGLE")
	if g.CurrentState().Level != 100 {
		t.Errorf("after toggle output = %d, want 100", g.CurrentState().Level)
	}
	if err := g.HandleCommand("local", "2026-01-01T12:00:00.123456"); err != nil {
		t.Fatalf("HandleCommand(timestamp) error = %v", err)
	}
	if g.CurrentState().Level != 0 {
		t.Errorf("after second toggle output = %d, want 0", g.CurrentState().Level)
	}
	if len(rec.levels) != 2 {
		t.Errorf("forwarded = %v, want two changes", rec.levels)
	}
}

func TestLogicOr_Rejects(t *testing.T) {
	g, rec := newGate(t)

	if err := g.Input("a", "MAYBE"); !errors.Is(err, device.ErrCommandRejected) {
		t.Errorf("Input(MAYBE) error = %v", err)
	}
	if err := g.Enable("later"); !errors.Is(err, device.ErrCommandRejected) {
		t.Errorf("Enable(later) error = %v", err)
	}
	if err := g.HandleCommand("local", "50"); !errors.Is(err, device.ErrCommandRejected) {
		t.Errorf("HandleCommand(50) error = %v", err)
	}
	if len(rec.levels) != 0 || g.CurrentState().Level != 0 {
		t.Error("rejected tokens changed the gate")
	}
}

func TestInputNames(t *testing.T) {
	got := InputNames(map[string]string{"b": "x", "a": "y"}, map[string]string{"a": "z", "c": "w"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("InputNames() = %v", got)
	}
}
