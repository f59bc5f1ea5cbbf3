package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

// KindLogicOr is the device kind of an OR gate.
const KindLogicOr = "logic_or"

// LogicOr is an OR gate over named inputs.
//
// The output is ON while any input is ON. A TOGGLE or button timestamp on
// an input inverts the output instead of updating that input. While the
// enable source is OFF, input state keeps tracking but nothing is
// forwarded; re-enabling forwards the current output only if it differs
// from the last forwarded one. Only changes are forwarded.
type LogicOr struct {
	name   string
	logger device.Logger

	mu        sync.Mutex
	inputs    map[string]bool
	output    bool
	forwarded bool
	enabled   bool
	publish   func(device.State)
}

// NewLogicOr creates a gate. Every listed input starts OFF.
func NewLogicOr(name string, inputs []string, logger device.Logger) *LogicOr {
	if logger == nil {
		logger = device.NoopLogger{}
	}
	g := &LogicOr{
		name:    name,
		logger:  logger,
		inputs:  make(map[string]bool, len(inputs)),
		enabled: true,
	}
	for _, in := range inputs {
		g.inputs[in] = false
	}
	return g
}

// InputNames returns the sorted input names of a gate's bindings.
func InputNames(inputs ...map[string]string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range inputs {
		for name := range m {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (g *LogicOr) Name() string { return g.name }

// Input updates one input.
func (g *LogicOr) Input(name, token string) error {
	token = strings.TrimSpace(token)

	g.mu.Lock()
	if device.IsToggle(token) {
		g.output = !g.output
	} else {
		level, ok := device.ParseLevel(token)
		if !ok {
			g.mu.Unlock()
			return fmt.Errorf("%w: %s: input %s: %q", device.ErrCommandRejected, g.name, name, token)
		}
		g.inputs[name] = level > 0
		g.output = g.anyOn()
	}
	state, forward := g.forwardLocked()
	publish := g.publish
	g.mu.Unlock()

	if forward && publish != nil {
		publish(state)
	}
	return nil
}

// Enable switches forwarding on (ON) or off (OFF).
func (g *LogicOr) Enable(token string) error {
	level, ok := device.ParseLevel(strings.TrimSpace(token))
	if !ok {
		return fmt.Errorf("%w: %s: enable: %q", device.ErrCommandRejected, g.name, token)
	}

	g.mu.Lock()
	g.enabled = level > 0
	state, forward := g.forwardLocked()
	publish := g.publish
	g.mu.Unlock()

	g.logger.Info("logic gate enable changed", "actuator", g.name, "enabled", level > 0)
	if forward && publish != nil {
		publish(state)
	}
	return nil
}

// HandleCommand toggles the output or sets it to ON or OFF directly.
func (g *LogicOr) HandleCommand(_, token string) error {
	return g.set(token)
}

// Force behaves like HandleCommand; the gate keeps no command history.
func (g *LogicOr) Force(token string) error {
	return g.set(token)
}

func (g *LogicOr) set(token string) error {
	token = strings.TrimSpace(token)

	g.mu.Lock()
	if device.IsToggle(token) {
		g.output = !g.output
	} else {
		level, ok := device.ParseLevel(token)
		if !ok || (level != 0 && level != 100) {
			g.mu.Unlock()
			return fmt.Errorf("%w: %s: %q", device.ErrCommandRejected, g.name, token)
		}
		g.output = level > 0
	}
	state, forward := g.forwardLocked()
	publish := g.publish
	g.mu.Unlock()

	if forward && publish != nil {
		publish(state)
	}
	return nil
}

func (g *LogicOr) anyOn() bool {
	for _, on := range g.inputs {
		if on {
			return true
		}
	}
	return false
}

// forwardLocked reports whether the output must be forwarded and records
// it as forwarded.
func (g *LogicOr) forwardLocked() (device.State, bool) {
	if !g.enabled || g.output == g.forwarded {
		return device.State{}, false
	}
	g.forwarded = g.output
	return levelState(g.output), true
}

func levelState(on bool) device.State {
	if on {
		return device.State{Level: 100}
	}
	return device.State{Level: 0}
}

// LastCommanded returns "": a gate has no state to resume.
func (g *LogicOr) LastCommanded() string { return "" }

// CurrentState returns the composite output, forwarded or not.
func (g *LogicOr) CurrentState() device.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return levelState(g.output)
}

// Enabled reports whether the gate forwards.
func (g *LogicOr) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

func (g *LogicOr) SetPublisher(fn func(device.State)) {
	g.mu.Lock()
	g.publish = fn
	g.mu.Unlock()
}

func (g *LogicOr) Close() error { return nil }
