package actuator

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/gpio"
)

// Pulse simulates a button press: every accepted command drives the line
// active for a fixed duration and then releases it. It keeps no level and
// never echoes.
type Pulse struct {
	name     string
	line     gpio.Output
	duration time.Duration
	debounce time.Duration
	clock    Clock
	logger   device.Logger

	mu           sync.Mutex
	lastAccepted time.Time
	pressed      bool
	release      Timer
	closed       bool
}

// NewPulse creates a pulse actuator on line.
func NewPulse(name string, line gpio.Output, duration, debounce time.Duration, clock Clock, logger device.Logger) *Pulse {
	return &Pulse{
		name:     name,
		line:     line,
		duration: duration,
		debounce: debounce,
		clock:    clock,
		logger:   logger,
	}
}

// Name returns the actuator name.
func (p *Pulse) Name() string { return p.name }

// HandleCommand presses the button for any token. Commands inside the
// debounce window or during a press are ignored.
func (p *Pulse) HandleCommand(_, token string) error {
	return p.press(token, true)
}

// Force presses the button without debounce.
func (p *Pulse) Force(token string) error {
	return p.press(token, false)
}

func (p *Pulse) press(token string, debounce bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	now := p.clock.Now()
	if p.pressed || (debounce && now.Sub(p.lastAccepted) < p.debounce) {
		p.logger.Debug("button press ignored", "actuator", p.name, "token", token)
		return nil
	}
	p.lastAccepted = now

	if err := p.line.Set(true); err != nil {
		return wrapIO(p.name, err)
	}
	p.pressed = true
	p.logger.Info("button pressed", "actuator", p.name, "duration", p.duration)
	p.release = p.clock.AfterFunc(p.duration, p.releaseButton)
	return nil
}

func (p *Pulse) releaseButton() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pressed {
		return
	}
	p.pressed = false
	p.release = nil
	if err := p.line.Set(false); err != nil {
		p.logger.Error("button release failed", "actuator", p.name, "error", err)
	}
}

// LastCommanded is always empty; a button has no state to resume.
func (p *Pulse) LastCommanded() string { return "" }

// CurrentState reports 100 while the button is held.
func (p *Pulse) CurrentState() device.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pressed {
		return device.State{Level: maxLevel}
	}
	return device.State{}
}

// SetPublisher is a no-op; button presses are not echoed.
func (p *Pulse) SetPublisher(func(device.State)) {}

// Close releases a held button and the line.
func (p *Pulse) Close() error {
	p.mu.Lock()
	p.closed = true
	if p.release != nil {
		p.release.Stop()
		p.release = nil
	}
	wasPressed := p.pressed
	p.pressed = false
	p.mu.Unlock()

	if wasPressed {
		if err := p.line.Set(false); err != nil {
			p.logger.Error("button release failed", "actuator", p.name, "error", err)
		}
	}
	return p.line.Close()
}
