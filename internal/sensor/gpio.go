package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/gpio"
)

// Contact values published by a GPIO sensor. A low line is a closed
// contact.
const (
	ValueClosed = "CLOSED"
	ValueOpen   = "OPEN"
)

// Button press outputs.
const (
	OutputShortPress = "short_press"
	OutputLongPress  = "long_press"
)

// TimestampLayout is the local time format of button press readings. It
// is accepted as a toggle by every stateful actuator.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Button turns press durations into short and long press readings.
type Button struct {
	// ShortPress is the minimum duration of a press.
	ShortPress time.Duration

	// LongPress, when > 0, is the duration above which a press is long.
	LongPress time.Duration

	// PressedHigh is the line level while pressed.
	PressedHigh bool
}

// GPIO reads a contact on an input line.
//
// Polled, it publishes only when the level changed since the last poll.
// With event detection it runs in the background and publishes on every
// edge. Either way the first observation is always published.
type GPIO struct {
	name     string
	interval time.Duration
	cfg      gpio.InputConfig
	button   *Button
	open     func(gpio.InputConfig) (gpio.Input, error)
	now      func() time.Time
	logger   device.Logger

	mu        sync.Mutex
	line      gpio.Input
	known     bool
	high      bool
	pressedAt time.Time
}

// NewGPIO creates a GPIO sensor. A polled sensor opens its line right
// away; an edge-driven one opens it in Run.
func NewGPIO(name string, interval time.Duration, cfg gpio.InputConfig, button *Button,
	open func(gpio.InputConfig) (gpio.Input, error), now func() time.Time, logger device.Logger) (*GPIO, error) {
	g := &GPIO{
		name:     name,
		interval: interval,
		cfg:      cfg,
		button:   button,
		open:     open,
		now:      now,
		logger:   logger,
	}
	if interval > 0 {
		line, err := open(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: opening pin %d: %w", device.ErrDeviceIO, name, cfg.Offset, err)
		}
		g.line = line
	}
	return g, nil
}

func (g *GPIO) Name() string            { return g.name }
func (g *GPIO) Interval() time.Duration { return g.interval }

// Poll reads the line and reports a change.
func (g *GPIO) Poll(context.Context) ([]device.Reading, error) {
	g.mu.Lock()
	line := g.line
	g.mu.Unlock()
	if line == nil {
		return nil, nil
	}

	high, err := line.High()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", device.ErrDeviceIO, g.name, err)
	}
	return g.observe(high), nil
}

// Run opens the line with edge detection and emits until ctx is cancelled.
func (g *GPIO) Run(ctx context.Context, emit device.Emit) error {
	cfg := g.cfg
	cfg.OnEdge = func(high bool) {
		for _, r := range g.observe(high) {
			emit(r)
		}
	}

	line, err := g.open(cfg)
	if err != nil {
		return fmt.Errorf("%w: %s: opening pin %d: %w", device.ErrDeviceIO, g.name, cfg.Offset, err)
	}
	g.mu.Lock()
	g.line = line
	g.mu.Unlock()

	if high, err := line.High(); err == nil {
		for _, r := range g.observe(high) {
			emit(r)
		}
	} else {
		g.logger.Warn("reading initial level failed", "sensor", g.name, "error", err)
	}

	<-ctx.Done()
	return nil
}

// observe records a level and returns the readings it causes.
func (g *GPIO) observe(high bool) []device.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.known && g.high == high {
		return nil
	}
	first := !g.known
	g.known = true
	g.high = high

	now := g.now()
	value := ValueOpen
	if !high {
		value = ValueClosed
	}
	readings := []device.Reading{{Output: "", Value: value, State: ptr(!high), Time: now}}
	g.logger.Info("contact changed", "sensor", g.name, "value", value)

	if g.button != nil && !first {
		if r, ok := g.buttonLocked(high, now); ok {
			readings = append(readings, r)
		}
	}
	return readings
}

func (g *GPIO) buttonLocked(high bool, now time.Time) (device.Reading, bool) {
	b := g.button
	if high == b.PressedHigh {
		g.pressedAt = now
		return device.Reading{}, false
	}
	if g.pressedAt.IsZero() {
		g.logger.Warn("release without press, check pressed_state", "sensor", g.name)
		return device.Reading{}, false
	}

	held := now.Sub(g.pressedAt)
	g.pressedAt = time.Time{}
	if held <= b.ShortPress {
		return device.Reading{}, false
	}
	output := OutputShortPress
	if b.LongPress > 0 && held > b.LongPress {
		output = OutputLongPress
	}
	g.logger.Info("button press", "sensor", g.name, "press", output, "held", held)
	return device.Reading{Output: output, Value: now.Format(TimestampLayout), Time: now}, true
}

// Close releases the line.
func (g *GPIO) Close() error {
	g.mu.Lock()
	line := g.line
	g.line = nil
	g.mu.Unlock()
	if line == nil {
		return nil
	}
	return line.Close()
}

func ptr[T any](v T) *T { return &v }
