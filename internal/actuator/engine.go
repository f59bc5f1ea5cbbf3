package actuator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

// Engine timing defaults.
const (
	DefaultToggleDebounce = 150 * time.Millisecond
	DefaultDimDelay       = 500 * time.Millisecond
	DefaultDimInterval    = 200 * time.Millisecond

	// stepSize is the increment of both smooth change and manual dimming.
	stepSize = 5

	maxLevel = 100
)

var (
	// ErrClosed is returned for commands sent to a closed actuator.
	ErrClosed = errors.New("actuator: closed")

	errQueueFull = errors.New("command queue full")
)

// Output drives the physical side of an actuator.
type Output interface {
	SetLevel(level int) error
}

// OutputFunc adapts a function to Output.
type OutputFunc func(level int) error

// SetLevel calls f(level).
func (f OutputFunc) SetLevel(level int) error { return f(level) }

// Settings configure one Engine.
type Settings struct {
	// Binary actuators accept ON, OFF and toggles only.
	Binary bool

	ToggleDebounce time.Duration

	// SmoothChangeInterval > 0 moves the physical output toward a new level
	// in steps of 5 at this interval, the last step possibly smaller; 0 jumps
	// immediately.
	SmoothChangeInterval time.Duration

	DimDelay    time.Duration
	DimInterval time.Duration

	// InitialLevel, when set, is applied to the output once at construction
	// without an echo.
	InitialLevel *int
}

func (s *Settings) applyDefaults() {
	if s.ToggleDebounce < 0 {
		s.ToggleDebounce = 0
	}
	if s.DimDelay <= 0 {
		s.DimDelay = DefaultDimDelay
	}
	if s.DimInterval <= 0 {
		s.DimInterval = DefaultDimInterval
	}
}

// Engine is the state machine shared by every stateful actuator.
//
// The logical level changes as soon as a command is accepted and is echoed
// right away; the physical output may follow in steps. All entry points are
// serialized on one mutex, and every pending timer is tracked so that a new
// command or Close cancels it deterministically.
//
// Thread Safety:
//   - HandleCommand, Force and Close may be called from any goroutine.
//   - The publisher is always called outside the lock.
type Engine struct {
	name     string
	settings Settings
	output   Output
	clock    Clock

	logger   device.Logger
	loggerMu sync.RWMutex

	mu               sync.Mutex
	level            int
	physical         int
	lastNonZero      int
	debounceDeadline time.Time
	lastCommanded    string
	publish          func(device.State)
	closed           bool

	// gen invalidates callbacks of timers that were stopped too late.
	gen         uint64
	smoothTimer Timer
	delayTimer  Timer
	stepTimer   Timer

	dimming   bool
	dimDir    int
	dimStart  int
	dimRemote bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine's logger.
func WithLogger(l device.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine driving output.
//
// The initial level is applied to the output here; a failure is logged and
// the engine still starts.
func NewEngine(name string, settings Settings, output Output, opts ...Option) *Engine {
	settings.applyDefaults()
	e := &Engine{
		name:        name,
		settings:    settings,
		output:      output,
		clock:       SystemClock{},
		logger:      device.NoopLogger{},
		lastNonZero: maxLevel,
	}
	for _, opt := range opts {
		opt(e)
	}

	if init := settings.InitialLevel; init != nil {
		level := clamp(*init)
		if settings.Binary && level > 0 {
			level = maxLevel
		}
		e.level = level
		e.physical = level
		if level > 0 {
			e.lastNonZero = level
		}
		if err := e.output.SetLevel(level); err != nil {
			e.getLogger().Error("setting initial level failed", "actuator", name, "level", level, "error", err)
		}
	}

	return e
}

// Name returns the actuator name.
func (e *Engine) Name() string { return e.name }

// SetLogger sets the logger.
func (e *Engine) SetLogger(l device.Logger) {
	e.loggerMu.Lock()
	e.logger = l
	e.loggerMu.Unlock()
}

func (e *Engine) getLogger() device.Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// SetPublisher installs the echo callback.
func (e *Engine) SetPublisher(fn func(device.State)) {
	e.mu.Lock()
	e.publish = fn
	e.mu.Unlock()
}

// CurrentState returns the logical level.
func (e *Engine) CurrentState() device.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return device.State{Level: e.level}
}

// PhysicalLevel returns the level last written to the output.
func (e *Engine) PhysicalLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.physical
}

// LastCommanded returns the token that restores the last remotely
// commanded state, or "" if no remote command was accepted yet.
func (e *Engine) LastCommanded() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCommanded
}

// HandleCommand applies a remote command token.
//
// Accepted tokens are ON, OFF, 0-100 (dimmable only), TOGGLE or a button
// timestamp, DIM and STOP (dimmable only). Toggles inside the debounce
// window are ignored without error. Anything else wraps
// device.ErrCommandRejected and leaves the state untouched.
func (e *Engine) HandleCommand(source, token string) error {
	return e.handle(token, true)
}

// Force applies a connectivity action: no debounce, and the last
// commanded value is left as it was.
func (e *Engine) Force(token string) error {
	return e.handle(token, false)
}

func (e *Engine) handle(token string, remote bool) error {
	e.mu.Lock()
	echo, err := e.apply(strings.TrimSpace(token), remote)
	state := device.State{Level: e.level}
	publish := e.publish
	e.mu.Unlock()

	if echo && publish != nil {
		publish(state)
	}
	return err
}

// apply runs under e.mu and reports whether the state should be echoed.
func (e *Engine) apply(token string, remote bool) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}

	upper := strings.ToUpper(token)
	switch {
	case device.IsToggle(token):
		now := e.clock.Now()
		if remote && now.Before(e.debounceDeadline) {
			e.getLogger().Debug("toggle within debounce window ignored", "actuator", e.name, "token", token)
			return false, nil
		}
		e.debounceDeadline = now.Add(e.settings.ToggleDebounce)
		e.cancelTimers()

		target := e.lastNonZero
		if e.level > 0 {
			e.lastNonZero = e.level
			target = 0
		}
		err := e.moveTo(target)
		if remote {
			e.lastCommanded = e.levelToken()
		}
		return true, err

	case upper == device.TokenDim:
		if e.settings.Binary {
			return false, e.reject(token)
		}
		e.cancelTimers()
		e.startDim(remote)
		return false, nil

	case upper == device.TokenStop:
		if e.settings.Binary {
			return false, e.reject(token)
		}
		if !e.dimming {
			return false, nil
		}
		changed := e.level != e.dimStart
		e.cancelTimers()
		e.finishDim()
		return changed, nil
	}

	level, ok := device.ParseLevel(token)
	if !ok {
		return false, e.reject(token)
	}
	if e.settings.Binary && upper != device.TokenOn && upper != device.TokenOff {
		return false, e.reject(token)
	}

	e.cancelTimers()
	err := e.moveTo(level)
	if remote {
		e.lastCommanded = e.levelToken()
	}
	// An unchanged level is still echoed as a confirmation.
	return true, err
}

func (e *Engine) reject(token string) error {
	e.getLogger().Warn("command rejected", "actuator", e.name, "token", token)
	return fmt.Errorf("%w: %s: %q", device.ErrCommandRejected, e.name, token)
}

func (e *Engine) levelToken() string {
	if e.settings.Binary {
		if e.level > 0 {
			return device.TokenOn
		}
		return device.TokenOff
	}
	return strconv.Itoa(e.level)
}

// moveTo sets the logical level and starts moving the output toward it.
func (e *Engine) moveTo(target int) error {
	e.level = target
	if target > 0 {
		e.lastNonZero = target
	}

	if e.settings.SmoothChangeInterval <= 0 || target == e.physical {
		return e.writeOutput(target)
	}

	gen := e.gen
	e.smoothTimer = e.clock.AfterFunc(e.settings.SmoothChangeInterval, func() { e.smoothStep(gen) })
	return nil
}

func (e *Engine) smoothStep(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.closed {
		return
	}

	diff := e.level - e.physical
	next := e.level
	if abs(diff) > stepSize {
		next = e.physical + sign(diff)*stepSize
	}
	if err := e.writeOutput(next); err != nil {
		// The transition ends here; the next command starts a new one.
		e.getLogger().Error("smooth change step failed, transition abandoned", "actuator", e.name, "error", err)
		e.smoothTimer = nil
		return
	}

	if e.physical != e.level {
		e.smoothTimer = e.clock.AfterFunc(e.settings.SmoothChangeInterval, func() { e.smoothStep(gen) })
	}
}

func (e *Engine) startDim(remote bool) {
	e.dimming = true
	e.dimRemote = remote
	e.dimStart = e.level
	e.dimDir = 1
	if e.level > 0 {
		e.dimDir = -1
	}

	gen := e.gen
	e.delayTimer = e.clock.AfterFunc(e.settings.DimDelay, func() { e.dimHeld(gen) })
}

// dimHeld runs once DIM has been held for DimDelay. The first step follows
// one DimInterval later.
func (e *Engine) dimHeld(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.closed || !e.dimming {
		return
	}
	e.stepTimer = e.clock.AfterFunc(e.settings.DimInterval, func() { e.dimStep(gen) })
}

// dimStep moves the level one step and schedules the next one. Reaching
// 100 completes the sweep, which is echoed.
func (e *Engine) dimStep(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.closed || !e.dimming {
		e.mu.Unlock()
		return
	}

	e.level = clamp(e.level + e.dimDir*stepSize)
	if err := e.writeOutput(e.level); err != nil {
		e.getLogger().Error("dim step failed", "actuator", e.name, "error", err)
	}
	if e.level == 0 && e.dimDir < 0 {
		e.dimDir = 1
	}

	if e.level == maxLevel && e.dimDir > 0 {
		e.finishDim()
		state := device.State{Level: e.level}
		publish := e.publish
		e.mu.Unlock()
		if publish != nil {
			publish(state)
		}
		return
	}

	e.stepTimer = e.clock.AfterFunc(e.settings.DimInterval, func() { e.dimStep(gen) })
	e.mu.Unlock()
}

func (e *Engine) finishDim() {
	e.dimming = false
	if e.level > 0 {
		e.lastNonZero = e.level
	}
	if e.dimRemote {
		e.lastCommanded = e.levelToken()
	}
}

// cancelTimers stops every pending transition. Callbacks that already
// started are invalidated through gen.
func (e *Engine) cancelTimers() {
	e.gen++
	for _, t := range []Timer{e.smoothTimer, e.delayTimer, e.stepTimer} {
		if t != nil {
			t.Stop()
		}
	}
	e.smoothTimer, e.delayTimer, e.stepTimer = nil, nil, nil
	e.dimming = false
}

func (e *Engine) writeOutput(level int) error {
	if err := e.output.SetLevel(level); err != nil {
		return wrapIO(e.name, err)
	}
	e.physical = level
	return nil
}

// Close cancels all pending timers. Later commands fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelTimers()
	e.closed = true
	return nil
}

func wrapIO(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", device.ErrDeviceIO, name, err)
}

func clamp(level int) int {
	switch {
	case level < 0:
		return 0
	case level > maxLevel:
		return maxLevel
	default:
		return level
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	if n < 0 {
		return -1
	}
	return 1
}
