package sensor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/actuator"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/gpio"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/modbus"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/process"
)

// Sensor kinds.
const (
	KindHeartbeat = "heartbeat"
	KindExec      = "exec"
	KindStream    = "stream"
	KindGPIO      = "gpio"
	KindModbus    = "modbus"
)

// RegisterReader reads Modbus registers.
type RegisterReader interface {
	ReadRegisters(ctx context.Context, kind modbus.RegisterKind, addr, count uint16) ([]uint16, error)
	Close() error
}

// RunFunc runs a command with a hard timeout.
type RunFunc func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)

// Deps are the collaborators Build hands to sensors. Zero values select
// the real implementations.
type Deps struct {
	Logger device.Logger

	OpenGPIOInput func(gpio.InputConfig) (gpio.Input, error)
	OpenModbus    func(modbus.Config) (RegisterReader, error)
	Run           RunFunc

	// Now is the clock for uptime and button timing.
	Now func() time.Time
}

func (d Deps) logger() device.Logger {
	if d.Logger == nil {
		return device.NoopLogger{}
	}
	return d.Logger
}

func (d Deps) now() func() time.Time {
	if d.Now == nil {
		return time.Now
	}
	return d.Now
}

func (d Deps) run() RunFunc {
	if d.Run == nil {
		return process.Run
	}
	return d.Run
}

func (d Deps) openGPIOInput() func(gpio.InputConfig) (gpio.Input, error) {
	if d.OpenGPIOInput != nil {
		return d.OpenGPIOInput
	}
	return func(cfg gpio.InputConfig) (gpio.Input, error) { return gpio.OpenInput(cfg) }
}

func (d Deps) openModbus(cfg modbus.Config) (RegisterReader, error) {
	if d.OpenModbus != nil {
		return d.OpenModbus(cfg)
	}
	client, err := modbus.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	return client, nil
}

// Build creates the sensor described by cfg.
//
// Errors wrap device.ErrConfiguration for bad parameters and
// device.ErrDeviceIO when hardware cannot be opened.
func Build(cfg config.DeviceConfig, deps Deps) (device.Sensor, error) {
	params := device.Params(cfg.Params)

	switch strings.ToLower(cfg.Kind) {
	case KindHeartbeat:
		hb, err := NewHeartbeat(cfg.Name, cfg.Interval, deps.now())
		if err != nil {
			return nil, err
		}
		return hb, nil
	case KindExec:
		return buildExec(cfg, params, deps)
	case KindStream:
		return buildStream(cfg, params, deps)
	case KindGPIO:
		return buildGPIO(cfg, params, deps)
	case KindModbus:
		return buildModbus(cfg, params, deps)
	default:
		return nil, fmt.Errorf("%w: unknown sensor kind %q", device.ErrConfiguration, cfg.Kind)
	}
}

func buildExec(cfg config.DeviceConfig, params device.Params, deps Deps) (device.Sensor, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: exec sensor %s needs an interval", device.ErrConfiguration, cfg.Name)
	}
	script, err := params.Required("script")
	if err != nil {
		return nil, err
	}
	args := process.SafeArgs(script)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: script %q has no safe command", device.ErrConfiguration, script)
	}
	// The hard timeout defaults to the poll interval.
	timeout, err := params.Seconds("timeout", cfg.Interval)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: parameter \"timeout\" must be positive", device.ErrConfiguration)
	}
	return NewExec(cfg.Name, cfg.Interval, args[0], args[1:], timeout, deps.run(), deps.logger()), nil
}

func buildStream(cfg config.DeviceConfig, params device.Params, deps Deps) (device.Sensor, error) {
	script, err := params.Required("script")
	if err != nil {
		return nil, err
	}
	args := process.SafeArgs(script)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: script %q has no safe command", device.ErrConfiguration, script)
	}
	restart, err := params.Bool("restart_on_exit", true)
	if err != nil {
		return nil, err
	}
	delay, err := params.Seconds("restart_delay", 0)
	if err != nil {
		return nil, err
	}
	maxRestarts, err := params.Int("max_restarts", 0)
	if err != nil {
		return nil, err
	}
	return NewStream(cfg.Name, process.Config{
		Name:          cfg.Name,
		Command:       args[0],
		Args:          args[1:],
		RestartOnExit: restart,
		RestartDelay:  delay,
		MaxRestarts:   maxRestarts,
	}, deps.logger()), nil
}

func buildGPIO(cfg config.DeviceConfig, params device.Params, deps Deps) (device.Sensor, error) {
	offset, err := params.Int("pin", -1)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: parameter \"pin\" is required", device.ErrConfiguration)
	}
	pull, err := gpio.ParsePull(params.String("pull", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	debounce, err := params.Seconds("debounce", 0)
	if err != nil {
		return nil, err
	}
	edges, err := params.Bool("event_detection", false)
	if err != nil {
		return nil, err
	}
	if edges && cfg.Interval > 0 {
		return nil, fmt.Errorf("%w: gpio sensor %s: event detection and polling are exclusive", device.ErrConfiguration, cfg.Name)
	}
	if !edges && cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: gpio sensor %s: needs an interval or event detection", device.ErrConfiguration, cfg.Name)
	}
	button, err := buttonSettings(params, pull)
	if err != nil {
		return nil, err
	}

	line := gpio.InputConfig{
		Chip:     params.String("chip", gpio.DefaultChip),
		Offset:   offset,
		Pull:     pull,
		Debounce: debounce,
	}
	g, err := NewGPIO(cfg.Name, cfg.Interval, line, button, deps.openGPIOInput(), deps.now(), deps.logger())
	if err != nil {
		return nil, err
	}
	return g, nil
}

func buttonSettings(params device.Params, pull gpio.Pull) (*Button, error) {
	enabled, err := params.Bool("button", false)
	if err != nil || !enabled {
		return nil, err
	}
	short, err := params.Seconds("short_press_threshold", 0)
	if err != nil {
		return nil, err
	}
	long, err := params.Seconds("long_press_threshold", 0)
	if err != nil {
		return nil, err
	}
	if long > 0 && long < short {
		return nil, fmt.Errorf("%w: long_press_threshold must not be below short_press_threshold", device.ErrConfiguration)
	}

	// A pulled-up contact reads low while pressed.
	pressedHigh := pull != gpio.PullUp
	switch strings.ToLower(params.String("pressed_state", "")) {
	case "":
	case "high":
		pressedHigh = true
	case "low":
		pressedHigh = false
	default:
		return nil, fmt.Errorf("%w: parameter \"pressed_state\" must be high or low", device.ErrConfiguration)
	}
	return &Button{ShortPress: short, LongPress: long, PressedHigh: pressedHigh}, nil
}

func buildModbus(cfg config.DeviceConfig, params device.Params, deps Deps) (device.Sensor, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: modbus sensor %s needs an interval", device.ErrConfiguration, cfg.Name)
	}
	mcfg, err := actuator.ModbusConfig(params)
	if err != nil {
		return nil, err
	}
	reg, err := params.Int("register", -1)
	if err != nil {
		return nil, err
	}
	if reg < 0 || reg > 0xFFFF {
		return nil, fmt.Errorf("%w: parameter \"register\" must be 0-65535", device.ErrConfiguration)
	}
	kind := modbus.RegisterKind(strings.ToLower(params.String("register_type", string(modbus.Holding))))
	if kind != modbus.Holding && kind != modbus.Input {
		return nil, fmt.Errorf("%w: parameter \"register_type\" must be holding or input", device.ErrConfiguration)
	}

	words, err := params.Int("words", 1)
	if err != nil {
		return nil, err
	}
	if words != 1 && words != 2 {
		return nil, fmt.Errorf("%w: parameter \"words\" must be 1 or 2", device.ErrConfiguration)
	}
	signed, err := params.Bool("signed", false)
	if err != nil {
		return nil, err
	}
	scale, err := params.Float("scale", 1)
	if err != nil {
		return nil, err
	}
	precision, err := params.Int("precision", 0)
	if err != nil {
		return nil, err
	}

	reader, err := deps.openModbus(mcfg)
	if err != nil {
		return nil, err
	}
	return NewModbus(cfg.Name, cfg.Interval, reader, Register{
		Kind:    kind,
		Address: uint16(reg),
		Format:  modbus.Format{Words: words, Signed: signed, Scale: scale, Precision: precision},
		Timeout: mcfg.Timeout,
	}), nil
}
