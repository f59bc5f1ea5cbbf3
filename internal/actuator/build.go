package actuator

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/gpio"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/modbus"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/process"
)

// Actuator kinds.
const (
	KindDimmer = "dimmer"
	KindRelay  = "relay"
	KindGPIO   = "gpio"
	KindExec   = "exec"
)

// Defaults for dimmer parameters.
const (
	defaultSmoothChange = 50 * time.Millisecond
	defaultExecTimeout  = 10 * time.Second
	defaultPulse        = 500 * time.Millisecond
)

// InitialRestore makes an actuator start at its persisted level.
const InitialRestore = "restore"

// StateLoader returns the persisted level of an actuator.
type StateLoader interface {
	LoadLevel(ctx context.Context, name string) (level int, ok bool, err error)
}

// Deps are the collaborators Build hands to actuators. Zero values select
// the real implementations.
type Deps struct {
	Logger device.Logger
	Clock  Clock
	States StateLoader

	OpenGPIOOutput func(gpio.OutputConfig) (gpio.Output, error)
	OpenModbus     func(modbus.Config) (RegisterWriter, error)
	Run            func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)
}

func (d Deps) logger() device.Logger {
	if d.Logger == nil {
		return device.NoopLogger{}
	}
	return d.Logger
}

func (d Deps) clock() Clock {
	if d.Clock == nil {
		return SystemClock{}
	}
	return d.Clock
}

func (d Deps) openGPIOOutput(params device.Params) (gpio.Output, error) {
	cfg, err := GPIOOutputConfig(params)
	if err != nil {
		return nil, err
	}
	open := d.OpenGPIOOutput
	if open == nil {
		open = func(c gpio.OutputConfig) (gpio.Output, error) { return gpio.OpenOutput(c) }
	}
	line, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrDeviceIO, err)
	}
	return line, nil
}

func (d Deps) openModbus(params device.Params) (RegisterWriter, error) {
	cfg, err := ModbusConfig(params)
	if err != nil {
		return nil, err
	}
	if d.OpenModbus != nil {
		return d.OpenModbus(cfg)
	}
	client, err := modbus.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrConfiguration, err)
	}
	return client, nil
}

func (d Deps) run() func(context.Context, time.Duration, string, ...string) (string, error) {
	if d.Run == nil {
		return process.Run
	}
	return d.Run
}

// Build creates the actuator described by cfg.
//
// Errors wrap device.ErrConfiguration for bad parameters and
// device.ErrDeviceIO when the output cannot be opened.
func Build(ctx context.Context, cfg config.DeviceConfig, deps Deps) (device.Actuator, error) {
	params := device.Params(cfg.Params)

	switch strings.ToLower(cfg.Kind) {
	case KindDimmer:
		return buildEngine(ctx, cfg.Name, params, false, deps)

	case KindRelay:
		return buildEngine(ctx, cfg.Name, params, true, deps)

	case KindGPIO:
		pulse, err := params.Bool("simulate_button", false)
		if err != nil {
			return nil, err
		}
		if pulse {
			return buildPulse(cfg.Name, params, deps)
		}
		params = withDefault(params, "output", OutputGPIO)
		return buildEngine(ctx, cfg.Name, params, true, deps)

	case KindExec:
		return buildExec(cfg.Name, params, deps)

	default:
		return nil, fmt.Errorf("%w: unknown actuator kind %q", device.ErrConfiguration, cfg.Kind)
	}
}

func buildEngine(ctx context.Context, name string, params device.Params, binary bool, deps Deps) (device.Actuator, error) {
	settings := Settings{Binary: binary}
	var err error

	if settings.ToggleDebounce, err = params.Seconds("toggle_debounce", DefaultToggleDebounce); err != nil {
		return nil, err
	}
	if !binary {
		if settings.SmoothChangeInterval, err = params.Seconds("smooth_change_interval", defaultSmoothChange); err != nil {
			return nil, err
		}
		if settings.DimDelay, err = params.Seconds("dim_delay", DefaultDimDelay); err != nil {
			return nil, err
		}
		if settings.DimInterval, err = params.Seconds("dim_interval", DefaultDimInterval); err != nil {
			return nil, err
		}
	}

	if settings.InitialLevel, err = initialLevel(ctx, name, params.String("initial_state", ""), deps); err != nil {
		return nil, err
	}

	output, closer, err := openOutput(name, params, deps)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(name, settings, output, WithClock(deps.clock()), WithLogger(deps.logger()))
	if closer == nil {
		return engine, nil
	}
	return &closingEngine{Engine: engine, output: closer}, nil
}

// initialLevel resolves the initial_state parameter.
func initialLevel(ctx context.Context, name, value string, deps Deps) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if strings.EqualFold(value, InitialRestore) {
		if deps.States == nil {
			return nil, nil
		}
		level, ok, err := deps.States.LoadLevel(ctx, name)
		if err != nil {
			deps.logger().Warn("loading persisted level failed", "actuator", name, "error", err)
			return nil, nil
		}
		if !ok {
			return nil, nil
		}
		return &level, nil
	}

	level, ok := device.ParseLevel(value)
	if !ok {
		return nil, fmt.Errorf("%w: initial_state %q is not ON, OFF, 0-100 or %s", device.ErrConfiguration, value, InitialRestore)
	}
	return &level, nil
}

func withDefault(params device.Params, key, value string) device.Params {
	if params[key] != "" {
		return params
	}
	out := make(device.Params, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[key] = value
	return out
}

// closingEngine releases the output after the engine stops.
type closingEngine struct {
	*Engine
	output io.Closer
}

func (c *closingEngine) Close() error {
	if err := c.Engine.Close(); err != nil {
		return err
	}
	return c.output.Close()
}

func buildPulse(name string, params device.Params, deps Deps) (device.Actuator, error) {
	debounce, err := params.Seconds("toggle_debounce", DefaultToggleDebounce)
	if err != nil {
		return nil, err
	}
	duration, err := params.Seconds("pulse_duration", defaultPulse)
	if err != nil {
		return nil, err
	}
	line, err := deps.openGPIOOutput(params)
	if err != nil {
		return nil, err
	}
	return NewPulse(name, line, duration, debounce, deps.clock(), deps.logger()), nil
}

func buildExec(name string, params device.Params, deps Deps) (device.Actuator, error) {
	command, err := params.Required("command")
	if err != nil {
		return nil, err
	}
	if len(process.SafeArgs(command)) == 0 {
		return nil, fmt.Errorf("%w: command %q has no safe arguments", device.ErrConfiguration, command)
	}
	timeout, err := params.Seconds("timeout", defaultExecTimeout)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", device.ErrConfiguration, strconv.Quote(params["timeout"]))
	}
	return NewExec(name, command, timeout, deps.run(), deps.logger()), nil
}
