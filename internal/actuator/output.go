package actuator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/gpio"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/modbus"
)

// Output drivers selectable with the "output" parameter.
const (
	OutputLog    = "log"
	OutputGPIO   = "gpio"
	OutputModbus = "modbus"
)

// RegisterWriter writes one Modbus holding register.
type RegisterWriter interface {
	WriteRegister(ctx context.Context, addr, value uint16) error
	Close() error
}

// logOutput only logs levels. Used for dry runs and for actuators whose
// only effect is the echo.
type logOutput struct {
	name   string
	logger device.Logger
}

func (o *logOutput) SetLevel(level int) error {
	o.logger.Info("output level", "actuator", o.name, "level", level)
	return nil
}

// gpioOutput drives a line active for any level above zero.
type gpioOutput struct {
	line gpio.Output
}

func (o *gpioOutput) SetLevel(level int) error {
	return o.line.Set(level > 0)
}

// modbusOutput scales 0-100 onto 0-max and writes one register.
type modbusOutput struct {
	client   RegisterWriter
	register uint16
	max      int
}

func (o *modbusOutput) SetLevel(level int) error {
	ctx, cancel := context.WithTimeout(context.Background(), modbus.DefaultTimeout)
	defer cancel()
	return o.client.WriteRegister(ctx, o.register, uint16(level*o.max/maxLevel))
}

// openOutput builds the output selected by params. The returned closer may
// be nil.
func openOutput(name string, params device.Params, deps Deps) (Output, io.Closer, error) {
	kind := strings.ToLower(params.String("output", OutputLog))
	switch kind {
	case OutputLog:
		return &logOutput{name: name, logger: deps.logger()}, nil, nil

	case OutputGPIO:
		line, err := deps.openGPIOOutput(params)
		if err != nil {
			return nil, nil, err
		}
		return &gpioOutput{line: line}, line, nil

	case OutputModbus:
		register, err := params.Int("register", -1)
		if err != nil {
			return nil, nil, err
		}
		if register < 0 || register > 0xFFFF {
			return nil, nil, fmt.Errorf("%w: parameter \"register\" must be 0-65535", device.ErrConfiguration)
		}
		max, err := params.Int("max", maxLevel)
		if err != nil {
			return nil, nil, err
		}
		if max <= 0 || max > 0xFFFF {
			return nil, nil, fmt.Errorf("%w: parameter \"max\" must be 1-65535", device.ErrConfiguration)
		}
		client, err := deps.openModbus(params)
		if err != nil {
			return nil, nil, err
		}
		return &modbusOutput{client: client, register: uint16(register), max: max}, client, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown output %q", device.ErrConfiguration, kind)
	}
}

// GPIOOutputConfig reads the line settings shared by gpio outputs.
func GPIOOutputConfig(params device.Params) (gpio.OutputConfig, error) {
	offset, err := params.Int("pin", -1)
	if err != nil {
		return gpio.OutputConfig{}, err
	}
	if offset < 0 {
		return gpio.OutputConfig{}, fmt.Errorf("%w: parameter \"pin\" is required", device.ErrConfiguration)
	}
	invert, err := params.Bool("invert", false)
	if err != nil {
		return gpio.OutputConfig{}, err
	}
	return gpio.OutputConfig{Chip: params.String("chip", gpio.DefaultChip), Offset: offset, Invert: invert}, nil
}

// ModbusConfig reads the endpoint settings shared by Modbus devices.
func ModbusConfig(params device.Params) (modbus.Config, error) {
	address, err := params.Required("address")
	if err != nil {
		return modbus.Config{}, err
	}
	slave, err := params.Int("slave_id", 1)
	if err != nil {
		return modbus.Config{}, err
	}
	if slave < 0 || slave > 247 {
		return modbus.Config{}, fmt.Errorf("%w: parameter \"slave_id\" must be 0-247", device.ErrConfiguration)
	}
	timeout, err := params.Seconds("timeout", modbus.DefaultTimeout)
	if err != nil {
		return modbus.Config{}, err
	}
	baud, err := params.Int("baud_rate", 0)
	if err != nil {
		return modbus.Config{}, err
	}
	return modbus.Config{
		Mode:     params.String("mode", modbus.ModeTCP),
		Address:  address,
		SlaveID:  byte(slave),
		Timeout:  timeout,
		BaudRate: baud,
		Parity:   params.String("parity", ""),
	}, nil
}
