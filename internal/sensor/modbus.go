package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/modbus"
)

// Register selects and decodes the value a Modbus sensor reads.
type Register struct {
	Kind    modbus.RegisterKind
	Address uint16
	Format  modbus.Format

	// Timeout bounds one read.
	Timeout time.Duration
}

// Modbus reads one register value per poll.
type Modbus struct {
	name     string
	interval time.Duration
	reader   RegisterReader
	reg      Register
}

// NewModbus creates a Modbus sensor.
func NewModbus(name string, interval time.Duration, reader RegisterReader, reg Register) *Modbus {
	if reg.Timeout <= 0 {
		reg.Timeout = modbus.DefaultTimeout
	}
	return &Modbus{name: name, interval: interval, reader: reader, reg: reg}
}

func (m *Modbus) Name() string            { return m.name }
func (m *Modbus) Interval() time.Duration { return m.interval }
func (m *Modbus) Close() error            { return m.reader.Close() }

// Poll reads and decodes the register.
func (m *Modbus) Poll(ctx context.Context) ([]device.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, m.reg.Timeout)
	defer cancel()

	count := uint16(m.reg.Format.Words)
	if count == 0 {
		count = 1
	}
	words, err := m.reader.ReadRegisters(ctx, m.reg.Kind, m.reg.Address, count)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %s: %w", device.ErrTimeout, m.name, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", device.ErrDeviceIO, m.name, err)
	}

	value, err := m.reg.Format.Decode(words)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", device.ErrDeviceIO, m.name, err)
	}
	return []device.Reading{device.NewReading("", value)}, nil
}
