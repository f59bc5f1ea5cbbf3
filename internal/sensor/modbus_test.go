package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/hardware/modbus"
)

type fakeRegisters struct {
	words  []uint16
	err    error
	block  bool
	closed bool

	kind  modbus.RegisterKind
	addr  uint16
	count uint16
}

func (f *fakeRegisters) ReadRegisters(ctx context.Context, kind modbus.RegisterKind, addr, count uint16) ([]uint16, error) {
	f.kind, f.addr, f.count = kind, addr, count
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.words, f.err
}

func (f *fakeRegisters) Close() error {
	f.closed = true
	return nil
}

func TestModbus_Poll(t *testing.T) {
	reader := &fakeRegisters{words: []uint16{0xFFFF, 0xFF9C}}
	m := NewModbus("meter", time.Second, reader, Register{
		Kind:    modbus.Input,
		Address: 30,
		Format:  modbus.Format{Words: 2, Signed: true, Scale: 0.1, Precision: 1},
	})

	got := pollOnce(t, m)
	if len(got) != 1 || got[0].Value != "-10.0" {
		t.Errorf("readings = %+v, want -10.0", got)
	}
	if reader.kind != modbus.Input || reader.addr != 30 || reader.count != 2 {
		t.Errorf("read %s@%d x%d", reader.kind, reader.addr, reader.count)
	}

	if err := m.Close(); err != nil || !reader.closed {
		t.Errorf("Close() = %v, closed = %v", err, reader.closed)
	}
}

func TestModbus_PollErrors(t *testing.T) {
	tests := []struct {
		name   string
		reader *fakeRegisters
		want   error
	}{
		{name: "timeout", reader: &fakeRegisters{block: true}, want: device.ErrTimeout},
		{name: "exception", reader: &fakeRegisters{err: errors.New("illegal address")}, want: device.ErrDeviceIO},
		{name: "short", reader: &fakeRegisters{words: []uint16{}}, want: device.ErrDeviceIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModbus("meter", time.Second, tt.reader, Register{
				Kind:    modbus.Holding,
				Format:  modbus.Format{Words: 1},
				Timeout: 20 * time.Millisecond,
			})
			readings, err := m.Poll(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Poll() error = %v, want %v", err, tt.want)
			}
			if len(readings) != 0 {
				t.Errorf("readings = %+v, want none", readings)
			}
		})
	}
}
