package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/process"
)

// ErrorValue is published when a command times out.
const ErrorValue = "ERROR"

// Exec runs a command on every poll and publishes its output.
type Exec struct {
	name     string
	interval time.Duration
	command  string
	args     []string
	timeout  time.Duration
	run      RunFunc
	logger   device.Logger
}

// NewExec creates an exec sensor.
func NewExec(name string, interval time.Duration, command string, args []string, timeout time.Duration, run RunFunc, logger device.Logger) *Exec {
	return &Exec{
		name:     name,
		interval: interval,
		command:  command,
		args:     args,
		timeout:  timeout,
		run:      run,
		logger:   logger,
	}
}

func (e *Exec) Name() string            { return e.name }
func (e *Exec) Interval() time.Duration { return e.interval }
func (e *Exec) Close() error            { return nil }

// Poll runs the command once.
//
// A timeout yields the ERROR reading together with device.ErrTimeout. A
// failing command yields no reading.
func (e *Exec) Poll(ctx context.Context) ([]device.Reading, error) {
	out, err := e.run(ctx, e.timeout, e.command, e.args...)
	switch {
	case err == nil:
		e.logger.Debug("command result", "sensor", e.name, "result", out)
		return []device.Reading{device.NewReading("", out)}, nil
	case errors.Is(err, process.ErrTimeout):
		return []device.Reading{device.NewReading("", ErrorValue)},
			fmt.Errorf("%w: %s: %w", device.ErrTimeout, e.name, err)
	default:
		return nil, fmt.Errorf("%w: %s: %w", device.ErrDeviceIO, e.name, err)
	}
}
