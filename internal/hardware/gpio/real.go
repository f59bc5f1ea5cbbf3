//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealInput is an input line on the GPIO character device.
type RealInput struct {
	line *gpiocdev.Line
}

// OpenInput requests an input line. When cfg.OnEdge is set, both edges are
// watched and reported from gpiocdev's event goroutine.
func OpenInput(cfg InputConfig) (*RealInput, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	switch cfg.Pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	default:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}
	if cfg.OnEdge != nil {
		onEdge := cfg.OnEdge
		opts = append(opts,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				onEdge(evt.Type == gpiocdev.LineEventRisingEdge)
			}),
		)
		if cfg.Debounce > 0 {
			opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
		}
	}

	line, err := gpiocdev.RequestLine(chipName(cfg.Chip), cfg.Offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input line %d: %w", cfg.Offset, err)
	}
	return &RealInput{line: line}, nil
}

// High reports the raw line level.
func (r *RealInput) High() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line: %w", err)
	}
	return v == 1, nil
}

// Close releases the line.
func (r *RealInput) Close() error {
	return r.line.Close()
}

// RealOutput is an output line on the GPIO character device.
type RealOutput struct {
	line   *gpiocdev.Line
	invert bool
}

// OpenOutput requests an output line, initially inactive.
func OpenOutput(cfg OutputConfig) (*RealOutput, error) {
	initial := 0
	if cfg.Invert {
		initial = 1
	}
	line, err := gpiocdev.RequestLine(chipName(cfg.Chip), cfg.Offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, fmt.Errorf("request output line %d: %w", cfg.Offset, err)
	}
	return &RealOutput{line: line, invert: cfg.Invert}, nil
}

// Set drives the line.
func (o *RealOutput) Set(active bool) error {
	v := 0
	if active != o.invert {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set line: %w", err)
	}
	return nil
}

// Close returns the line to an input with pull-down, matching the Pi boot
// default, and releases it.
func (o *RealOutput) Close() error {
	var errs []error
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
