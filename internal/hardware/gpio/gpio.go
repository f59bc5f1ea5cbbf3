// Package gpio provides GPIO lines for sensors and actuators.
//
// The real implementation uses the Linux GPIO character device through
// go-gpiocdev. The fake implementations let device code be tested without
// hardware.
package gpio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultChip is the chip used when none is configured.
const DefaultChip = "gpiochip0"

// ErrUnsupported is returned where the GPIO character device is unavailable.
var ErrUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Pull selects the input bias.
type Pull string

const (
	PullNone Pull = "none"
	PullUp   Pull = "up"
	PullDown Pull = "down"
)

// ParsePull maps a configuration value to a Pull.
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return PullNone, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	default:
		return "", fmt.Errorf("gpio: unknown pull %q", s)
	}
}

// InputConfig describes an input line.
type InputConfig struct {
	Chip   string
	Offset int
	Pull   Pull

	// Debounce is applied by the kernel to edge events.
	Debounce time.Duration

	// OnEdge, when set, receives the line state after every edge.
	OnEdge func(high bool)
}

// OutputConfig describes an output line.
type OutputConfig struct {
	Chip   string
	Offset int

	// Invert drives the line low for an active output.
	Invert bool
}

// Input reads an input line.
type Input interface {
	// High reports the raw line level.
	High() (bool, error)
	Close() error
}

// Output drives an output line.
type Output interface {
	// Set drives the line to its active (true) or inactive level.
	Set(active bool) error
	Close() error
}

func chipName(chip string) string {
	if chip == "" {
		return DefaultChip
	}
	return chip
}
