package sensor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

// Heartbeat outputs.
const (
	OutputMsec   = "msec"
	OutputUptime = "uptime"
)

// Heartbeat reports how long the reporter has been running.
type Heartbeat struct {
	name     string
	interval time.Duration
	now      func() time.Time
	start    time.Time
}

// NewHeartbeat creates a heartbeat polled every interval, which must be at
// least one second.
func NewHeartbeat(name string, interval time.Duration, now func() time.Time) (*Heartbeat, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("%w: heartbeat %s: interval must be at least 1s", device.ErrConfiguration, name)
	}
	if now == nil {
		now = time.Now
	}
	return &Heartbeat{name: name, interval: interval, now: now, start: now()}, nil
}

func (h *Heartbeat) Name() string            { return h.name }
func (h *Heartbeat) Interval() time.Duration { return h.interval }
func (h *Heartbeat) Close() error            { return nil }

// Poll returns the uptime on the msec and uptime outputs.
func (h *Heartbeat) Poll(context.Context) ([]device.Reading, error) {
	now := h.now()
	up := now.Sub(h.start)
	return []device.Reading{
		{Output: OutputMsec, Value: strconv.FormatInt(up.Milliseconds(), 10), Time: now},
		{Output: OutputUptime, Value: FormatUptime(up), Time: now},
	}, nil
}

// FormatUptime renders d as HH:MM:SS, prefixed with the day count once it
// reaches a day.
func FormatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := total / 3600 % 24
	mins := total / 60 % 60
	secs := total % 60
	if days > 0 {
		return fmt.Sprintf("%d:%02d:%02d:%02d", days, hours, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
}
