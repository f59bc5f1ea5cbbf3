package device

import (
	"context"
	"time"
)

// Sensor is a device that produces readings.
//
// A sensor with Interval() > 0 is polled by the scheduler. Any other sensor
// must also implement BackgroundSensor.
type Sensor interface {
	Name() string
	Interval() time.Duration

	// Poll reads the hardware once. It may return readings together with an
	// error, for example an ERROR sentinel alongside ErrTimeout; the readings
	// are still published and the error is counted.
	Poll(ctx context.Context) ([]Reading, error)

	Close() error
}

// BackgroundSensor pushes readings asynchronously until ctx is cancelled.
type BackgroundSensor interface {
	Sensor
	Run(ctx context.Context, emit Emit) error
}
