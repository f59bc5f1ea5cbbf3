package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/process"
)

// Stream supervises a long-running command and publishes every line it
// prints as a reading.
type Stream struct {
	name   string
	cfg    process.Config
	logger device.Logger
}

// NewStream creates a stream sensor. cfg.OnLine is set by Run.
func NewStream(name string, cfg process.Config, logger device.Logger) *Stream {
	return &Stream{name: name, cfg: cfg, logger: logger}
}

func (s *Stream) Name() string            { return s.name }
func (s *Stream) Interval() time.Duration { return 0 }
func (s *Stream) Close() error            { return nil }

// Poll is not used: a stream only runs in the background.
func (s *Stream) Poll(context.Context) ([]device.Reading, error) {
	return nil, nil
}

// Run starts the command and emits its lines until ctx is cancelled.
func (s *Stream) Run(ctx context.Context, emit device.Emit) error {
	cfg := s.cfg
	cfg.OnLine = func(line string) {
		if line != "" {
			emit(device.NewReading("", line))
		}
	}
	cfg.OnExit = func(err error) {
		if err != nil {
			s.logger.Warn("stream command exited", "sensor", s.name, "error", err)
		}
	}

	m := process.NewManager(cfg)
	m.SetLogger(s.logger)
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", device.ErrDeviceIO, s.name, err)
	}

	<-ctx.Done()
	if err := m.Stop(); err != nil {
		s.logger.Warn("stopping stream command failed", "sensor", s.name, "error", err)
	}
	return nil
}
