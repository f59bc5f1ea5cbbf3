// Package influxconn records published readings in InfluxDB.
//
// The connection is a sink: publishes become points, nothing is ever
// received and no status markers are written. Writes are batched by the
// writer; an asynchronous write failure is reported as a lost link so the
// resilience layer buffers readings until the server answers again.
package influxconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/influxdb"
)

// Tag keys written with every point.
const (
	TagConnection  = "connection"
	TagDestination = "destination"
)

// Transport is an InfluxDB reading sink.
type Transport struct {
	name   string
	cfg    config.InfluxDBConfig
	logger device.Logger

	mu     sync.Mutex
	writer *influxdb.Writer
}

// New creates a disconnected sink.
func New(cfg config.ConnectionConfig, logger device.Logger) *Transport {
	if logger == nil {
		logger = device.NoopLogger{}
	}
	return &Transport{name: cfg.Name, cfg: cfg.InfluxDB, logger: logger}
}

// AnnouncesStatus reports true: a sink has no status destination to mark.
func (t *Transport) AnnouncesStatus() bool { return true }

// Connect pings the server and opens a batching writer.
func (t *Transport) Connect(ctx context.Context, lost func(error)) error {
	t.closeWriter()

	w, err := influxdb.Open(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrConnectivity, err)
	}

	var once sync.Once
	w.OnError(func(err error) {
		t.logger.Warn("influxdb write failed", "connection", t.name, "error", err)
		once.Do(func() {
			if t.drop(w) && lost != nil {
				lost(fmt.Errorf("%w: %w", device.ErrConnectivity, err))
			}
		})
	})

	t.mu.Lock()
	t.writer = w
	t.mu.Unlock()
	return nil
}

// drop discards w if it is still the current writer.
func (t *Transport) drop(w *influxdb.Writer) bool {
	t.mu.Lock()
	current := t.writer == w
	if current {
		t.writer = nil
	}
	t.mu.Unlock()
	if current {
		// Close flushes, which must not run on the error callback's goroutine.
		go w.Close()
	}
	return current
}

// Publish queues one point tagged with the destination and the binding's
// attributes. Numeric payloads go to the value field, others to text.
func (t *Transport) Publish(_ context.Context, msg connection.Message) error {
	t.mu.Lock()
	w := t.writer
	t.mu.Unlock()
	if w == nil {
		return fmt.Errorf("%w: %w", device.ErrConnectivity, influxdb.ErrNotConnected)
	}

	tags := make(map[string]string, len(msg.Attributes)+2)
	for k, v := range msg.Attributes {
		tags[k] = v
	}
	tags[TagConnection] = t.name
	tags[TagDestination] = msg.Destination

	if err := w.Record(influxdb.Point{Tags: tags, Value: msg.Payload, Time: time.Now()}); err != nil {
		return fmt.Errorf("%w: %w", device.ErrConnectivity, err)
	}
	return nil
}

// Subscribe accepts the registration. A sink never delivers messages.
func (t *Transport) Subscribe(string, connection.Handler) error {
	return nil
}

// Close flushes pending points and closes the writer.
func (t *Transport) Close(context.Context) error {
	t.closeWriter()
	return nil
}

func (t *Transport) closeWriter() {
	t.mu.Lock()
	w := t.writer
	t.writer = nil
	t.mu.Unlock()
	if w != nil {
		w.Close()
	}
}
