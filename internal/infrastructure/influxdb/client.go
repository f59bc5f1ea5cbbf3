package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

const (
	pingTimeout = 10 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	defaultMeasurement   = "reading"
)

// Field keys. A payload that parses as a number is stored in FieldValue,
// anything else (ON, CLOSED, timestamps) in FieldText.
const (
	FieldValue = "value"
	FieldText  = "text"
)

// Point is one published reading.
type Point struct {
	// Measurement defaults to the configured measurement.
	Measurement string
	Tags        map[string]string
	Value       string

	// Time defaults to now.
	Time time.Time
}

// Writer records points in one bucket through the batching write API.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Record never blocks on the network; failures arrive through OnError.
type Writer struct {
	client      influxdb2.Client
	api         api.WriteAPI
	measurement string

	mu      sync.Mutex
	closed  bool
	onError func(error)
}

// Open pings the server and prepares a batching writer for cfg.Bucket.
//
// Returns:
//   - *Writer: Ready to record points
//   - error: wraps ErrConnectionFailed if the server is unreachable or unhealthy
func Open(ctx context.Context, cfg config.InfluxDBConfig) (*Writer, error) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flushInterval(cfg).Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := client.Ping(pingCtx)
	switch {
	case err != nil:
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	case !ok:
		client.Close()
		return nil, fmt.Errorf("%w: %s: server not ready", ErrConnectionFailed, cfg.URL)
	}

	w := &Writer{
		client:      client,
		api:         client.WriteAPI(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}
	if w.measurement == "" {
		w.measurement = defaultMeasurement
	}
	go w.forwardErrors(w.api.Errors())
	return w, nil
}

func flushInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval <= 0 {
		return defaultFlushInterval
	}
	return time.Duration(cfg.FlushInterval) * time.Second
}

func (w *Writer) forwardErrors(errs <-chan error) {
	for err := range errs {
		w.mu.Lock()
		fn := w.onError
		w.mu.Unlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// OnError installs the callback for asynchronous batch failures. It runs
// on the writer's error goroutine and must not call Close or Flush.
func (w *Writer) OnError(fn func(error)) {
	w.mu.Lock()
	w.onError = fn
	w.mu.Unlock()
}

// Record queues p.
func (w *Writer) Record(p Point) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	if p.Measurement == "" {
		p.Measurement = w.measurement
	}
	if p.Time.IsZero() {
		p.Time = time.Now()
	}
	w.api.WritePoint(write.NewPoint(p.Measurement, p.Tags, Fields(p.Value), p.Time))
	return nil
}

// Fields maps a payload to its point fields.
func Fields(value string) map[string]any {
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return map[string]any{FieldValue: f}
	}
	return map[string]any{FieldText: value}
}

// Flush sends every queued point now. It is a no-op after Close.
func (w *Writer) Flush() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.api.Flush()
	}
}

// Closed reports whether Close was called.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close flushes queued points and releases the client. Calling it more
// than once, or on a nil writer, is safe.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.api.Flush()
	w.client.Close()
	return nil
}
