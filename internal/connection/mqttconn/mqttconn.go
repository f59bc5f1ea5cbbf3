// Package mqttconn adapts the MQTT client to a connection Transport.
//
// Destinations are placed under the configured root topic. The client
// registers OFFLINE as its last will on the status destination and
// publishes ONLINE itself, so the transport announces its own status.
package mqttconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/mqtt"
)

// Transport is an MQTT connection transport.
type Transport struct {
	client *mqtt.Client
}

// New creates a transport for cfg.
func New(cfg config.ConnectionConfig, logger device.Logger) *Transport {
	client := mqtt.New(cfg.MQTT, mqtt.Options{
		StatusDestination: cfg.StatusDestination,
		AckTimeout:        cfg.AckTimeout,
	})
	if logger != nil {
		client.SetLogger(logger)
	}
	return &Transport{client: client}
}

// AnnouncesStatus reports true: ONLINE and the OFFLINE last will belong to
// the MQTT session.
func (t *Transport) AnnouncesStatus() bool { return true }

// Connect opens a new broker session.
func (t *Transport) Connect(ctx context.Context, lost func(error)) error {
	t.client.SetOnDisconnect(lost)
	if err := t.client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", device.ErrConnectivity, err)
	}
	return nil
}

// Publish sends msg with the configured QoS.
//
// A publish the broker does not acknowledge in time drops the session, so
// the next Connect starts from a fresh one.
func (t *Transport) Publish(_ context.Context, msg connection.Message) error {
	err := t.client.Publish(msg.Destination, []byte(msg.Payload), msg.Retain)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mqtt.ErrTimeout):
		t.client.Abort()
		return fmt.Errorf("%w: %w", device.ErrTimeout, err)
	case errors.Is(err, mqtt.ErrNotConnected):
		return fmt.Errorf("%w: %w", device.ErrConnectivity, err)
	default:
		return err
	}
}

// Subscribe registers handler for destination. The subscription is
// restored on every connect.
func (t *Transport) Subscribe(destination string, handler connection.Handler) error {
	return t.client.Subscribe(destination, func(_ string, payload []byte) error {
		handler(string(payload))
		return nil
	})
}

// Close publishes OFFLINE and disconnects.
func (t *Transport) Close(context.Context) error {
	return t.client.Close()
}

// Client exposes the underlying MQTT client.
func (t *Transport) Client() *mqtt.Client {
	return t.client
}
