package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for one reporter connection.
//
// It provides explicit connect and disconnect, acknowledged publishing,
// subscription tracking and a retained ONLINE/OFFLINE status topic.
// Reconnection is driven by the caller through repeated Connect calls.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored on every successful Connect.
type Client struct {
	cfg    config.MQTTConfig
	topics Topics
	status string
	ack    time.Duration

	client   pahomqtt.Client
	session  uint64
	clientMu sync.Mutex

	// subscriptions tracks subscriptions for restoration on connect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on connect.
type subscription struct {
	topic   string
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
//
// Parameters:
//   - topic: The full broker topic the message was received on
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Options carries per-connection settings that are not part of MQTTConfig.
type Options struct {
	// StatusDestination receives the retained ONLINE/OFFLINE marker.
	StatusDestination string

	// AckTimeout bounds how long a publish may wait for the broker.
	AckTimeout time.Duration
}

// New creates a disconnected client. Call Connect to open the session.
func New(cfg config.MQTTConfig, opts Options) *Client {
	topics := Topics{Root: cfg.RootTopic}
	ack := opts.AckTimeout
	if ack <= 0 {
		ack = defaultAckTimeout
	}
	return &Client{
		cfg:           cfg,
		topics:        topics,
		status:        topics.Join(opts.StatusDestination),
		ack:           ack,
		subscriptions: make(map[string]subscription),
	}
}

// Topics returns the topic mapper for this client.
func (c *Client) Topics() Topics {
	return c.topics
}

// Connect establishes a fresh session with the broker.
//
// It performs the following setup:
//  1. Tears down any existing session
//  2. Builds connection options from config (broker URL, auth, TLS)
//  3. Configures Last Will and Testament (LWT) on the status topic
//  4. Attempts the connection, bounded by ctx and the connect timeout
//  5. Restores tracked subscriptions
//  6. Publishes ONLINE retained to the status topic
//
// Returns:
//   - error: wraps ErrConnectionFailed if the broker cannot be reached
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return ErrInvalidQoS
	}

	opts, err := buildClientOptions(c.cfg)
	if err != nil {
		return err
	}
	if c.status != "" {
		configureLWT(opts, c.status, c.qos())
	}

	c.clientMu.Lock()
	if c.client != nil {
		c.client.Disconnect(0)
	}
	c.session++
	session := c.session
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(session, err)
	})
	client := pahomqtt.NewClient(opts)
	c.client = client
	c.clientMu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-time.After(defaultConnectTimeout):
		client.Disconnect(0)
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions(client)

	if c.status != "" {
		if err := c.publishTopic(c.status, []byte(StatusOnline), true); err != nil {
			return fmt.Errorf("%w: publishing status: %w", ErrConnectionFailed, err)
		}
	}

	return nil
}

// handleDisconnect is called by paho when the connection is lost.
// Losses reported by a superseded session are ignored.
func (c *Client) handleDisconnect(session uint64, err error) {
	c.clientMu.Lock()
	stale := session != c.session
	c.clientMu.Unlock()
	if stale {
		return
	}

	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if !wasConnected {
		return
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after connect.
func (c *Client) restoreSubscriptions(client pahomqtt.Client) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := client.Subscribe(sub.topic, c.qos(), c.wrapHandler(sub.handler))
		if !token.WaitTimeout(c.ack) || token.Error() != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT resubscribe failed", "topic", sub.topic, "error", token.Error())
			}
		}
	}
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes OFFLINE retained to the status topic (best effort), then
// disconnects with a quiesce period. No disconnect callback fires.
//
// Returns:
//   - error: always nil; a connection already closed is not an error
func (c *Client) Close() error {
	c.clientMu.Lock()
	client := c.client
	c.clientMu.Unlock()
	if client == nil {
		return nil
	}

	if c.IsConnected() && c.status != "" {
		token := client.Publish(c.status, c.qos(), true, StatusOffline)
		token.WaitTimeout(c.ack)
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// Abort drops the session without publishing a status. The broker
// delivers the LWT once its keepalive expires. No disconnect callback fires.
func (c *Client) Abort() {
	c.clientMu.Lock()
	client := c.client
	c.clientMu.Unlock()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if client != nil {
		client.Disconnect(0)
	}
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	connected := c.connected
	c.connMu.RUnlock()
	if !connected {
		return false
	}

	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	return c.client != nil && c.client.IsConnected()
}

// SetOnDisconnect sets a callback to be invoked when the connection drops
// unexpectedly. It is not called for Close or Abort.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated 0-2 in Connect
}

func (c *Client) current() pahomqtt.Client {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	return c.client
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
