package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout is used when Options.AckTimeout is zero.
	defaultAckTimeout = 2 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Status payloads published retained to the status topic.
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// buildClientOptions creates paho MQTT options from reporter config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - TLS configuration with an optional CA bundle
//   - Clean session mode
//
// paho's own reconnect is disabled. Reconnection runs at a fixed delay in
// the connection layer so that reconnect actions fire in one place.
func buildClientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = "graylogic-reporter-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)

	if cfg.Broker.TLS {
		tlsConfig, err := buildTLSConfig(cfg.Broker)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

func buildTLSConfig(broker config.MQTTBrokerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: broker.TLSInsecure, //nolint:gosec // opt-in for self-signed brokers on the LAN
	}
	if broker.CACert == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(broker.CACert)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CA certificate: %w", ErrConnectionFailed, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates found in %s", ErrConnectionFailed, broker.CACert)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes OFFLINE retained to the status topic if the client
// drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, statusTopic string, qos byte) {
	opts.SetWill(statusTopic, StatusOffline, qos, true)
}
