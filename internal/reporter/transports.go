package reporter

import (
	"fmt"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/connection/hubconn"
	"github.com/nerrad567/gray-logic-reporter/internal/connection/influxconn"
	"github.com/nerrad567/gray-logic-reporter/internal/connection/localconn"
	"github.com/nerrad567/gray-logic-reporter/internal/connection/mqttconn"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

// TransportFactory creates the transport of one connection entry.
type TransportFactory func(cfg config.ConnectionConfig, logger device.Logger) (connection.Transport, error)

// NewTransport creates the transport for cfg.Type.
func NewTransport(cfg config.ConnectionConfig, logger device.Logger) (connection.Transport, error) {
	switch cfg.Type {
	case config.ConnectionMQTT:
		return mqttconn.New(cfg, logger), nil
	case config.ConnectionHub:
		return hubconn.New(cfg, logger), nil
	case config.ConnectionLocal:
		return localconn.New(logger), nil
	case config.ConnectionInfluxDB:
		return influxconn.New(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: connection type %q is not supported", device.ErrConfiguration, cfg.Type)
	}
}
