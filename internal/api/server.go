package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-reporter/internal/router"
	"github.com/nerrad567/gray-logic-reporter/internal/scheduler"
	"github.com/nerrad567/gray-logic-reporter/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds the state store check of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// Runtime is the running reporter as seen by the API.
type Runtime interface {
	Connections() []connection.Status
	Sensors() []scheduler.Stats
	Actuators() []router.ActuatorStatus

	// Command sends token to the named actuator. Unknown actuators wrap
	// device.ErrNotFound; bad tokens wrap device.ErrCommandRejected.
	Command(actuator, token string) error

	// Refresh republishes the last readings of every polling sensor and
	// returns how many sensors were refreshed.
	Refresh() int

	// Reload re-reads the configuration and rebuilds every device.
	Reload(ctx context.Context) error
}

// HistoryReader returns stored readings of a sensor.
type HistoryReader interface {
	History(ctx context.Context, sensor string, limit int) ([]store.HistoryEntry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Runtime Runtime

	// History and DB are optional; both are nil when the database is
	// disabled.
	History HistoryReader
	DB      *database.DB

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	runtime   Runtime
	history   HistoryReader
	db        *database.DB
	version   string
	startTime time.Time
	hub       *Hub

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		runtime:   deps.Runtime,
		history:   deps.History,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
	}, nil
}

// Start binds the listener and serves in a background goroutine. The
// server can be stopped with Close().
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Stops the hub, which disconnects WebSocket clients.
	cancel()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
