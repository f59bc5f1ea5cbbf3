package reporter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-reporter/internal/actuator"
	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-reporter/internal/router"
	"github.com/nerrad567/gray-logic-reporter/internal/scheduler"
	"github.com/nerrad567/gray-logic-reporter/internal/sensor"
)

const (
	// closeTimeout bounds the intentional close of one connection.
	closeTimeout = 5 * time.Second

	// storeTimeout bounds one state store write on the publish path.
	storeTimeout = 2 * time.Second

	pruneInterval = time.Hour

	// commandSource names commands injected through Command.
	commandSource = "api"
)

var (
	// ErrNoConnections is returned by Start when no connection could be built.
	ErrNoConnections = errors.New("reporter: no usable connection")

	// ErrRunning is returned by Start on a reporter that is already running.
	ErrRunning = errors.New("reporter: already running")
)

// Store persists actuator levels and reading history.
type Store interface {
	actuator.StateLoader
	SaveState(ctx context.Context, name string, level int, lastCommanded string) error
	RecordReading(ctx context.Context, sensor, output, value string, at time.Time) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Observer is told about every routed reading and actuator echo.
type Observer interface {
	ReadingPublished(sensor string, r device.Reading)
	StateEchoed(actuator string, s device.State)
}

// Options are the collaborators of a Reporter. Only Logger is required.
type Options struct {
	Logger *logging.Logger

	// Store is nil when the database is disabled.
	Store Store

	NewTransport TransportFactory
	SensorDeps   sensor.Deps
	ActuatorDeps actuator.Deps
}

// Reporter runs the devices of one configuration.
//
// Thread Safety:
//   - Start, Stop and Reload are serialized.
//   - The status accessors may be called at any time, including during a
//     reload, and see either the old or the new devices.
type Reporter struct {
	opts   Options
	logger *logging.Logger

	lifecycle sync.Mutex

	mu        sync.RWMutex
	cfg       *config.Config
	running   bool
	conns     []*connection.Resilient
	router    *router.Router
	sched     *scheduler.Scheduler
	sensors   []device.Sensor
	actuators []device.Actuator
	observer  Observer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a reporter for cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) *Reporter {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.NewTransport == nil {
		opts.NewTransport = NewTransport
	}
	return &Reporter{opts: opts, logger: opts.Logger, cfg: cfg}
}

// SetObserver installs the observer. It survives reloads.
func (r *Reporter) SetObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// Start builds every device and starts the connections and the scheduler.
func (r *Reporter) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.start(ctx)
}

func (r *Reporter) start(ctx context.Context) error {
	r.mu.RLock()
	cfg, running := r.cfg, r.running
	r.mu.RUnlock()
	if running {
		return ErrRunning
	}

	conns := r.buildConnections(cfg)
	if len(conns) == 0 {
		return ErrNoConnections
	}

	rconns := make([]router.Connection, len(conns))
	for i, c := range conns {
		rconns[i] = c
	}
	rt := router.New(rconns, r.logger.With("component", "router"))
	rt.OnReading(r.readingPublished)
	rt.OnState(r.stateEchoed)

	sched := scheduler.New(func(name string, readings ...device.Reading) {
		rt.Publish(name, readings...)
	}, cfg.GetShutdownGrace(), r.logger.With("component", "scheduler"))

	actuators := r.buildActuators(ctx, cfg, rt)
	sensors := r.buildSensors(cfg, rt, sched)

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.conns = conns
	r.router = rt
	r.sched = sched
	r.sensors = sensors
	r.actuators = actuators
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	for _, c := range conns {
		c.OnRefresh(sched.Refresh)
	}

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			if err := c.Start(); err != nil {
				return fmt.Errorf("starting connection %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("connection start failed", "error", err)
	}

	sched.Start(runCtx)

	if r.opts.Store != nil && cfg.Database.HistoryRetention > 0 {
		r.wg.Add(1)
		go r.pruneLoop(runCtx, cfg.Database.HistoryRetention)
	}

	r.logger.Info("reporter started",
		"connections", len(conns),
		"sensors", len(sensors),
		"actuators", len(actuators),
	)
	return nil
}

func (r *Reporter) buildConnections(cfg *config.Config) []*connection.Resilient {
	var conns []*connection.Resilient
	for _, cc := range cfg.Connections {
		logger := r.logger.With("connection", cc.Name)
		transport, err := r.opts.NewTransport(cc, logger)
		if err != nil {
			r.logger.Error("connection skipped", "connection", cc.Name, "error", err)
			continue
		}
		conns = append(conns, connection.NewResilient(connection.Config{
			Name:               cc.Name,
			Type:               cc.Type,
			StatusDestination:  cc.StatusDestination,
			RefreshDestination: cc.RefreshDestination,
			RetryDelay:         cc.RetryDelay,
			RefreshOnConnect:   cc.RefreshOnConnect,
		}, transport, logger))
	}
	return conns
}

func (r *Reporter) buildActuators(ctx context.Context, cfg *config.Config, rt *router.Router) []device.Actuator {
	var built []device.Actuator
	for _, dc := range cfg.Actuators {
		if err := cfg.ValidateDevice(dc); err != nil {
			r.logger.Error("actuator skipped", "actuator", dc.Name, "error", err)
			continue
		}
		logger := r.logger.ForDevice(dc.Name, dc.Level)

		var act device.Actuator
		if strings.EqualFold(dc.Kind, router.KindLogicOr) {
			var inputs []map[string]string
			for _, b := range dc.Bindings {
				inputs = append(inputs, b.Inputs)
			}
			act = router.NewLogicOr(dc.Name, router.InputNames(inputs...), logger)
		} else {
			deps := r.opts.ActuatorDeps
			deps.Logger = logger
			if r.opts.Store != nil {
				deps.States = r.opts.Store
			}
			var err error
			if act, err = actuator.Build(ctx, dc, deps); err != nil {
				r.logger.Error("actuator skipped", "actuator", dc.Name, "error", err)
				continue
			}
		}

		if err := rt.BindActuator(act, dc.Bindings); err != nil {
			r.logger.Error("actuator skipped", "actuator", dc.Name, "error", err)
			closeQuietly(act, logger)
			continue
		}
		built = append(built, act)
		logger.Debug("actuator ready", "kind", dc.Kind)
	}
	return built
}

func (r *Reporter) buildSensors(cfg *config.Config, rt *router.Router, sched *scheduler.Scheduler) []device.Sensor {
	var built []device.Sensor
	for _, dc := range cfg.Sensors {
		if err := cfg.ValidateDevice(dc); err != nil {
			r.logger.Error("sensor skipped", "sensor", dc.Name, "error", err)
			continue
		}
		logger := r.logger.ForDevice(dc.Name, dc.Level)

		deps := r.opts.SensorDeps
		deps.Logger = logger
		s, err := sensor.Build(dc, deps)
		if err != nil {
			r.logger.Error("sensor skipped", "sensor", dc.Name, "error", err)
			continue
		}
		if err := rt.BindSensor(dc.Name, dc.Bindings); err != nil {
			r.logger.Error("sensor skipped", "sensor", dc.Name, "error", err)
			closeQuietly(s, logger)
			continue
		}
		if err := sched.Register(s); err != nil {
			r.logger.Error("sensor skipped", "sensor", dc.Name, "error", err)
			closeQuietly(s, logger)
			continue
		}
		built = append(built, s)
		logger.Debug("sensor ready", "kind", dc.Kind, "interval", dc.Interval)
	}
	return built
}

// Stop stops the scheduler, closes every device and closes the
// connections intentionally, so no disconnect action runs.
func (r *Reporter) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.stop()
}

func (r *Reporter) stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	sched, sensors, actuators, conns, cancel := r.sched, r.sensors, r.actuators, r.conns, r.cancel
	r.mu.Unlock()

	var errs []error
	if err := sched.Stop(); err != nil {
		// Stragglers were logged by the scheduler.
		errs = append(errs, err)
	}
	cancel()
	r.wg.Wait()

	for _, s := range sensors {
		closeQuietly(s, r.logger)
	}
	for _, a := range actuators {
		closeQuietly(a, r.logger)
	}

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			ctx, done := context.WithTimeout(context.Background(), closeTimeout)
			defer done()
			return c.Close(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	r.logger.Info("reporter stopped")
	return errors.Join(errs...)
}

// Reload stops everything and starts again from cfg.
func (r *Reporter) Reload(ctx context.Context, cfg *config.Config) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.logger.Info("reloading configuration")
	if err := r.stop(); err != nil {
		r.logger.Warn("stop during reload incomplete", "error", err)
	}

	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return r.start(ctx)
}

// Connections returns the status of every connection.
func (r *Reporter) Connections() []connection.Status {
	r.mu.RLock()
	conns := r.conns
	r.mu.RUnlock()

	out := make([]connection.Status, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Status())
	}
	return out
}

// Sensors returns the scheduler statistics of every sensor.
func (r *Reporter) Sensors() []scheduler.Stats {
	r.mu.RLock()
	sched := r.sched
	r.mu.RUnlock()
	if sched == nil {
		return nil
	}
	return sched.Stats()
}

// Actuators returns the state of every actuator.
func (r *Reporter) Actuators() []router.ActuatorStatus {
	r.mu.RLock()
	rt := r.router
	r.mu.RUnlock()
	if rt == nil {
		return nil
	}
	return rt.Statuses()
}

// Command sends token to the named actuator as a remote command.
func (r *Reporter) Command(name, token string) error {
	r.mu.RLock()
	rt, running := r.router, r.running
	r.mu.RUnlock()
	if !running {
		return fmt.Errorf("%w: %s", device.ErrNotFound, name)
	}
	act, ok := rt.Actuator(name)
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrNotFound, name)
	}
	return act.HandleCommand(commandSource, token)
}

// Refresh republishes the cached readings of every polling sensor and
// returns how many sensors that covers.
func (r *Reporter) Refresh() int {
	r.mu.RLock()
	sched, running := r.sched, r.running
	r.mu.RUnlock()
	if !running {
		return 0
	}
	sched.Refresh()

	n := 0
	for _, st := range sched.Stats() {
		if !st.Background {
			n++
		}
	}
	return n
}

func (r *Reporter) readingPublished(name string, rd device.Reading) {
	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()

	if r.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.opts.Store.RecordReading(ctx, name, rd.Output, rd.Value, rd.Time); err != nil {
			r.logger.Warn("recording reading failed", "sensor", name, "error", err)
		}
		cancel()
	}
	if obs != nil {
		obs.ReadingPublished(name, rd)
	}
}

func (r *Reporter) stateEchoed(name string, s device.State) {
	r.mu.RLock()
	obs, rt := r.observer, r.router
	r.mu.RUnlock()

	if r.opts.Store != nil && rt != nil {
		last := ""
		if act, ok := rt.Actuator(name); ok {
			last = act.LastCommanded()
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.opts.Store.SaveState(ctx, name, s.Level, last); err != nil {
			r.logger.Warn("saving actuator state failed", "actuator", name, "error", err)
		}
		cancel()
	}
	if obs != nil {
		obs.StateEchoed(name, s)
	}
}

func (r *Reporter) pruneLoop(ctx context.Context, retention time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	prune := func() {
		pctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		n, err := r.opts.Store.Prune(pctx, retention)
		if err != nil {
			r.logger.Warn("pruning reading history failed", "error", err)
			return
		}
		if n > 0 {
			r.logger.Debug("reading history pruned", "rows", n)
		}
	}

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

type closer interface {
	Name() string
	Close() error
}

func closeQuietly(c closer, logger device.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "device", c.Name(), "error", err)
	}
}
