package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

// Connection is the part of a resilient connection the router drives.
type Connection interface {
	Name() string
	Publish(msg connection.Message) error
	PublishReading(sensor string, msg connection.Message) error
	Subscribe(destination string, handler connection.Handler) error
	EnableBuffering(sensor, destination string, capacity int)
	AddDisconnectAction(act device.Actuator, action connection.Action)
	AddReconnectAction(act device.Actuator, action connection.Action)
}

// Gate is an actuator with named inputs and an enable source, such as
// LogicOr.
type Gate interface {
	device.Actuator
	Input(name, token string) error
	Enable(token string) error
}

type route struct {
	conn        Connection
	output      string
	destination string
	values      device.Values
	retain      bool
	attributes  map[string]string
}

func (rt route) message(payload string) connection.Message {
	return connection.Message{
		Destination: rt.destination,
		Payload:     payload,
		Retain:      rt.retain,
		Attributes:  rt.attributes,
	}
}

// Router binds devices to connections.
//
// Thread Safety:
//   - Bind* calls are made during start-up; Publish and echoes may run
//     concurrently from scheduler workers and transport goroutines.
type Router struct {
	conns  map[string]Connection
	logger device.Logger

	mu        sync.RWMutex
	sensors   map[string][]route
	actuators map[string]device.Actuator
	echoes    map[string][]route
	onReading func(sensor string, r device.Reading)
	onState   func(actuator string, s device.State)
}

// New creates a router over conns.
func New(conns []Connection, logger device.Logger) *Router {
	if logger == nil {
		logger = device.NoopLogger{}
	}
	byName := make(map[string]Connection, len(conns))
	for _, c := range conns {
		byName[c.Name()] = c
	}
	return &Router{
		conns:     byName,
		logger:    logger,
		sensors:   make(map[string][]route),
		actuators: make(map[string]device.Actuator),
		echoes:    make(map[string][]route),
	}
}

// OnReading installs a hook called for every reading routed, after it was
// published.
func (r *Router) OnReading(fn func(sensor string, rd device.Reading)) {
	r.mu.Lock()
	r.onReading = fn
	r.mu.Unlock()
}

// OnState installs a hook called for every actuator echo.
func (r *Router) OnState(fn func(actuator string, s device.State)) {
	r.mu.Lock()
	r.onState = fn
	r.mu.Unlock()
}

func (r *Router) connection(name string) (Connection, error) {
	c, ok := r.conns[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown connection %q", device.ErrConfiguration, name)
	}
	return c, nil
}

// sortedBindings returns binding names in a stable order.
func sortedBindings(bindings map[string]config.BindingConfig) []string {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BindSensor resolves every output of a sensor to its destinations.
//
// The binding's own destination serves the default output; named outputs
// come from the outputs section and fall back to the binding's value pair.
// With send_readings set, each destination buffers while offline.
func (r *Router) BindSensor(name string, bindings map[string]config.BindingConfig) error {
	var routes []route
	for _, connName := range sortedBindings(bindings) {
		b := bindings[connName]
		conn, err := r.connection(connName)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", name, err)
		}

		var bound []route
		if b.Destination != "" {
			bound = append(bound, route{
				conn:        conn,
				destination: b.Destination,
				values:      device.NewValues(b.Values, b.Raw),
				retain:      b.Retain,
				attributes:  b.Attributes,
			})
		}
		for output, out := range b.Outputs {
			values := out.Values
			if len(values) == 0 {
				values = b.Values
			}
			attrs := out.Attributes
			if attrs == nil {
				attrs = b.Attributes
			}
			bound = append(bound, route{
				conn:        conn,
				output:      output,
				destination: out.Destination,
				values:      device.NewValues(values, out.Raw || b.Raw),
				retain:      out.Retain || b.Retain,
				attributes:  attrs,
			})
		}

		if b.SendReadings {
			capacity := b.NumberOfReadings
			if capacity <= 0 {
				capacity = 1
			}
			for _, rt := range bound {
				conn.EnableBuffering(name, rt.destination, capacity)
			}
		}
		routes = append(routes, bound...)
	}

	if len(routes) == 0 {
		return fmt.Errorf("%w: sensor %s has no destination", device.ErrConfiguration, name)
	}

	r.mu.Lock()
	r.sensors[name] = routes
	r.mu.Unlock()
	return nil
}

// Publish delivers readings of sensor to every matching destination and
// returns how many publishes were accepted.
func (r *Router) Publish(sensor string, readings ...device.Reading) int {
	r.mu.RLock()
	routes := r.sensors[sensor]
	hook := r.onReading
	r.mu.RUnlock()

	sent := 0
	for _, rd := range readings {
		matched := false
		for _, rt := range routes {
			if rt.output != rd.Output {
				continue
			}
			matched = true
			err := rt.conn.PublishReading(sensor, rt.message(rt.values.Reading(rd)))
			if err != nil {
				r.logPublishError(sensor, rt, err)
				continue
			}
			sent++
		}
		if !matched {
			r.logger.Debug("reading has no destination", "sensor", sensor, "output", rd.Output)
		}
		if hook != nil {
			hook(sensor, rd)
		}
	}
	return sent
}

func (r *Router) logPublishError(dev string, rt route, err error) {
	if errors.Is(err, connection.ErrNotConnected) {
		r.logger.Debug("connection offline, value not published",
			"device", dev, "connection", rt.conn.Name(), "destination", rt.destination)
		return
	}
	r.logger.Warn("publish failed",
		"device", dev, "connection", rt.conn.Name(), "destination", rt.destination, "error", err)
}

// BindActuator subscribes act to every command source of its bindings,
// registers its connectivity actions and installs the echo publisher.
//
// A Gate additionally gets its inputs and enable source subscribed.
func (r *Router) BindActuator(act device.Actuator, bindings map[string]config.BindingConfig) error {
	name := act.Name()
	gate, isGate := act.(Gate)

	var echoes []route
	for _, connName := range sortedBindings(bindings) {
		b := bindings[connName]
		conn, err := r.connection(connName)
		if err != nil {
			return fmt.Errorf("actuator %s: %w", name, err)
		}

		if b.Destination != "" {
			echoes = append(echoes, route{
				conn:        conn,
				destination: b.Destination,
				values:      device.NewValues(b.Values, b.Raw),
				retain:      b.Retain,
				attributes:  b.Attributes,
			})
		}

		if b.CommandSrc != "" {
			if err := conn.Subscribe(b.CommandSrc, r.commandHandler(act, connName)); err != nil {
				return fmt.Errorf("actuator %s: subscribing %s on %s: %w", name, b.CommandSrc, connName, err)
			}
		}

		if isGate {
			if err := r.bindGate(gate, conn, b); err != nil {
				return err
			}
		}

		conn.AddDisconnectAction(act, connection.ActionFromConfig(b.OnDisconnect))
		conn.AddReconnectAction(act, connection.ActionFromConfig(b.OnReconnect))
	}

	r.mu.Lock()
	r.actuators[name] = act
	r.echoes[name] = echoes
	r.mu.Unlock()

	act.SetPublisher(func(s device.State) { r.echo(name, s) })
	return nil
}

func (r *Router) bindGate(gate Gate, conn Connection, b config.BindingConfig) error {
	for input, dest := range b.Inputs {
		input := input
		err := conn.Subscribe(dest, func(payload string) {
			if err := gate.Input(input, payload); err != nil {
				r.logger.Warn("gate input rejected", "actuator", gate.Name(), "input", input, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("actuator %s: subscribing input %s: %w", gate.Name(), input, err)
		}
	}
	if b.EnableSrc != "" {
		err := conn.Subscribe(b.EnableSrc, func(payload string) {
			if err := gate.Enable(payload); err != nil {
				r.logger.Warn("gate enable rejected", "actuator", gate.Name(), "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("actuator %s: subscribing enable source: %w", gate.Name(), err)
		}
	}
	return nil
}

func (r *Router) commandHandler(act device.Actuator, source string) connection.Handler {
	return func(payload string) {
		if err := act.HandleCommand(source, payload); err != nil {
			if errors.Is(err, device.ErrCommandRejected) {
				r.logger.Warn("command rejected", "actuator", act.Name(), "connection", source, "token", payload)
				return
			}
			r.logger.Error("command failed", "actuator", act.Name(), "connection", source, "error", err)
		}
	}
}

func (r *Router) echo(name string, s device.State) {
	r.mu.RLock()
	routes := r.echoes[name]
	hook := r.onState
	r.mu.RUnlock()

	for _, rt := range routes {
		if err := rt.conn.Publish(rt.message(rt.values.State(s))); err != nil {
			r.logPublishError(name, rt, err)
		}
	}
	if hook != nil {
		hook(name, s)
	}
}

// Actuator returns a bound actuator by name.
func (r *Router) Actuator(name string) (device.Actuator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	act, ok := r.actuators[name]
	return act, ok
}

// Actuators returns every bound actuator, sorted by name.
func (r *Router) Actuators() []device.Actuator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]device.Actuator, 0, len(r.actuators))
	for _, act := range r.actuators {
		out = append(out, act)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ActuatorStatus is a point-in-time view of an actuator.
type ActuatorStatus struct {
	Name          string `json:"name"`
	Level         int    `json:"level"`
	Text          string `json:"text,omitempty"`
	LastCommanded string `json:"last_commanded,omitempty"`

	// Enabled is set for logic gates only.
	Enabled *bool `json:"enabled,omitempty"`
}

// Statuses returns the state of every bound actuator, sorted by name.
func (r *Router) Statuses() []ActuatorStatus {
	acts := r.Actuators()
	out := make([]ActuatorStatus, 0, len(acts))
	for _, act := range acts {
		st := act.CurrentState()
		s := ActuatorStatus{
			Name:          act.Name(),
			Level:         st.Level,
			Text:          st.Text,
			LastCommanded: act.LastCommanded(),
		}
		if g, ok := act.(interface{ Enabled() bool }); ok {
			enabled := g.Enabled()
			s.Enabled = &enabled
		}
		out = append(out, s)
	}
	return out
}
