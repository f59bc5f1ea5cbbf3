package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

// Defaults for Resilient.
const (
	DefaultRetryDelay = 5 * time.Second

	// markerTimeout bounds the best-effort OFFLINE publish.
	markerTimeout = time.Second
)

// Config holds the transport-independent settings of one connection.
type Config struct {
	Name string

	// Type is informational (mqtt, hub, local, influxdb).
	Type string

	StatusDestination  string
	RefreshDestination string

	RetryDelay time.Duration

	// RefreshOnConnect requests a refresh after every (re)connect.
	RefreshOnConnect bool
}

// Status is a point-in-time view of a connection.
type Status struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	Buffered  int       `json:"buffered"`
	Published uint64    `json:"published"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

// Resilient wraps a Transport with connectivity tracking, reconnects,
// offline buffering and connectivity actions.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Transport calls, actuator actions and handlers run outside the lock.
type Resilient struct {
	cfg       Config
	transport Transport
	logger    device.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         State
	since         time.Time
	epoch         uint64
	everConnected bool
	closed        bool
	started       bool
	seq           uint64
	buffers       map[bufferKey]*ReadingBuffer
	handlers      map[string]Handler
	onDisconnect  []boundAction
	onReconnect   []boundAction
	onRefresh     func()
	listeners     []func(name string, s State)
	published     uint64
	failures      uint64
	lastErr       error
}

type bufferKey struct {
	sensor      string
	destination string
}

// NewResilient wraps transport. Call Start to begin connecting.
func NewResilient(cfg Config, transport Transport, logger device.Logger) *Resilient {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = device.NoopLogger{}
	}
	r := &Resilient{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		state:     Disconnected,
		since:     time.Now(),
		buffers:   make(map[bufferKey]*ReadingBuffer),
		handlers:  make(map[string]Handler),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Name returns the connection name.
func (r *Resilient) Name() string { return r.cfg.Name }

// State returns the current connectivity state.
func (r *Resilient) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns a snapshot for reporting.
func (r *Resilient) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		Name:      r.cfg.Name,
		Type:      r.cfg.Type,
		State:     r.state,
		Since:     r.since,
		Published: r.published,
		Failures:  r.failures,
	}
	for _, b := range r.buffers {
		s.Buffered += b.Len()
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

// OnStateChange registers a listener for connectivity transitions. Listeners
// run synchronously on the goroutine that made the transition.
func (r *Resilient) OnStateChange(fn func(name string, s State)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// OnRefresh installs the callback for messages on the refresh destination.
func (r *Resilient) OnRefresh(fn func()) {
	r.mu.Lock()
	r.onRefresh = fn
	r.mu.Unlock()
}

// EnableBuffering makes readings of sensor on destination buffer while
// offline, keeping the newest capacity entries.
func (r *Resilient) EnableBuffering(sensor, destination string, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := bufferKey{sensor: sensor, destination: destination}
	if _, ok := r.buffers[key]; !ok {
		r.buffers[key] = NewReadingBuffer(capacity)
	}
}

// AddDisconnectAction forces action onto act when the link drops.
func (r *Resilient) AddDisconnectAction(act device.Actuator, action Action) {
	if !action.ChangeState || action.TargetState == "" {
		return
	}
	action.ResumeLastState = false
	r.mu.Lock()
	r.onDisconnect = append(r.onDisconnect, boundAction{actuator: act, action: action})
	r.mu.Unlock()
}

// AddReconnectAction forces action onto act when the link comes back.
func (r *Resilient) AddReconnectAction(act device.Actuator, action Action) {
	if !action.ResumeLastState && (!action.ChangeState || action.TargetState == "") {
		return
	}
	r.mu.Lock()
	r.onReconnect = append(r.onReconnect, boundAction{actuator: act, action: action})
	r.mu.Unlock()
}

// Subscribe routes inbound messages on destination to handler. A later
// registration for the same destination replaces the earlier one.
func (r *Resilient) Subscribe(destination string, handler Handler) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	_, existed := r.handlers[destination]
	r.handlers[destination] = handler
	r.mu.Unlock()

	if existed {
		r.logger.Warn("command destination re-registered, previous handler replaced",
			"connection", r.cfg.Name, "destination", destination)
		return nil
	}
	return r.transport.Subscribe(destination, func(payload string) {
		r.dispatch(destination, payload)
	})
}

func (r *Resilient) dispatch(destination, payload string) {
	r.mu.Lock()
	handler := r.handlers[destination]
	closed := r.closed
	r.mu.Unlock()

	if closed || handler == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command handler panic recovered",
				"connection", r.cfg.Name, "destination", destination, "panic", p)
		}
	}()
	handler(payload)
}

// Start begins connecting in the background. It returns immediately.
func (r *Resilient) Start() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.wg.Add(1)
	r.mu.Unlock()

	if r.cfg.RefreshDestination != "" {
		err := r.transport.Subscribe(r.cfg.RefreshDestination, func(string) { r.refresh() })
		if err != nil {
			r.wg.Done()
			return fmt.Errorf("subscribing refresh destination: %w", err)
		}
	}

	go r.connectLoop()
	return nil
}

func (r *Resilient) refresh() {
	r.mu.Lock()
	fn := r.onRefresh
	r.mu.Unlock()
	if fn != nil {
		r.logger.Debug("refresh requested", "connection", r.cfg.Name)
		fn()
	}
}

// connectLoop retries Connect at a fixed delay until it succeeds or the
// connection is closed.
func (r *Resilient) connectLoop() {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.epoch++
		epoch := r.epoch
		r.mu.Unlock()
		r.setState(Connecting, epoch)

		err := r.transport.Connect(r.ctx, func(err error) { r.handleLost(epoch, err) })
		if err == nil {
			r.onConnected(epoch)
			return
		}
		if r.ctx.Err() != nil {
			return
		}

		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		r.logger.Warn("connect failed, retrying",
			"connection", r.cfg.Name, "error", err, "retry_in", r.cfg.RetryDelay)
		r.setState(Disconnected, epoch)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(r.cfg.RetryDelay):
		}
	}
}

// setState records a transition if epoch is still current.
func (r *Resilient) setState(s State, epoch uint64) bool {
	r.mu.Lock()
	if epoch != r.epoch || r.closed || r.state == s {
		r.mu.Unlock()
		return false
	}
	r.state = s
	r.since = time.Now()
	listeners := append([]func(string, State){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(r.cfg.Name, s)
	}
	return true
}

func (r *Resilient) onConnected(epoch uint64) {
	r.mu.Lock()
	reconnect := r.everConnected
	r.everConnected = true
	r.lastErr = nil
	r.mu.Unlock()

	r.logger.Info("connected", "connection", r.cfg.Name)

	if r.cfg.StatusDestination != "" && !announcesStatus(r.transport) {
		err := r.transport.Publish(r.ctx, Message{Destination: r.cfg.StatusDestination, Payload: StatusOnline, Retain: true})
		if err != nil {
			r.logger.Warn("publishing online marker failed", "connection", r.cfg.Name, "error", err)
		}
	}

	// Readings that arrive while flushing are buffered behind the replayed
	// ones, so drain until the buffers stay empty.
	for {
		r.mu.Lock()
		if epoch != r.epoch || r.closed {
			r.mu.Unlock()
			return
		}
		pending := r.drainLocked()
		if len(pending) == 0 {
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()

		for i, entry := range pending {
			if err := r.transport.Publish(r.ctx, entry.msg); err != nil {
				r.rebuffer(pending[i:])
				r.handleLost(epoch, err)
				return
			}
			r.countPublished()
		}
		r.logger.Info("replayed buffered readings", "connection", r.cfg.Name, "count", len(pending))
	}

	if !r.setState(Connected, epoch) {
		return
	}

	if reconnect {
		r.mu.Lock()
		actions := append([]boundAction(nil), r.onReconnect...)
		r.mu.Unlock()
		r.apply("reconnect", actions)
	}

	if r.cfg.RefreshOnConnect {
		r.refresh()
	}
}

// drainLocked empties every buffer and returns the entries in the order
// they were produced.
func (r *Resilient) drainLocked() []bufferedReading {
	var out []bufferedReading
	for key, b := range r.buffers {
		if dropped := b.Dropped(); dropped > 0 {
			r.logger.Warn("offline buffer overflowed, oldest readings dropped",
				"connection", r.cfg.Name, "sensor", key.sensor, "destination", key.destination, "dropped", dropped)
		}
		out = append(out, b.drain()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// rebuffer puts unsent replay entries back into their buffers.
func (r *Resilient) rebuffer(entries []bufferedReading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if b, ok := r.buffers[e.key]; ok {
			b.push(e)
		}
	}
}

// handleLost processes the end of the session started in epoch.
func (r *Resilient) handleLost(epoch uint64, err error) {
	r.mu.Lock()
	if epoch != r.epoch || r.closed || r.state == Disconnected {
		r.mu.Unlock()
		return
	}
	wasConnected := r.state == Connected
	r.state = Disconnected
	r.since = time.Now()
	r.epoch++
	r.lastErr = err
	r.failures++
	listeners := append([]func(string, State){}, r.listeners...)
	actions := append([]boundAction(nil), r.onDisconnect...)
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Warn("connection lost", "connection", r.cfg.Name, "error", err)
	for _, fn := range listeners {
		fn(r.cfg.Name, Disconnected)
	}

	if wasConnected {
		r.publishOffline()
		r.apply("disconnect", actions)
	}

	go func() {
		select {
		case <-r.ctx.Done():
			r.wg.Done()
			return
		case <-time.After(r.cfg.RetryDelay):
		}
		r.connectLoop()
	}()
}

// publishOffline sends the OFFLINE marker as a last best-effort message.
func (r *Resilient) publishOffline() {
	if r.cfg.StatusDestination == "" || announcesStatus(r.transport) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	_ = r.transport.Publish(ctx, Message{Destination: r.cfg.StatusDestination, Payload: StatusOffline, Retain: true})
}

func (r *Resilient) apply(kind string, actions []boundAction) {
	for _, ba := range actions {
		token := ba.action.token(ba.actuator)
		if token == "" {
			continue
		}
		r.logger.Info("applying "+kind+" action",
			"connection", r.cfg.Name, "actuator", ba.actuator.Name(), "command", token)
		if err := ba.actuator.Force(token); err != nil {
			r.logger.Error(kind+" action failed",
				"connection", r.cfg.Name, "actuator", ba.actuator.Name(), "error", err)
		}
	}
}

func (r *Resilient) countPublished() {
	r.mu.Lock()
	r.published++
	r.mu.Unlock()
}

// Publish sends msg when connected and drops it otherwise. A link failure
// reported by the transport marks the connection lost.
func (r *Resilient) Publish(msg Message) error {
	return r.publish("", msg)
}

// PublishReading is Publish for sensor readings: while offline, readings on
// a buffered destination are kept for replay instead of dropped.
func (r *Resilient) PublishReading(sensor string, msg Message) error {
	return r.publish(sensor, msg)
}

func (r *Resilient) publish(sensor string, msg Message) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != Connected {
		buffered := r.bufferLocked(sensor, msg)
		r.mu.Unlock()
		if buffered {
			return nil
		}
		r.logger.Debug("not connected, message dropped",
			"connection", r.cfg.Name, "destination", msg.Destination)
		return ErrNotConnected
	}
	epoch := r.epoch
	r.mu.Unlock()

	if err := r.transport.Publish(r.ctx, msg); err != nil {
		if IsLinkFailure(err) {
			r.mu.Lock()
			r.bufferLocked(sensor, msg)
			r.mu.Unlock()
			r.handleLost(epoch, err)
		}
		return fmt.Errorf("publishing to %s on %s: %w", msg.Destination, r.cfg.Name, err)
	}
	r.countPublished()
	return nil
}

// bufferLocked stores msg if its sensor output buffers while offline.
// Nothing is buffered before the first successful connect.
func (r *Resilient) bufferLocked(sensor string, msg Message) bool {
	if sensor == "" || !r.everConnected {
		return false
	}
	key := bufferKey{sensor: sensor, destination: msg.Destination}
	b, ok := r.buffers[key]
	if !ok {
		return false
	}
	r.seq++
	b.push(bufferedReading{seq: r.seq, key: key, msg: msg})
	return true
}

// Close ends the connection intentionally: disconnect actions do not run,
// the reconnect loop stops and OFFLINE is published while still possible.
func (r *Resilient) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	wasConnected := r.state == Connected
	r.closed = true
	r.state = Disconnected
	r.since = time.Now()
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	if wasConnected {
		r.publishOffline()
	}

	if err := r.transport.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("closing %s: %w", r.cfg.Name, err)
	}
	r.logger.Info("connection closed", "connection", r.cfg.Name)
	return nil
}
