package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

// DefaultShutdownGrace bounds how long Stop waits for workers.
const DefaultShutdownGrace = 5 * time.Second

// idleWake is how long the loop sleeps when nothing is scheduled.
const idleWake = time.Minute

// PublishFunc receives the readings of one sensor.
type PublishFunc func(sensor string, readings ...device.Reading)

// Stats describes one registered sensor.
type Stats struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Background bool          `json:"background"`
	Running    bool          `json:"running"`
	Polls      uint64        `json:"polls"`
	Skips      uint64        `json:"skips"`
	Errors     uint64        `json:"errors"`
	Readings   uint64        `json:"readings"`
	LastPoll   time.Time     `json:"last_poll,omitzero"`
	LastError  string        `json:"last_error,omitempty"`
}

type entry struct {
	sensor device.Sensor
	bg     device.BackgroundSensor

	next  time.Time
	busy  bool
	stats Stats
}

// Scheduler is the poll manager.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The publish callback is never called with the scheduler lock held.
type Scheduler struct {
	publish PublishFunc
	grace   time.Duration
	logger  device.Logger

	mu      sync.Mutex
	entries map[string]*entry
	cache   map[string]map[string]device.Reading
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wake    chan struct{}

	wg sync.WaitGroup
}

// New creates a scheduler. A grace of zero or less uses DefaultShutdownGrace.
func New(publish PublishFunc, grace time.Duration, logger device.Logger) *Scheduler {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	if logger == nil {
		logger = device.NoopLogger{}
	}
	return &Scheduler{
		publish: publish,
		grace:   grace,
		logger:  logger,
		entries: make(map[string]*entry),
		cache:   make(map[string]map[string]device.Reading),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds a sensor. A polling sensor is first polled as soon as the
// scheduler runs; a background sensor starts immediately if the scheduler
// is already running.
func (s *Scheduler) Register(sensor device.Sensor) error {
	name := sensor.Name()
	e := &entry{sensor: sensor, stats: Stats{Name: name, Interval: sensor.Interval()}}

	if sensor.Interval() <= 0 {
		bg, ok := sensor.(device.BackgroundSensor)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotBackground, name)
		}
		e.bg = bg
		e.stats.Background = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	s.entries[name] = e

	if s.started {
		if e.bg != nil {
			s.startBackgroundLocked(e)
		} else {
			e.next = time.Now()
			s.signal()
		}
	}
	return nil
}

// Start runs the coordinating loop and every background sensor.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	now := time.Now()
	for _, e := range s.entries {
		if e.bg != nil {
			s.startBackgroundLocked(e)
		} else {
			e.next = now
		}
	}

	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		timer.Reset(s.runDue(time.Now()))
	}
}

// runDue starts a worker for every due sensor that is idle, skips the busy
// ones and returns the delay until the next due time.
func (s *Scheduler) runDue(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return idleWake
	}

	next := now.Add(idleWake)
	for _, e := range s.entries {
		if e.bg != nil {
			continue
		}
		if !e.next.After(now) {
			if e.busy {
				e.stats.Skips++
				s.logger.Warn("previous poll still running, cycle skipped",
					"sensor", e.stats.Name, "interval", e.stats.Interval)
			} else {
				e.busy = true
				e.stats.Running = true
				s.wg.Add(1)
				go s.poll(s.ctx, e)
			}
			e.next = now.Add(e.stats.Interval)
		}
		if e.next.Before(next) {
			next = e.next
		}
	}
	return next.Sub(now)
}

func (s *Scheduler) poll(ctx context.Context, e *entry) {
	defer s.wg.Done()

	var (
		readings []device.Reading
		err      error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: poll panicked: %v", device.ErrDeviceIO, p)
			}
		}()
		readings, err = e.sensor.Poll(ctx)
	}()

	s.mu.Lock()
	e.busy = false
	e.stats.Running = false
	e.stats.Polls++
	e.stats.LastPoll = time.Now()
	e.stats.Readings += uint64(len(readings))
	if err != nil {
		e.stats.Errors++
		e.stats.LastError = err.Error()
	}
	if len(readings) > 0 {
		s.cacheLocked(e.stats.Name, readings)
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logPollError(e.stats.Name, err)
	}
	if len(readings) > 0 && s.publish != nil {
		s.publish(e.stats.Name, readings...)
	}
}

func (s *Scheduler) logPollError(name string, err error) {
	switch {
	case errors.Is(err, device.ErrTimeout):
		s.logger.Warn("poll timed out", "sensor", name, "error", err)
	case errors.Is(err, device.ErrDeviceIO):
		s.logger.Warn("poll failed", "sensor", name, "error", err)
	default:
		s.logger.Error("poll failed", "sensor", name, "error", err)
	}
}

func (s *Scheduler) cacheLocked(name string, readings []device.Reading) {
	outputs := s.cache[name]
	if outputs == nil {
		outputs = make(map[string]device.Reading)
		s.cache[name] = outputs
	}
	for _, r := range readings {
		outputs[r.Output] = r
	}
}

func (s *Scheduler) startBackgroundLocked(e *entry) {
	e.stats.Running = true
	s.wg.Add(1)
	go s.runBackground(s.ctx, e)
}

func (s *Scheduler) runBackground(ctx context.Context, e *entry) {
	defer s.wg.Done()
	name := e.stats.Name

	emit := func(r device.Reading) {
		s.mu.Lock()
		e.stats.Readings++
		e.stats.LastPoll = time.Now()
		s.mu.Unlock()
		if s.publish != nil {
			s.publish(name, r)
		}
	}

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: background sensor panicked: %v", device.ErrDeviceIO, p)
			}
		}()
		err = e.bg.Run(ctx, emit)
	}()

	s.mu.Lock()
	e.stats.Running = false
	if err != nil && ctx.Err() == nil {
		e.stats.Errors++
		e.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Error("background sensor stopped", "sensor", name, "error", err)
	}
}

// Refresh republishes the cached readings of every polling sensor without
// polling. Background sensors are not refreshed.
func (s *Scheduler) Refresh() {
	type batch struct {
		name     string
		readings []device.Reading
	}

	s.mu.Lock()
	var batches []batch
	for name, e := range s.entries {
		if e.bg != nil {
			continue
		}
		if readings := sortedReadings(s.cache[name]); len(readings) > 0 {
			batches = append(batches, batch{name: name, readings: readings})
		}
	}
	s.mu.Unlock()

	sort.Slice(batches, func(i, j int) bool { return batches[i].name < batches[j].name })
	s.logger.Debug("refreshing cached readings", "sensors", len(batches))
	if s.publish == nil {
		return
	}
	for _, b := range batches {
		s.publish(b.name, b.readings...)
	}
}

func sortedReadings(outputs map[string]device.Reading) []device.Reading {
	out := make([]device.Reading, 0, len(outputs))
	for _, r := range outputs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Output < out[j].Output })
	return out
}

// Cached returns the last readings of a polling sensor.
func (s *Scheduler) Cached(name string) []device.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedReadings(s.cache[name])
}

// Stats returns a snapshot of every sensor, sorted by name.
func (s *Scheduler) Stats() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stats, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels the schedule and every worker, then waits up to the grace
// period. Workers still running afterwards are abandoned and logged.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	var stuck []string
	s.mu.Lock()
	for name, e := range s.entries {
		if e.stats.Running {
			stuck = append(stuck, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(stuck)

	s.logger.Error("workers abandoned after shutdown grace period",
		"grace", s.grace, "sensors", stuck)
	return fmt.Errorf("%w: %s", ErrGraceExceeded, strings.Join(stuck, ", "))
}
