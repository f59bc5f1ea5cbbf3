package actuator

import (
	"sort"
	"sync"
	"time"
)

// fakeClock fires timers only when Advance moves time past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	seq      int
	f        func()
	stopped  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

// Advance moves time forward, running due callbacks in deadline order.
// Callbacks run without the clock lock so they may schedule new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		sort.Slice(c.timers, func(i, j int) bool {
			if c.timers[i].deadline.Equal(c.timers[j].deadline) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		})

		var next *fakeTimer
		for len(c.timers) > 0 {
			head := c.timers[0]
			if head.stopped {
				c.timers = c.timers[1:]
				continue
			}
			if !head.deadline.After(target) {
				next = head
				c.timers = c.timers[1:]
			}
			break
		}
		if next == nil {
			break
		}

		next.stopped = true
		c.now = next.deadline
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// pending returns the number of live timers.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}
