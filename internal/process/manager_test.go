package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "test", Command: "true"})

	if m.cfg.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want 5s", m.cfg.RestartDelay)
	}
	if m.cfg.StopTimeout != 5*time.Second {
		t.Errorf("StopTimeout = %v, want 5s", m.cfg.StopTimeout)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %v, want %v", m.Status(), StatusStopped)
	}
	if m.Uptime() != 0 {
		t.Error("Uptime() should be 0 before start")
	}
}

func TestManager_StreamsLines(t *testing.T) {
	rec := &lineRecorder{}
	m := NewManager(Config{
		Name:    "lines",
		Command: "sh",
		Args:    []string{"-c", "echo one; echo two; sleep 10"},
		OnLine:  rec.add,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop() //nolint:errcheck

	waitFor(t, 3*time.Second, func() bool { return len(rec.snapshot()) == 2 })
	got := rec.snapshot()
	if got[0] != "one" || got[1] != "two" {
		t.Errorf("lines = %v, want [one two]", got)
	}
	if !m.IsRunning() {
		t.Error("IsRunning() = false while command sleeps")
	}
}

func TestManager_StartTwice(t *testing.T) {
	m := NewManager(Config{Name: "twice", Command: "sleep", Args: []string{"10"}})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop() //nolint:errcheck

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestManager_Stop(t *testing.T) {
	var exitErr error
	exited := make(chan struct{})
	m := NewManager(Config{
		Name:    "stop",
		Command: "sleep",
		Args:    []string{"30"},
		OnExit: func(err error) {
			exitErr = err
			close(exited)
		},
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("OnExit not called")
	}
	if exitErr != nil {
		t.Errorf("OnExit error = %v, want nil for requested stop", exitErr)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %v, want %v", m.Status(), StatusStopped)
	}
}

func TestManager_RestartOnExit(t *testing.T) {
	rec := &lineRecorder{}
	m := NewManager(Config{
		Name:          "flaky",
		Command:       "sh",
		Args:          []string{"-c", "echo tick; exit 1"},
		RestartOnExit: true,
		RestartDelay:  20 * time.Millisecond,
		MaxRestarts:   2,
		OnLine:        rec.add,
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop() //nolint:errcheck

	// One initial run plus two restarts.
	waitFor(t, 3*time.Second, func() bool { return len(rec.snapshot()) == 3 })
	waitFor(t, 3*time.Second, func() bool { return m.Status() == StatusFailed && m.Restarts() == 2 })
	if m.LastError() == nil {
		t.Error("LastError() = nil after failing exits")
	}
}

func TestManager_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(Config{Name: "ctx", Command: "sleep", Args: []string{"30"}, StopTimeout: time.Second})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	waitFor(t, 3*time.Second, func() bool { return m.Status() == StatusStopped })
}

func TestManager_InvalidCommand(t *testing.T) {
	m := NewManager(Config{Name: "missing", Command: "/nonexistent/binary"})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error for missing binary")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %v, want %v", m.Status(), StatusFailed)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed start = %v", err)
	}
}

func TestManager_EmptyCommand(t *testing.T) {
	if err := NewManager(Config{Name: "empty"}).Start(context.Background()); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Start() error = %v, want ErrNoCommand", err)
	}
}
