package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a supervised command.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// maxLineLength bounds a single line of command output.
const maxLineLength = 64 * 1024

// Config describes a long-running command.
type Config struct {
	// Name identifies the command in logs.
	Name string

	Command string
	Args    []string

	// Env entries (key=value) are appended to the parent environment.
	Env []string

	WorkDir string

	// RestartOnExit restarts the command when it exits on its own.
	RestartOnExit bool

	RestartDelay time.Duration

	// MaxRestarts limits restart attempts. 0 means unlimited.
	MaxRestarts int

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration

	// OnLine receives every stdout line, without the trailing newline.
	OnLine func(line string)

	// OnExit is called each time the command exits (nil error on a
	// requested stop).
	OnExit func(err error)
}

// Logger is the logging interface used by Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one long-running command, streaming its output
// line by line and restarting it when it exits unexpectedly.
type Manager struct {
	cfg    Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	lastError     error
	startedAt     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a manager for cfg.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	return &Manager{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the command and supervises it until ctx is cancelled or
// Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.Command == "" {
		return ErrNoCommand
	}

	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	exited, err := m.launch(ctx)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx, exited)
	return nil
}

// launch starts one instance of the command. The returned channel yields
// the exit error once the process has exited and its output is drained.
func (m *Manager) launch(ctx context.Context) (<-chan error, error) {
	cmd := exec.CommandContext(ctx, m.cfg.Command, m.cfg.Args...) //nolint:gosec // command comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = m.cfg.StopTimeout
	if m.cfg.Env != nil {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}
	if m.cfg.WorkDir != "" {
		cmd.Dir = m.cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("command started", "name", m.cfg.Name, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.scanLines(stdout, m.cfg.OnLine)
	}()
	go func() {
		defer readers.Done()
		m.scanLines(stderr, func(line string) {
			m.logger.Debug("command stderr", "name", m.cfg.Name, "line", line)
		})
	}()

	exited := make(chan error, 1)
	go func() {
		// Pipes must be drained before Wait closes them.
		readers.Wait()
		exited <- cmd.Wait()
	}()

	return exited, nil
}

func (m *Manager) scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		m.logger.Debug("output stream closed", "name", m.cfg.Name, "error", err)
	}
}

// supervise waits for exits and restarts the command as configured.
func (m *Manager) supervise(ctx context.Context, exited <-chan error) {
	defer close(m.done)

	for {
		err := <-exited

		m.mu.Lock()
		stopping := m.stopRequested || ctx.Err() != nil
		if stopping {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
		}
		m.mu.Unlock()

		if stopping {
			m.logger.Info("command stopped", "name", m.cfg.Name)
			if m.cfg.OnExit != nil {
				m.cfg.OnExit(nil)
			}
			return
		}

		if err == nil {
			err = errors.New("exited")
		}
		m.logger.Warn("command exited unexpectedly", "name", m.cfg.Name, "error", err)
		if m.cfg.OnExit != nil {
			m.cfg.OnExit(err)
		}

		if !m.cfg.RestartOnExit {
			return
		}

		m.mu.Lock()
		if m.cfg.MaxRestarts > 0 && m.restarts >= m.cfg.MaxRestarts {
			m.mu.Unlock()
			m.logger.Error("restart limit reached", "name", m.cfg.Name, "restarts", m.cfg.MaxRestarts)
			return
		}
		m.restarts++
		attempt := m.restarts
		m.mu.Unlock()

		m.logger.Info("restarting command", "name", m.cfg.Name, "attempt", attempt, "delay", m.cfg.RestartDelay)

		for {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.status = StatusStopped
				m.mu.Unlock()
				return
			case <-time.After(m.cfg.RestartDelay):
			}

			m.mu.RLock()
			stopping = m.stopRequested
			m.mu.RUnlock()
			if stopping {
				m.mu.Lock()
				m.status = StatusStopped
				m.mu.Unlock()
				return
			}

			next, startErr := m.launch(ctx)
			if startErr == nil {
				exited = next
				break
			}
			m.logger.Error("restart failed", "name", m.cfg.Name, "error", startErr)
			m.mu.Lock()
			m.lastError = startErr
			m.mu.Unlock()
		}
	}
}

// Stop sends SIGTERM to the command's process group and waits up to
// StopTimeout before sending SIGKILL.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	running := m.status == StatusRunning
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("SIGTERM failed", "name", m.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.StopTimeout):
		m.logger.Warn("command ignored SIGTERM, killing", "name", m.cfg.Name, "timeout", m.cfg.StopTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.cfg.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the command is running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error of the last unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Restarts returns how many times the command was restarted.
func (m *Manager) Restarts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restarts
}

// Uptime returns how long the current instance has been running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startedAt)
}
