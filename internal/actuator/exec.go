package actuator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/process"
)

// ExecError is published when the command fails or times out.
const ExecError = "ERROR"

// execNoArgs means "run the command without extra arguments".
const execNoArgs = "NA"

// RunFunc runs a command with a hard timeout and returns its output.
type RunFunc func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error)

// Exec runs a command for every received token and echoes its output.
//
// The token is split into arguments appended to the configured command line.
// Arguments that could chain commands are dropped. Commands run one at a
// time on a worker goroutine so the delivering connection is never blocked.
type Exec struct {
	name    string
	argv    []string
	timeout time.Duration
	run     RunFunc
	logger  device.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan string
	wg     sync.WaitGroup

	mu            sync.Mutex
	result        string
	lastCommanded string
	publish       func(device.State)
	closed        bool
}

// execQueueSize bounds commands waiting behind a running one.
const execQueueSize = 16

// NewExec creates an exec actuator for command.
func NewExec(name, command string, timeout time.Duration, run RunFunc, logger device.Logger) *Exec {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Exec{
		name:    name,
		argv:    process.SafeArgs(command),
		timeout: timeout,
		run:     run,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan string, execQueueSize),
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

// Name returns the actuator name.
func (e *Exec) Name() string { return e.name }

// HandleCommand queues the command.
func (e *Exec) HandleCommand(_, token string) error {
	if err := e.enqueue(token); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastCommanded = token
	e.mu.Unlock()
	return nil
}

// Force queues the command without recording it.
func (e *Exec) Force(token string) error {
	return e.enqueue(token)
}

func (e *Exec) enqueue(token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.queue <- token:
		return nil
	default:
		e.logger.Warn("command queue full, dropping", "actuator", e.name, "token", token)
		return wrapIO(e.name, errQueueFull)
	}
}

func (e *Exec) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case token := <-e.queue:
			e.execute(token)
		}
	}
}

// Args returns the argument vector for token.
func (e *Exec) Args(token string) []string {
	if len(e.argv) == 0 {
		return nil
	}
	args := append([]string(nil), e.argv[1:]...)
	token = strings.TrimSpace(token)
	if token != "" && token != execNoArgs {
		args = append(args, process.SafeArgs(token)...)
	}
	return args
}

func (e *Exec) execute(token string) {
	if len(e.argv) == 0 {
		e.logger.Error("no command configured", "actuator", e.name)
		return
	}
	args := e.Args(token)
	e.logger.Info("running command", "actuator", e.name, "command", e.argv[0], "args", args)

	out, err := e.run(e.ctx, e.timeout, e.argv[0], args...)
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.logger.Error("command failed", "actuator", e.name, "error", err)
		out = ExecError
	}

	e.mu.Lock()
	e.result = out
	publish := e.publish
	e.mu.Unlock()

	if publish != nil {
		publish(device.State{Text: out})
	}
}

// LastCommanded returns the last remote token.
func (e *Exec) LastCommanded() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCommanded
}

// CurrentState returns the last command output as Text.
func (e *Exec) CurrentState() device.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return device.State{Text: e.result}
}

// SetPublisher installs the echo callback.
func (e *Exec) SetPublisher(fn func(device.State)) {
	e.mu.Lock()
	e.publish = fn
	e.mu.Unlock()
}

// Close cancels a running command and stops the worker.
func (e *Exec) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	return nil
}
