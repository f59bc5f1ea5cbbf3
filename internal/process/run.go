package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the kill.
const waitDelay = time.Second

// Run executes a command and returns its trimmed stdout.
//
// The command runs in its own process group. When timeout elapses or ctx is
// cancelled the whole group receives SIGKILL, so a shell script cannot leave
// children behind holding the worker.
//
// Returns:
//   - string: stdout without trailing whitespace
//   - error: ErrTimeout, ErrExitStatus (with stderr), or a start failure
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	if name == "" {
		return "", ErrNoCommand
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...) //nolint:gosec // command comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %s after %v", ErrTimeout, name, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return strings.TrimRight(stdout.String(), " \t\r\n"),
				fmt.Errorf("%w: %s exited %d: %s", ErrExitStatus, name, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("running %s: %w", name, err)
	}

	return strings.TrimRight(stdout.String(), " \t\r\n"), nil
}

// SafeArgs splits a command line on spaces and drops every argument that
// could chain or redirect commands (containing ';', '|' or '//').
func SafeArgs(line string) []string {
	var out []string
	for _, arg := range strings.Split(line, " ") {
		if arg == "" || !IsSafe(arg) {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// IsSafe reports whether arg may be passed to a command.
func IsSafe(arg string) bool {
	return !strings.ContainsAny(arg, ";|") && !strings.Contains(arg, "//")
}
