package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

const localConfig = `
site:
  id: test-site
database:
  enabled: true
  path: "%DB%"
logging:
  level: error
  format: json
  output: stdout
connections:
  - name: local
    type: local
sensors:
  - name: heartbeat
    kind: heartbeat
    interval: 1s
    bindings:
      local:
        outputs:
          uptime:
            destination: "heartbeat/uptime"
actuators:
  - name: lamp
    kind: relay
    bindings:
      local:
        command_src: "lamp/cmd"
        destination: "lamp/state"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := strings.ReplaceAll(localConfig, "%DB%", filepath.Join(dir, "reporter.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, nil); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_CleanShutdown starts a reporter on the local bus, reloads it
// once and shuts it down.
func TestRun_CleanShutdown(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", writeConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, reload) }()

	reload <- syscall.SIGHUP
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("GRAYLOGIC_CONFIG", "/etc/reporter.yaml")
	if got := getConfigPath(); got != "/etc/reporter.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/reporter.yaml", got)
	}
}
