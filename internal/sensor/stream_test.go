package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/process"
)

func TestStream_EmitsLines(t *testing.T) {
	s := NewStream("events", process.Config{
		Name:    "events",
		Command: "sh",
		Args:    []string{"-c", "echo first; echo; echo second; sleep 5"},
	}, device.NoopLogger{})

	if s.Interval() != 0 {
		t.Errorf("Interval() = %v, want 0", s.Interval())
	}

	got := make(chan device.Reading, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func(r device.Reading) { got <- r }) }()

	for _, want := range []string{"first", "second"} {
		select {
		case r := <-got:
			if r.Value != want {
				t.Errorf("reading = %q, want %q", r.Value, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no %q reading", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
