package gpio

import (
	"errors"
	"sync"
)

// FakeInput is a scripted input line for tests.
type FakeInput struct {
	mu      sync.Mutex
	high    bool
	onEdge  func(bool)
	ReadErr error
	Closed  bool
}

// NewFakeInput creates a fake input. onEdge may be nil.
func NewFakeInput(high bool, onEdge func(bool)) *FakeInput {
	return &FakeInput{high: high, onEdge: onEdge}
}

// SetHigh changes the level and reports an edge if it changed.
func (f *FakeInput) SetHigh(high bool) {
	f.mu.Lock()
	changed := f.high != high
	f.high = high
	onEdge := f.onEdge
	f.mu.Unlock()

	if changed && onEdge != nil {
		onEdge(high)
	}
}

// High returns the scripted level.
func (f *FakeInput) High() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return false, errors.New("gpio: line closed")
	}
	if f.ReadErr != nil {
		return false, f.ReadErr
	}
	return f.high, nil
}

// Close marks the line closed.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeOutput records every value written to it.
type FakeOutput struct {
	mu       sync.Mutex
	history  []bool
	SetErr   error
	isClosed bool
}

// Set records active.
func (f *FakeOutput) Set(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil {
		return f.SetErr
	}
	f.history = append(f.history, active)
	return nil
}

// History returns the written values in order.
func (f *FakeOutput) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.history...)
}

// Active returns the last written value.
func (f *FakeOutput) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return false
	}
	return f.history[len(f.history)-1]
}

// Close marks the output closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.isClosed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeOutput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isClosed
}
