//go:build !linux

package gpio

// RealInput is not available on non-Linux platforms.
type RealInput struct{}

// OpenInput returns ErrUnsupported on non-Linux platforms.
func OpenInput(InputConfig) (*RealInput, error) { return nil, ErrUnsupported }

// High is not implemented on non-Linux platforms.
func (*RealInput) High() (bool, error) { return false, ErrUnsupported }

// Close is a no-op.
func (*RealInput) Close() error { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// OpenOutput returns ErrUnsupported on non-Linux platforms.
func OpenOutput(OutputConfig) (*RealOutput, error) { return nil, ErrUnsupported }

// Set is not implemented on non-Linux platforms.
func (*RealOutput) Set(bool) error { return ErrUnsupported }

// Close is a no-op.
func (*RealOutput) Close() error { return nil }
