package modbus

import (
	"fmt"
	"math"
	"strconv"
)

// Format describes how registers combine into a number.
type Format struct {
	// Words is 1 (16-bit) or 2 (32-bit, high word first).
	Words  int
	Signed bool

	Scale     float64
	Precision int
}

// Decode converts raw registers to a formatted decimal string.
func (f Format) Decode(words []uint16) (string, error) {
	n := f.Words
	if n == 0 {
		n = 1
	}
	if len(words) < n {
		return "", fmt.Errorf("%w: need %d registers, have %d", ErrShortResponse, n, len(words))
	}

	var v float64
	switch n {
	case 1:
		if f.Signed {
			v = float64(int16(words[0]))
		} else {
			v = float64(words[0])
		}
	case 2:
		raw := uint32(words[0])<<16 | uint32(words[1])
		if f.Signed {
			v = float64(int32(raw))
		} else {
			v = float64(raw)
		}
	default:
		return "", fmt.Errorf("%w: unsupported word count %d", ErrConfig, n)
	}

	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	v *= scale

	prec := f.Precision
	if prec < 0 {
		prec = 0
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", fmt.Errorf("modbus: value out of range")
	}
	return strconv.FormatFloat(v, 'f', prec, 64), nil
}
