package device

import (
	"strconv"
	"strings"
	"time"
)

// Command tokens understood by every stateful actuator.
const (
	TokenOn     = "ON"
	TokenOff    = "OFF"
	TokenToggle = "TOGGLE"
	TokenDim    = "DIM"
	TokenStop   = "STOP"
)

// IsToggle reports whether token toggles an actuator.
//
// Besides TOGGLE, timestamps count as toggles: the local ISO-8601 time with
// microseconds published by button sensors (26 characters), the same with a
// numeric zone offset (31 characters), and any RFC 3339 timestamp such as
// the ones hubs send for button items.
func IsToggle(token string) bool {
	if token == TokenToggle {
		return true
	}
	if (len(token) == 26 || len(token) == 31) && token[10] == 'T' {
		return true
	}
	_, err := time.Parse(time.RFC3339Nano, token)
	return err == nil
}

// ParseLevel interprets ON, OFF or an integer percentage.
func ParseLevel(token string) (int, bool) {
	switch strings.ToUpper(token) {
	case TokenOn:
		return 100, true
	case TokenOff:
		return 0, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}
