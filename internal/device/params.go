package device

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Params holds the free-form parameters of one device entry.
//
// Accessors return ErrConfiguration-wrapped errors so that a bad value
// disables only the device it belongs to.
type Params map[string]string

// String returns the parameter or def when it is absent or empty.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Required returns the parameter or an error when it is missing.
func (p Params) Required(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: parameter %q is required", ErrConfiguration, key)
	}
	return v, nil
}

// Int parses an integer parameter.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %q: %q is not an integer", ErrConfiguration, key, v)
	}
	return n, nil
}

// Float parses a floating point parameter.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %q: %q is not a number", ErrConfiguration, key, v)
	}
	return f, nil
}

// Bool parses a boolean parameter. yes/no and on/off are accepted.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: parameter %q: %q is not a boolean", ErrConfiguration, key, v)
}

// Seconds parses a duration parameter.
//
// Both Go duration strings ("150ms") and plain seconds ("0.15") are accepted.
func (p Params) Seconds(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: parameter %q: %q is not a duration", ErrConfiguration, key, v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// List splits a comma separated parameter, trimming blanks.
func (p Params) List(key string) []string {
	v := p[key]
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
