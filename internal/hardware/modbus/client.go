// Package modbus reads and writes Modbus registers over RTU or TCP.
//
// Every request is bounded by the handler timeout, so a dead bus surfaces as
// an error instead of a hung worker. A failed request drops the connection;
// the next request reconnects.
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// DefaultTimeout bounds one Modbus request.
const DefaultTimeout = 2 * time.Second

// Transport modes.
const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
)

// RegisterKind selects the register table.
type RegisterKind string

const (
	Holding RegisterKind = "holding"
	Input   RegisterKind = "input"
)

var (
	// ErrConfig is returned for invalid connection settings.
	ErrConfig = errors.New("modbus: invalid configuration")

	// ErrShortResponse is returned when a response holds fewer registers
	// than requested.
	ErrShortResponse = errors.New("modbus: short response")
)

// Config describes one Modbus endpoint.
type Config struct {
	Mode string

	// Address is host:port for TCP or the serial device for RTU.
	Address string

	SlaveID byte
	Timeout time.Duration

	// Serial settings, RTU only.
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
}

// handler is satisfied by both goburrow RTU and TCP handlers.
type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// registers is the part of modbus.Client used here.
type registers interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Client serializes register access to one endpoint.
type Client struct {
	mu        sync.Mutex
	handler   handler
	client    registers
	connected bool
}

// New creates a client. The connection is opened on first use.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrConfig)
	}

	var h handler
	switch strings.ToLower(cfg.Mode) {
	case "", ModeTCP:
		th := modbus.NewTCPClientHandler(cfg.Address)
		th.Timeout = cfg.Timeout
		th.SlaveId = cfg.SlaveID
		h = th
	case ModeRTU:
		rh := modbus.NewRTUClientHandler(cfg.Address)
		rh.Timeout = cfg.Timeout
		rh.SlaveId = cfg.SlaveID
		if cfg.BaudRate > 0 {
			rh.BaudRate = cfg.BaudRate
		}
		if cfg.DataBits > 0 {
			rh.DataBits = cfg.DataBits
		}
		if cfg.Parity != "" {
			rh.Parity = strings.ToUpper(cfg.Parity)
		}
		if cfg.StopBits > 0 {
			rh.StopBits = cfg.StopBits
		}
		h = rh
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrConfig, cfg.Mode)
	}

	return &Client{handler: h}, nil
}

// newWithRegisters builds a client around an already connected register
// interface.
func newWithRegisters(r registers) *Client {
	return &Client{client: r, connected: true}
}

func (c *Client) ensureConnected() error {
	if c.connected {
		return nil
	}
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("modbus connect: %w", err)
	}
	c.client = modbus.NewClient(c.handler)
	c.connected = true
	return nil
}

func (c *Client) drop() {
	if c.handler != nil {
		_ = c.handler.Close()
		c.connected = false
	}
}

// ReadRegisters reads count registers starting at addr.
func (c *Client) ReadRegisters(ctx context.Context, kind RegisterKind, addr, count uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	var (
		data []byte
		err  error
	)
	switch kind {
	case Input:
		data, err = c.client.ReadInputRegisters(addr, count)
	case Holding, "":
		data, err = c.client.ReadHoldingRegisters(addr, count)
	default:
		return nil, fmt.Errorf("%w: unknown register kind %q", ErrConfig, kind)
	}
	if err != nil {
		c.drop()
		return nil, fmt.Errorf("read %s registers %d+%d: %w", kind, addr, count, err)
	}

	return decodeWords(data, count)
}

// WriteRegister writes one holding register.
func (c *Client) WriteRegister(ctx context.Context, addr, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return err
	}
	if _, err := c.client.WriteSingleRegister(addr, value); err != nil {
		c.drop()
		return fmt.Errorf("write register %d: %w", addr, err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}

func decodeWords(data []byte, count uint16) ([]uint16, error) {
	if len(data) < int(count)*2 {
		return nil, fmt.Errorf("%w: got %d bytes for %d registers", ErrShortResponse, len(data), count)
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return words, nil
}
