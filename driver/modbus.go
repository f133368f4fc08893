package driver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/goburrow/modbus"

	"modlink/logging"
)

// ModbusOptions configures a ModbusClient.
type ModbusOptions struct {
	Host    string
	Port    int
	Timeout time.Duration
	UnitID  byte
}

// ModbusClient talks to a real controller over Modbus TCP. It holds one
// stateful session; transactions are serialized because the underlying
// goburrow client is not safe for concurrent use.
type ModbusClient struct {
	opts    ModbusOptions
	handler *modbus.TCPClientHandler
	client  modbus.Client
	mu      sync.Mutex
}

// NewModbusClient creates a client for the given controller address.
// No network I/O happens until Connect.
func NewModbusClient(opts ModbusOptions) *ModbusClient {
	if opts.Port <= 0 {
		opts.Port = 502
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UnitID == 0 {
		opts.UnitID = 1
	}
	return &ModbusClient{opts: opts}
}

// Address returns the host:port dial string.
func (c *ModbusClient) Address() string {
	return fmt.Sprintf("%s:%d", c.opts.Host, c.opts.Port)
}

// Connect establishes the Modbus TCP session.
func (c *ModbusClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != nil {
		return nil
	}

	addr := c.Address()
	logging.DebugConnect("modbus", addr)

	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = c.opts.Timeout
	handler.SlaveId = c.opts.UnitID

	if err := handler.Connect(); err != nil {
		logging.DebugConnectError("modbus", addr, err)
		return ConnectionErrorf("connect %s: %v", addr, err)
	}

	c.handler = handler
	c.client = modbus.NewClient(handler)
	return nil
}

// Disconnect closes the session. Safe to call repeatedly.
func (c *ModbusClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler == nil {
		return nil
	}

	err := c.handler.Close()
	c.handler = nil
	c.client = nil
	logging.DebugDisconnect("modbus", c.Address(), "closed by caller")
	return err
}

// IsConnected reports whether a session is currently established. It does
// not issue any network traffic.
func (c *ModbusClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// ReadHoldingRegisters reads count registers starting at address.
func (c *ModbusClient) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, ConnectionErrorf("not connected to %s", c.Address())
	}

	data, err := c.client.ReadHoldingRegisters(address, count)
	if err != nil {
		return nil, c.classify("read registers", err)
	}
	if len(data) < int(count)*2 {
		return nil, IOErrorf("read registers: short response (%d bytes)", len(data))
	}

	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return values, nil
}

// ReadCoils reads count coils starting at address.
func (c *ModbusClient) ReadCoils(address, count uint16) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, ConnectionErrorf("not connected to %s", c.Address())
	}

	data, err := c.client.ReadCoils(address, count)
	if err != nil {
		return nil, c.classify("read coils", err)
	}

	values := make([]bool, count)
	for i := range values {
		if i/8 >= len(data) {
			return nil, IOErrorf("read coils: short response (%d bytes)", len(data))
		}
		values[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return values, nil
}

// WriteRegister writes a single holding register.
func (c *ModbusClient) WriteRegister(address, value uint16) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return false, ConnectionErrorf("not connected to %s", c.Address())
	}

	if _, err := c.client.WriteSingleRegister(address, value); err != nil {
		return false, c.classify("write register", err)
	}
	return true, nil
}

// WriteCoil writes a single coil.
func (c *ModbusClient) WriteCoil(address uint16, value bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return false, ConnectionErrorf("not connected to %s", c.Address())
	}

	var raw uint16
	if value {
		raw = 0xFF00
	}
	if _, err := c.client.WriteSingleCoil(address, raw); err != nil {
		return false, c.classify("write coil", err)
	}
	return true, nil
}

// classify splits a goburrow error into the connection/transaction
// taxonomy. Connection faults tear down the session so the next operation
// fails fast until someone reconnects. Must be called with c.mu held.
func (c *ModbusClient) classify(op string, err error) error {
	if isTransportError(err) {
		if c.handler != nil {
			c.handler.Close()
			c.handler = nil
			c.client = nil
		}
		logging.DebugDisconnect("modbus", c.Address(), fmt.Sprintf("%s: %v", op, err))
		return ConnectionErrorf("%s: %v", op, err)
	}
	logging.DebugError("modbus", op, err)
	return IOErrorf("%s: %v", op, err)
}

// isTransportError reports whether err means the session is dead, as
// opposed to a Modbus exception on a live session. goburrow surfaces
// connection drops as EOF or net/syscall errors; Modbus exception responses
// come back as *modbus.ModbusError.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}

	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
