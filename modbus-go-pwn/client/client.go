package client

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Client is a Modbus TCP connection that lets every request choose its unit id.
type Client interface {
	Connect() error
	Close() error
	ReadHoldingRegisters(address, quantity uint16, unitID byte) ([]uint16, error)
	ReadInputRegisters(address, quantity uint16, unitID byte) ([]uint16, error)
	ReadCoils(address, quantity uint16, unitID byte) ([]bool, error)
	ReadDiscreteInputs(address, quantity uint16, unitID byte) ([]bool, error)
	WriteRegister(address, value uint16, unitID byte) error
	WriteCoil(address uint16, value bool, unitID byte) error
}

// Dialer builds an unconnected Client for host:port.
type Dialer func(address string, timeout time.Duration) Client

// TCPClient implements Client on top of goburrow's TCP handler. The handler carries a
// single SlaveId, so requests are serialized and the id is swapped per call.
type TCPClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func NewTCPClient(address string, timeout time.Duration) *TCPClient {
	h := modbus.NewTCPClientHandler(address)
	h.Timeout = timeout
	h.SlaveId = 1
	return &TCPClient{handler: h, client: modbus.NewClient(h)}
}

// DialTCP is the production Dialer.
func DialTCP(address string, timeout time.Duration) Client {
	return NewTCPClient(address, timeout)
}

func (c *TCPClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", c.handler.Address, err)
	}
	return nil
}

func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

func (c *TCPClient) ReadHoldingRegisters(address, quantity uint16, unitID byte) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler.SlaveId = unitID
	raw, err := c.client.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return nil, translate(err)
	}
	return decodeRegisters(raw, quantity)
}

func (c *TCPClient) ReadInputRegisters(address, quantity uint16, unitID byte) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler.SlaveId = unitID
	raw, err := c.client.ReadInputRegisters(address, quantity)
	if err != nil {
		return nil, translate(err)
	}
	return decodeRegisters(raw, quantity)
}

func (c *TCPClient) ReadCoils(address, quantity uint16, unitID byte) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler.SlaveId = unitID
	raw, err := c.client.ReadCoils(address, quantity)
	if err != nil {
		return nil, translate(err)
	}
	return decodeBits(raw, quantity)
}

func (c *TCPClient) ReadDiscreteInputs(address, quantity uint16, unitID byte) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler.SlaveId = unitID
	raw, err := c.client.ReadDiscreteInputs(address, quantity)
	if err != nil {
		return nil, translate(err)
	}
	return decodeBits(raw, quantity)
}

func (c *TCPClient) WriteRegister(address, value uint16, unitID byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler.SlaveId = unitID
	_, err := c.client.WriteSingleRegister(address, value)
	return translate(err)
}

func (c *TCPClient) WriteCoil(address uint16, value bool, unitID byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler.SlaveId = unitID
	var raw uint16
	if value {
		raw = 0xFF00
	}
	_, err := c.client.WriteSingleCoil(address, raw)
	return translate(err)
}

func decodeRegisters(raw []byte, quantity uint16) ([]uint16, error) {
	if len(raw) < int(quantity)*2 {
		return nil, fmt.Errorf("short register response: %d bytes for %d registers", len(raw), quantity)
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return values, nil
}

func decodeBits(raw []byte, quantity uint16) ([]bool, error) {
	if len(raw) < (int(quantity)+7)/8 {
		return nil, fmt.Errorf("short bit response: %d bytes for %d bits", len(raw), quantity)
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = (raw[i/8]>>(uint(i)%8))&1 == 1
	}
	return bits, nil
}
