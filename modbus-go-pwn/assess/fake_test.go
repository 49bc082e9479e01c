package assess

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"modbus-tools/modbus-go-pwn/client"
	"modbus-tools/modbus-go-pwn/config"
)

var errTransport = errors.New("connection reset by peer")

type readCall struct {
	fc       byte
	address  uint16
	quantity uint16
	unit     byte
	at       time.Time
}

// fakePeer is an in-memory Modbus device shared by every fakeClient dialed from it.
type fakePeer struct {
	mu         sync.Mutex
	units      map[byte]bool // nil means every unit answers
	holding    func(addr uint16) uint16
	failRead   func(fc byte, addr uint16) error
	failWrite  error
	connectErr error
	reads      []readCall
	writes     int
	registers  map[uint16]uint16
	coils      map[uint16]bool
	onRead     func(readCall)
	onWrite    func()
	closes     int
	dials      int
}

func newFakePeer() *fakePeer {
	return &fakePeer{registers: make(map[uint16]uint16), coils: make(map[uint16]bool)}
}

func (p *fakePeer) dial(address string, timeout time.Duration) client.Client {
	p.mu.Lock()
	p.dials++
	p.mu.Unlock()
	return &fakeClient{peer: p}
}

func (p *fakePeer) readCalls() []readCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]readCall(nil), p.reads...)
}

func (p *fakePeer) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *fakePeer) setWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWrite = err
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeClient struct {
	peer      *fakePeer
	connected bool
}

func (c *fakeClient) Connect() error {
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()
	if c.peer.connectErr != nil {
		return c.peer.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Close() error {
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()
	c.peer.closes++
	c.connected = false
	return nil
}

func (c *fakeClient) read(fc byte, address, quantity uint16, unit byte) error {
	p := c.peer
	p.mu.Lock()
	call := readCall{fc: fc, address: address, quantity: quantity, unit: unit, at: time.Now()}
	p.reads = append(p.reads, call)
	hook := p.onRead
	var err error
	switch {
	case !c.connected:
		err = errTransport
	case p.units != nil && !p.units[unit]:
		err = &client.ExceptionError{FunctionCode: fc, ExceptionCode: client.ExceptionGatewayTargetNoResponse}
	case p.failRead != nil:
		err = p.failRead(fc, address)
	}
	p.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return err
}

func (c *fakeClient) registersFrom(address, quantity uint16) []uint16 {
	out := make([]uint16, quantity)
	for i := range out {
		addr := address + uint16(i)
		if c.peer.holding != nil {
			out[i] = c.peer.holding(addr)
		}
	}
	return out
}

func (c *fakeClient) ReadHoldingRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	if err := c.read(3, address, quantity, unit); err != nil {
		return nil, err
	}
	return c.registersFrom(address, quantity), nil
}

func (c *fakeClient) ReadInputRegisters(address, quantity uint16, unit byte) ([]uint16, error) {
	if err := c.read(4, address, quantity, unit); err != nil {
		return nil, err
	}
	return c.registersFrom(address, quantity), nil
}

func (c *fakeClient) ReadCoils(address, quantity uint16, unit byte) ([]bool, error) {
	if err := c.read(1, address, quantity, unit); err != nil {
		return nil, err
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = (int(address)+i)%2 == 0
	}
	return bits, nil
}

func (c *fakeClient) ReadDiscreteInputs(address, quantity uint16, unit byte) ([]bool, error) {
	if err := c.read(2, address, quantity, unit); err != nil {
		return nil, err
	}
	return make([]bool, quantity), nil
}

func (c *fakeClient) write(fc byte, apply func()) error {
	p := c.peer
	p.mu.Lock()
	hook := p.onWrite
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !c.connected {
		return errTransport
	}
	p.writes++
	if p.failWrite != nil {
		return p.failWrite
	}
	apply()
	return nil
}

func (c *fakeClient) WriteRegister(address, value uint16, unit byte) error {
	return c.write(6, func() { c.peer.registers[address] = value })
}

func (c *fakeClient) WriteCoil(address uint16, value bool, unit byte) error {
	return c.write(5, func() { c.peer.coils[address] = value })
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func fastTiming() config.TimingConfig {
	t := config.DefaultTiming()
	t.ChunkDelay = time.Millisecond
	t.DiscoveryDelay = 0
	t.ReconnectDelay = 5 * time.Millisecond
	t.ProbeTimeout = 500 * time.Millisecond
	return t
}

// listenEndpoint opens a TCP listener so the raw-connect step of a probe succeeds.
func listenEndpoint(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	return Endpoint{Host: host, Port: p}
}
