package client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-tools/modbus-go-server/server"
)

func startLab(t *testing.T, units ...uint8) (*server.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)
	s := server.NewServer(log, units)
	require.NoError(t, s.ListenTCP(addr))
	t.Cleanup(s.Stop)
	return s, addr
}

func TestTCPClientAgainstLabServer(t *testing.T) {
	lab, addr := startLab(t, 1, 5)
	lab.SetHoldingRegister(10, 0xBEEF)
	lab.SetInputRegister(11, 7)
	lab.SetCoil(3, true)
	lab.SetDiscreteInput(9, true)

	c := NewTCPClient(addr, time.Second)
	require.NoError(t, c.Connect())
	defer c.Close()

	regs, err := c.ReadHoldingRegisters(9, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 0xBEEF, 0}, regs)

	inputs, err := c.ReadInputRegisters(11, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint16{7}, inputs)

	coils, err := c.ReadCoils(0, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, true, false, false, false, false, false, false}, coils)

	di, err := c.ReadDiscreteInputs(8, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, di)

	require.NoError(t, c.WriteRegister(40, 1234, 5))
	assert.Equal(t, uint16(1234), lab.HoldingRegister(40))
	require.NoError(t, c.WriteCoil(7, true, 1))
	assert.True(t, lab.Coil(7))
	require.NoError(t, c.WriteCoil(7, false, 1))
	assert.False(t, lab.Coil(7))
}

func TestTCPClientUnknownUnitIsNoSuchUnit(t *testing.T) {
	_, addr := startLab(t, 3)
	c := NewTCPClient(addr, time.Second)
	require.NoError(t, c.Connect())
	defer c.Close()

	_, err := c.ReadHoldingRegisters(0, 1, 1)
	require.Error(t, err)
	ex, ok := AsException(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, byte(3), ex.FunctionCode)
	assert.True(t, IsNoSuchUnit(err))

	_, err = c.ReadHoldingRegisters(0, 1, 3)
	assert.NoError(t, err)
}

func TestTCPClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := DialTCP(addr, 200*time.Millisecond)
	assert.Error(t, c.Connect())
	assert.NoError(t, c.Close())
}

func TestTranslate(t *testing.T) {
	err := translate(&modbus.ModbusError{FunctionCode: 0x83, ExceptionCode: 0x02})
	ex, ok := AsException(err)
	require.True(t, ok)
	assert.Equal(t, &ExceptionError{FunctionCode: 3, ExceptionCode: 2}, ex)
	assert.Contains(t, err.Error(), "illegal data address")
	assert.False(t, IsNoSuchUnit(err))

	assert.True(t, IsNoSuchUnit(&ExceptionError{FunctionCode: 1, ExceptionCode: ExceptionGatewayPathUnavailable}))
	assert.Nil(t, translate(nil))
	_, ok = AsException(io.EOF)
	assert.False(t, ok)
}

func TestDecodeShortResponses(t *testing.T) {
	_, err := decodeRegisters([]byte{0x01}, 1)
	assert.Error(t, err)
	_, err = decodeBits(nil, 3)
	assert.Error(t, err)

	bits, err := decodeBits([]byte{0x05, 0x01}, 9)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false, false, false, false, false, true}, bits)
}
