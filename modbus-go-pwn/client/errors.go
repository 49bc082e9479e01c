package client

import (
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

// Exception codes the assessment logic cares about.
const (
	ExceptionIllegalFunction         byte = 0x01
	ExceptionIllegalDataAddress      byte = 0x02
	ExceptionIllegalDataValue        byte = 0x03
	ExceptionServerDeviceFailure     byte = 0x04
	ExceptionGatewayPathUnavailable  byte = 0x0A
	ExceptionGatewayTargetNoResponse byte = 0x0B
)

// ExceptionError is a protocol-level error: the peer answered with an exception response.
// Anything else returned by a Client is a transport fault.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %d (%s), function %d", e.ExceptionCode, exceptionName(e.ExceptionCode), e.FunctionCode)
}

func exceptionName(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "server device busy"
	case 0x08:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetNoResponse:
		return "gateway target device failed to respond"
	default:
		return "unknown"
	}
}

// AsException reports whether err carries a protocol exception response.
func AsException(err error) (*ExceptionError, bool) {
	var ex *ExceptionError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}

// IsNoSuchUnit reports whether err is one of the two gateway exceptions that mean
// no device answers behind that unit id.
func IsNoSuchUnit(err error) bool {
	ex, ok := AsException(err)
	if !ok {
		return false
	}
	return ex.ExceptionCode == ExceptionGatewayPathUnavailable || ex.ExceptionCode == ExceptionGatewayTargetNoResponse
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &ExceptionError{FunctionCode: mbErr.FunctionCode &^ 0x80, ExceptionCode: mbErr.ExceptionCode}
	}
	return err
}
