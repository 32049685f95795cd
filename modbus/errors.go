package modbus

import "errors"

// Sentinel errors a caller can match with errors.Is, distinguishing the
// ways a request can fail below the level of a MODBUS exception response.
// ModbusError (a device answering with a valid exception) is a different
// kind of failure from these: these all represent the wire or the
// connection itself misbehaving.
var (
	// ErrInvalidFrame means a received frame failed a framer's integrity
	// check (CRC, LRC, or an MBAP header with an impossible length).
	ErrInvalidFrame = errors.New("modbus: invalid frame")

	// ErrTimeout means no complete response arrived within the configured
	// timeout.
	ErrTimeout = errors.New("modbus: response timeout")

	// ErrConnectionLost means the underlying connection was detected as
	// broken (a read/write error, EOF, or a closed socket) while a request
	// was outstanding.
	ErrConnectionLost = errors.New("modbus: connection lost")

	// ErrInvalidRequest means the caller supplied a request that cannot be
	// encoded (an address or quantity outside the protocol's allowed
	// range), so no bytes were ever sent.
	ErrInvalidRequest = errors.New("modbus: invalid request")

	// ErrDecodeError means a structurally complete, checksum-valid frame
	// was received but its PDU could not be decoded into a response of the
	// expected shape (e.g. a byte count that does not match the function
	// code that was sent).
	ErrDecodeError = errors.New("modbus: decode error")
)
