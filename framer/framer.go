// Package framer turns a byte stream into discrete MODBUS frames and back.
// Each implementation owns only the wire shape for one transport variant
// (Socket/MBAP, RTU, ASCII, RTU-over-TCP); none of them hold a reference to
// a connection, a client, or a server, so the same framer works identically
// whether the bytes arrive over TCP or a serial port.
package framer

import (
	"errors"

	"github.com/fieldgrid-io/gomodbus/pdu"
)

// ErrCorruptFrame is delivered through a Framer's error sink when a buffered
// frame fails its integrity check (CRC, LRC, or a header that claims an
// impossible length). The framer discards the offending bytes and resumes
// scanning; callers should log the event and keep reading rather than treat
// the connection as dead.
var ErrCorruptFrame = errors.New("framer: corrupt frame discarded")

// Frame is one decoded MODBUS protocol data unit together with the device
// address it was addressed to or from. TransactionID is only meaningful for
// the Socket/MBAP framer; the serial framers leave it zero.
type Frame struct {
	DeviceID      byte
	TransactionID uint16
	PDU           []byte
}

// Framer builds and parses the application data units for one MODBUS
// transport variant. A single Framer instance is not safe for concurrent
// use; callers serialize access the way they serialize the underlying
// connection.
type Framer interface {
	// Build wraps a PDU for device id into a complete wire frame ready to
	// write to the transport.
	Build(deviceID byte, pduBytes []byte) []byte

	// Consume appends chunk to the framer's internal buffer and extracts as
	// many complete frames as the buffer currently holds. Each decoded frame
	// is reported via onFrame; each discard (one byte stepped over, or one
	// rejected frame) is reported via onError with ErrCorruptFrame. Consume never blocks and
	// never allocates more than it needs to retain a partial trailing frame.
	Consume(chunk []byte, onFrame func(Frame), onError func(error))

	// Reset discards any buffered partial frame. Callers use this after a
	// connection is reopened or after a timeout so stale bytes from a
	// previous, abandoned frame cannot splice onto the next one.
	Reset()
}

// TransactionBuilder is implemented by framers whose wire format carries an
// explicit transaction identifier (currently only Socket/MBAP). The
// transaction manager type-asserts for this rather than widening Build on
// every framer, since RTU/ASCII/RTU-over-TCP have no field to put it in.
type TransactionBuilder interface {
	BuildTxn(transactionID uint16, deviceID byte, pduBytes []byte) []byte
}

// Side selects which of a function code's two wire shapes (request or
// response) a Framer should expect, since RTU/ASCII/RTU-over-TCP must be
// told which end of the exchange they are decoding bytes for.
type Side = pdu.Side

const (
	// RequestSide decodes bytes arriving at a server.
	RequestSide = pdu.RequestSide
	// ResponseSide decodes bytes arriving at a client.
	ResponseSide = pdu.ResponseSide
)
