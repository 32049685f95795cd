package framer

import (
	"encoding/binary"
)

// mbapHeaderLen is the fixed MBAP header: transaction id, protocol id,
// length, unit id.
const mbapHeaderLen = 7

// protocolIDModbus is the only value the protocol identifier field ever
// takes for MODBUS traffic; anything else indicates the peer is speaking a
// different protocol over the same port.
const protocolIDModbus = 0x0000

// SocketFramer implements the MBAP framing used by MODBUS TCP (and
// MODBUS-over-TLS, which layers on the same ADU). The length field makes
// frame boundaries explicit, so unlike the serial variants there is no
// checksum: TCP already guarantees byte-exact, in-order delivery within a
// connection. Byte-stepping resync happens only when a header is itself
// implausible (protocol id not 0, or length outside 1..254): Consume then
// drops one byte and rescans.
type SocketFramer struct {
	side Side
	buf  []byte
}

// NewSocketFramer returns a framer that decodes bytes for the given side
// (RequestSide for a server, ResponseSide for a client). The PDU length
// scanner is not actually needed for MBAP since the header supplies the
// length directly, but Side is kept for interface symmetry with the other
// three framers and for future validation of function-code-specific shapes.
func NewSocketFramer(side Side) *SocketFramer {
	return &SocketFramer{side: side}
}

// Build wraps pduBytes for deviceID with transaction id 0. Most callers
// building a Socket ADU need a real transaction id and should call BuildTxn
// directly; Build exists to satisfy the common Framer interface.
func (f *SocketFramer) Build(deviceID byte, pduBytes []byte) []byte {
	return f.BuildTxn(0, deviceID, pduBytes)
}

// BuildTxn wraps pduBytes for deviceID behind an MBAP header carrying
// transactionID.
func (f *SocketFramer) BuildTxn(transactionID uint16, deviceID byte, pduBytes []byte) []byte {
	frame := make([]byte, mbapHeaderLen+len(pduBytes))
	binary.BigEndian.PutUint16(frame[0:2], transactionID)
	binary.BigEndian.PutUint16(frame[2:4], protocolIDModbus)
	binary.BigEndian.PutUint16(frame[4:6], uint16(1+len(pduBytes)))
	frame[6] = deviceID
	copy(frame[7:], pduBytes)
	return frame
}

// Consume implements Framer.
func (f *SocketFramer) Consume(chunk []byte, onFrame func(Frame), onError func(error)) {
	f.buf = append(f.buf, chunk...)

	for {
		if len(f.buf) < mbapHeaderLen {
			return
		}

		protocolID := binary.BigEndian.Uint16(f.buf[2:4])
		length := int(binary.BigEndian.Uint16(f.buf[4:6]))
		total := mbapHeaderLen - 1 + length // transaction id, protocol id and length field (6 bytes), plus `length` bytes

		if protocolID != protocolIDModbus || length < 1 || length > 254 {
			// The header itself is nonsense; we cannot trust the length
			// field to find the next frame, so drop one byte and keep
			// scanning for a plausible header.
			f.buf = f.buf[1:]
			onError(ErrCorruptFrame)
			continue
		}

		if len(f.buf) < total {
			return
		}

		transactionID := binary.BigEndian.Uint16(f.buf[0:2])
		deviceID := f.buf[6]
		pduBytes := append([]byte(nil), f.buf[7:total]...)
		f.buf = f.buf[total:]

		onFrame(Frame{DeviceID: deviceID, TransactionID: transactionID, PDU: pduBytes})
	}
}

// Reset implements Framer.
func (f *SocketFramer) Reset() {
	f.buf = nil
}
