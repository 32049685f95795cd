package framer

import (
	"github.com/fieldgrid-io/gomodbus/checksum"
	"github.com/fieldgrid-io/gomodbus/pdu"
)

// RTUFramer implements MODBUS RTU framing: device id, PDU, CRC-16, with
// frame boundaries inferred from function-code-specific shapes rather than
// an explicit length field. Corruption is recovered from by stepping
// forward one byte at a time until a plausible, CRC-valid frame reappears,
// so a single mangled frame never desynchronizes the stream permanently.
type RTUFramer struct {
	side Side
	buf  []byte
}

// NewRTUFramer returns an RTU framer decoding bytes for the given side.
func NewRTUFramer(side Side) *RTUFramer {
	return &RTUFramer{side: side}
}

// Build wraps pduBytes for deviceID with a trailing CRC-16.
func (f *RTUFramer) Build(deviceID byte, pduBytes []byte) []byte {
	frame := make([]byte, 1+len(pduBytes), 1+len(pduBytes)+2)
	frame[0] = deviceID
	copy(frame[1:], pduBytes)
	return checksum.AppendCRC(frame)
}

// Consume implements Framer.
func (f *RTUFramer) Consume(chunk []byte, onFrame func(Frame), onError func(error)) {
	f.buf = append(f.buf, chunk...)

	for {
		if len(f.buf) < 1 {
			return
		}

		pduLen, ok, err := pdu.FrameLength(f.buf[1:], pdu.Side(f.side))
		if err != nil {
			f.buf = f.buf[1:]
			onError(ErrCorruptFrame)
			continue
		}
		if !ok {
			return
		}

		total := 1 + pduLen + 2
		if len(f.buf) < total {
			return
		}

		frame := f.buf[:total]
		if !checksum.CheckCRC(frame) {
			f.buf = f.buf[1:]
			onError(ErrCorruptFrame)
			continue
		}

		deviceID := frame[0]
		pduBytes := append([]byte(nil), frame[1:1+pduLen]...)
		f.buf = f.buf[total:]

		onFrame(Frame{DeviceID: deviceID, PDU: pduBytes})
	}
}

// Reset implements Framer.
func (f *RTUFramer) Reset() {
	f.buf = nil
}
