package framer

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/fieldgrid-io/gomodbus/checksum"
)

// asciiStart marks the beginning of an ASCII frame; asciiEnd terminates it.
const asciiStart = ':'

var asciiEnd = []byte("\r\n")

// ASCIIFramer implements MODBUS ASCII framing: a ':' start character, the
// device id, PDU, and LRC hex-encoded two characters per byte, terminated by
// CRLF. The textual encoding halves throughput compared to RTU but makes
// frames self-delimiting without needing the 3.5-character silent interval,
// which is why it tolerates looser serial hardware.
type ASCIIFramer struct {
	buf []byte
}

// NewASCIIFramer returns a new ASCII framer. Side is irrelevant to ASCII
// framing itself (the CRLF terminator delimits frames regardless of which
// function-code shape applies), so unlike RTU there is no side parameter.
func NewASCIIFramer() *ASCIIFramer {
	return &ASCIIFramer{}
}

// Build wraps pduBytes for deviceID into a colon-prefixed, CRLF-terminated
// ASCII frame.
func (f *ASCIIFramer) Build(deviceID byte, pduBytes []byte) []byte {
	body := make([]byte, 1+len(pduBytes))
	body[0] = deviceID
	copy(body[1:], pduBytes)
	lrc := checksum.LRC(body)
	body = append(body, lrc)

	encoded := strings.ToUpper(hex.EncodeToString(body))
	frame := make([]byte, 0, 1+len(encoded)+2)
	frame = append(frame, asciiStart)
	frame = append(frame, encoded...)
	frame = append(frame, asciiEnd...)
	return frame
}

// Consume implements Framer.
func (f *ASCIIFramer) Consume(chunk []byte, onFrame func(Frame), onError func(error)) {
	f.buf = append(f.buf, chunk...)

	for {
		start := bytes.IndexByte(f.buf, asciiStart)
		if start < 0 {
			// No frame can begin in anything buffered so far; none of it
			// will ever become useful once more data arrives after it.
			f.buf = nil
			return
		}
		if start > 0 {
			f.buf = f.buf[start:]
		}

		end := bytes.Index(f.buf[1:], asciiEnd)
		if end < 0 {
			return // frame body not fully received yet
		}
		end += 1 // translate back into f.buf coordinates

		encoded := f.buf[1:end]
		total := end + len(asciiEnd)

		body, err := hex.DecodeString(string(encoded))
		if err != nil || len(body) < 2 || !checksum.CheckLRC(body) {
			f.buf = f.buf[total:]
			onError(ErrCorruptFrame)
			continue
		}

		deviceID := body[0]
		pduBytes := append([]byte(nil), body[1:len(body)-1]...)
		f.buf = f.buf[total:]

		onFrame(Frame{DeviceID: deviceID, PDU: pduBytes})
	}
}

// Reset implements Framer.
func (f *ASCIIFramer) Reset() {
	f.buf = nil
}
