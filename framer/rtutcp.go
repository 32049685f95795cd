package framer

// RTUOverTCPFramer implements RTU framing carried over a TCP stream: the
// wire shape is byte-for-byte identical to RTUFramer (device id, PDU,
// CRC-16), but there is no 3.5-character silent interval to lean on for
// resynchronization since TCP can deliver a frame split across arbitrarily
// many reads, or several frames in one read. Boundary detection therefore
// depends entirely on the per-function-code length shape plus the CRC,
// exactly like RTUFramer's Consume loop, so this type simply wraps one.
type RTUOverTCPFramer struct {
	inner *RTUFramer
}

// NewRTUOverTCPFramer returns a framer decoding RTU-shaped frames for the
// given side, tolerant of TCP-style fragmentation.
func NewRTUOverTCPFramer(side Side) *RTUOverTCPFramer {
	return &RTUOverTCPFramer{inner: NewRTUFramer(side)}
}

// Build implements Framer.
func (f *RTUOverTCPFramer) Build(deviceID byte, pduBytes []byte) []byte {
	return f.inner.Build(deviceID, pduBytes)
}

// Consume implements Framer.
func (f *RTUOverTCPFramer) Consume(chunk []byte, onFrame func(Frame), onError func(error)) {
	f.inner.Consume(chunk, onFrame, onError)
}

// Reset implements Framer.
func (f *RTUOverTCPFramer) Reset() {
	f.inner.Reset()
}
