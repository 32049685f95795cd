package framer

import (
	"bytes"
	"testing"

	"github.com/fieldgrid-io/gomodbus/checksum"
)

func TestSocketFramerBuildConsumeRoundTrip(t *testing.T) {
	f := NewSocketFramer(ResponseSide)
	pduBytes := []byte{0x03, 0x02, 0x00, 0x0A}
	wire := f.BuildTxn(7, 0x11, pduBytes)

	var got []Frame
	f2 := NewSocketFramer(ResponseSide)
	f2.Consume(wire, func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error: %v", err)
	})

	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if got[0].TransactionID != 7 || got[0].DeviceID != 0x11 || !bytes.Equal(got[0].PDU, pduBytes) {
		t.Fatalf("unexpected frame: %+v", got[0])
	}
}

func TestSocketFramerSplitAcrossReads(t *testing.T) {
	f := NewSocketFramer(ResponseSide)
	wire := f.BuildTxn(3, 0x01, []byte{0x03, 0x02, 0x00, 0x0A})

	var got []Frame
	onFrame := func(fr Frame) { got = append(got, fr) }
	onError := func(err error) { t.Fatalf("unexpected error: %v", err) }

	for i := 0; i < len(wire); i++ {
		f.Consume(wire[i:i+1], onFrame, onError)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 frame assembled from single-byte chunks, got %d", len(got))
	}
}

func TestSocketFramerTwoFramesInOneChunk(t *testing.T) {
	f := NewSocketFramer(ResponseSide)
	a := f.BuildTxn(1, 0x01, []byte{0x03, 0x02, 0x00, 0x01})
	b := f.BuildTxn(2, 0x01, []byte{0x03, 0x02, 0x00, 0x02})

	var got []Frame
	f.Consume(append(a, b...), func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error: %v", err)
	})

	if len(got) != 2 || got[0].TransactionID != 1 || got[1].TransactionID != 2 {
		t.Fatalf("expected two frames in order, got %+v", got)
	}
}

func TestRTUFramerBuildConsumeRoundTrip(t *testing.T) {
	f := NewRTUFramer(RequestSide)
	pduBytes := []byte{0x03, 0x00, 0x01, 0x00, 0x0A}
	wire := f.Build(0x01, pduBytes)

	// RTU ReadHoldingRegisters request: 01 03 00 01 00 0A 94 0D.
	want := []byte{0x01, 0x03, 0x00, 0x01, 0x00, 0x0A, 0x94, 0x0D}
	if !bytes.Equal(wire, want) {
		t.Fatalf("Build() = %x, want %x", wire, want)
	}

	var got []Frame
	NewRTUFramer(RequestSide).Consume(wire, func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error: %v", err)
	})
	if len(got) != 1 || got[0].DeviceID != 0x01 || !bytes.Equal(got[0].PDU, pduBytes) {
		t.Fatalf("unexpected decoded frame: %+v", got)
	}
}

func TestRTUFramerRecoversFromCorruption(t *testing.T) {
	f := NewRTUFramer(RequestSide)
	good := f.Build(0x01, []byte{0x03, 0x00, 0x01, 0x00, 0x0A})

	corrupt := append([]byte{}, good...)
	corrupt[3] ^= 0xFF // flip a byte inside the CRC-covered body

	stream := append(corrupt, good...)

	var frames []Frame
	var errs int
	f2 := NewRTUFramer(RequestSide)
	f2.Consume(stream, func(fr Frame) { frames = append(frames, fr) }, func(err error) { errs++ })

	if errs == 0 {
		t.Fatalf("expected at least one corrupt-frame error, got none")
	}
	if len(frames) != 1 {
		t.Fatalf("expected to recover exactly the trailing good frame, got %d frames", len(frames))
	}
	if !bytes.Equal(frames[0].PDU, []byte{0x03, 0x00, 0x01, 0x00, 0x0A}) {
		t.Fatalf("recovered frame has wrong PDU: %x", frames[0].PDU)
	}
}

func TestRTUFramerFragmentedAcrossReads(t *testing.T) {
	f := NewRTUFramer(ResponseSide)
	pduBytes := []byte{0x03, 0x06, 0xAE, 0x41, 0x56, 0x52, 0x43, 0x40}
	wire := f.Build(0x11, pduBytes)

	var got []Frame
	f2 := NewRTUFramer(ResponseSide)
	mid := len(wire) / 2
	f2.Consume(wire[:mid], func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error on first half: %v", err)
	})
	if len(got) != 0 {
		t.Fatalf("expected no frame from a partial chunk, got %d", len(got))
	}
	f2.Consume(wire[mid:], func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error on second half: %v", err)
	})
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 frame after the remainder arrived, got %d", len(got))
	}
}

func TestASCIIFramerBuildConsumeRoundTrip(t *testing.T) {
	f := NewASCIIFramer()
	pduBytes := []byte{0x01, 0x00, 0x01, 0x00, 0x0A}
	wire := f.Build(0x00, pduBytes)

	if wire[0] != ':' || !bytes.HasSuffix(wire, asciiEnd) {
		t.Fatalf("unexpected frame envelope: %q", wire)
	}

	var got []Frame
	f2 := NewASCIIFramer()
	f2.Consume(wire, func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error: %v", err)
	})
	if len(got) != 1 || got[0].DeviceID != 0x00 || !bytes.Equal(got[0].PDU, pduBytes) {
		t.Fatalf("unexpected decoded frame: %+v", got)
	}
}

func TestASCIIFramerKnownLRC(t *testing.T) {
	// S3 from the spec: device 0, ReadCoils addr 1 count 10 -> LRC F4.
	f := NewASCIIFramer()
	wire := f.Build(0x00, []byte{0x01, 0x00, 0x01, 0x00, 0x0A})

	body := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x0A}
	wantLRC := checksum.LRC(body)
	if wantLRC != 0xF4 {
		t.Fatalf("LRC(%x) = %02X, want F4", body, wantLRC)
	}

	var got []Frame
	f.Consume(wire, func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error: %v", err)
	})
	if len(got) != 1 || got[0].DeviceID != 0x00 {
		t.Fatalf("unexpected decoded frame: %+v", got)
	}
}

func TestASCIIFramerRejectsBadLRC(t *testing.T) {
	f := NewASCIIFramer()
	wire := f.Build(0x01, []byte{0x03, 0x00, 0x01, 0x00, 0x0A})
	// Corrupt a hex digit inside the body without touching start/end markers.
	wire[3] ^= 0x01

	var errs int
	f.Consume(wire, func(fr Frame) {
		t.Fatalf("should not have decoded a frame with bad LRC")
	}, func(err error) { errs++ })

	if errs != 1 {
		t.Fatalf("expected exactly one corruption error, got %d", errs)
	}
}

func TestASCIIFramerTwoFramesBackToBack(t *testing.T) {
	f := NewASCIIFramer()
	a := f.Build(0x01, []byte{0x03, 0x00, 0x01, 0x00, 0x01})
	b := f.Build(0x02, []byte{0x03, 0x00, 0x02, 0x00, 0x01})

	var got []Frame
	f.Consume(append(a, b...), func(fr Frame) { got = append(got, fr) }, func(err error) {
		t.Fatalf("unexpected error: %v", err)
	})
	if len(got) != 2 || got[0].DeviceID != 0x01 || got[1].DeviceID != 0x02 {
		t.Fatalf("unexpected frames: %+v", got)
	}
}

func TestRTUOverTCPFramerHandlesMidFrameFragmentation(t *testing.T) {
	f := NewRTUOverTCPFramer(ResponseSide)
	wire := f.Build(0x05, []byte{0x03, 0x02, 0x12, 0x34})

	var got []Frame
	onFrame := func(fr Frame) { got = append(got, fr) }
	onError := func(err error) { t.Fatalf("unexpected error: %v", err) }

	// Simulate TCP delivering the frame split at an arbitrary, non-aligned
	// byte boundary rather than the character-at-a-time boundaries RTU over
	// a real serial link would see.
	split := 3
	f.Consume(wire[:split], onFrame, onError)
	f.Consume(wire[split:], onFrame, onError)

	if len(got) != 1 || got[0].DeviceID != 0x05 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestFramerResetDiscardsPartialFrame(t *testing.T) {
	f := NewRTUFramer(RequestSide)
	wire := f.Build(0x01, []byte{0x03, 0x00, 0x01, 0x00, 0x0A})

	var got []Frame
	f.Consume(wire[:3], func(fr Frame) { got = append(got, fr) }, func(err error) {})
	f.Reset()
	f.Consume(wire[3:], func(fr Frame) { got = append(got, fr) }, func(err error) {})

	if len(got) != 0 {
		t.Fatalf("expected Reset to prevent the stale partial frame from completing, got %+v", got)
	}
}
