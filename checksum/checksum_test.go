package checksum

import "testing"

func TestCRC16KnownFrame(t *testing.T) {
	// RTU ReadHoldingRegisters request, device 1, address 1, count 10
	// -> 01 03 00 01 00 0A 94 0D (CRC-16/Modbus, low byte first).
	body := []byte{0x01, 0x03, 0x00, 0x01, 0x00, 0x0A}
	crc := CRC16(body)
	if byte(crc) != 0x94 || byte(crc>>8) != 0x0D {
		t.Fatalf("CRC16(%x) = %04X, want low=94 high=0D", body, crc)
	}
}

func TestCRC16Symmetry(t *testing.T) {
	frame := []byte{0x11, 0x03, 0x06, 0xAE, 0x41, 0x56, 0x52, 0x43, 0x40, 0x49, 0xAD}
	if !CheckCRC(frame) {
		t.Fatalf("expected frame %x to carry a valid CRC", frame)
	}
	corrupt := append([]byte{}, frame...)
	corrupt[0] ^= 0xFF
	if CheckCRC(corrupt) {
		t.Fatalf("corrupted frame unexpectedly passed CRC check")
	}
}

func TestAppendCRCRoundTrips(t *testing.T) {
	body := []byte{0x01, 0x03, 0x00, 0x01, 0x00, 0x0A}
	framed := AppendCRC(append([]byte{}, body...))
	if !CheckCRC(framed) {
		t.Fatalf("AppendCRC produced a frame that fails CheckCRC: %x", framed)
	}
}

func TestLRCKnownFrame(t *testing.T) {
	// S3 from the spec: ASCII ReadCoils, device 0, address 1, count 10.
	data := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x0A}
	if lrc := LRC(data); lrc != 0xF4 {
		t.Fatalf("LRC(%x) = %02X, want F4", data, lrc)
	}
}

func TestCheckLRC(t *testing.T) {
	data := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x0A, 0xF4}
	if !CheckLRC(data) {
		t.Fatalf("expected %x to carry a valid LRC", data)
	}
	bad := append([]byte{}, data...)
	bad[len(bad)-1] ^= 0x01
	if CheckLRC(bad) {
		t.Fatalf("corrupted LRC unexpectedly validated")
	}
}
