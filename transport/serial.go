package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fieldgrid-io/gomodbus/framer"
	"github.com/fieldgrid-io/gomodbus/modbus"
	"github.com/fieldgrid-io/gomodbus/pdu"
	"github.com/fieldgrid-io/gomodbus/txn"
	"go.bug.st/serial"
)

// SerialConfig holds serial port configuration
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
	Timeout  time.Duration
}

// NewSerialConfig creates a new serial configuration
func NewSerialConfig(port string, baudRate int, dataBits int, stopBits int, parity string) (*SerialConfig, error) {
	var sb serial.StopBits
	switch stopBits {
	case 1:
		sb = serial.OneStopBit
	case 2:
		sb = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits: %d (must be 1 or 2)", stopBits)
	}

	var p serial.Parity
	switch strings.ToUpper(parity) {
	case "N", "NONE":
		p = serial.NoParity
	case "E", "EVEN":
		p = serial.EvenParity
	case "O", "ODD":
		p = serial.OddParity
	default:
		return nil, fmt.Errorf("invalid parity: %s (must be N, E, or O)", parity)
	}

	return &SerialConfig{
		Port:     port,
		BaudRate: baudRate,
		DataBits: dataBits,
		StopBits: sb,
		Parity:   p,
		Timeout:  time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
	}, nil
}

// RTUTransport implements MODBUS RTU over serial transport
type RTUTransport struct {
	config    *SerialConfig
	port      serial.Port
	connected bool
	mutex     sync.Mutex
	framer    *framer.RTUFramer
	gate      *txn.SerialGate
}

// NewRTUTransport creates a new RTU transport
func NewRTUTransport(config *SerialConfig) *RTUTransport {
	return &RTUTransport{
		config: config,
		framer: framer.NewRTUFramer(framer.ResponseSide),
		gate:   &txn.SerialGate{},
	}
}

// Connect opens the serial port
func (t *RTUTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
		Parity:   t.config.Parity,
		StopBits: t.config.StopBits,
	}

	port, err := serial.Open(t.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", t.config.Port, err)
	}

	// Set read timeout
	if err := port.SetReadTimeout(t.config.Timeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	t.port = port
	t.connected = true
	t.framer.Reset()
	return nil
}

// Close closes the serial port
func (t *RTUTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.port == nil {
		return nil
	}

	err := t.port.Close()
	t.port = nil
	t.connected = false
	return err
}

// IsConnected returns true if the transport is connected
func (t *RTUTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout
func (t *RTUTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.config.Timeout = timeout
	if t.connected && t.port != nil {
		_ = t.port.SetReadTimeout(timeout)
	}
}

// GetTimeout returns the current timeout
func (t *RTUTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.config.Timeout
}

// SendRequest sends a request PDU and returns the response PDU
func (t *RTUTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	if !t.IsConnected() {
		return nil, fmt.Errorf("%w: transport not connected", modbus.ErrConnectionLost)
	}

	release := t.gate.Acquire()
	defer release()

	t.mutex.Lock()
	defer t.mutex.Unlock()

	// Build RTU ADU: SlaveID + PDU + CRC
	pduBytes := request.Bytes()
	adu := t.framer.Build(byte(slaveID), pduBytes)

	// Send request
	if _, err := t.port.Write(adu); err != nil {
		return nil, fmt.Errorf("failed to write RTU request: %w", err)
	}

	// Calculate inter-character timeout for RTU
	// RTU requires 3.5 character times of silence between frames
	charTime := calculateCharacterTime(t.config.BaudRate, t.config.DataBits, int(t.config.StopBits), t.config.Parity)
	interCharTimeout := time.Duration(float64(charTime) * 1.5) // 1.5 character times for inter-character
	frameTimeout := time.Duration(float64(charTime) * 3.5)     // 3.5 character times for end-of-frame

	// Receive response
	var response []byte
	buf := make([]byte, 256)
	lastReceiveTime := time.Now()

	for {
		// Set short timeout for individual reads
		_ = t.port.SetReadTimeout(interCharTimeout)

		n, err := t.port.Read(buf)
		if err != nil {
			// Check if this is a timeout and we have some data
			if len(response) > 0 && time.Since(lastReceiveTime) >= frameTimeout {
				break // End of frame detected
			}
			return nil, fmt.Errorf("failed to read RTU response: %w", err)
		}

		if n > 0 {
			response = append(response, buf[:n]...)
			lastReceiveTime = time.Now()
		}

		// Check for minimum response length (SlaveID + FunctionCode + CRC)
		if len(response) >= 4 {
			// Check if we have a complete response
			if time.Since(lastReceiveTime) >= frameTimeout {
				break
			}
		}

		// Overall timeout check
		if time.Since(lastReceiveTime) > t.config.Timeout {
			return nil, fmt.Errorf("%w: no RTU response within %s", modbus.ErrTimeout, t.config.Timeout)
		}
	}

	return t.parseRTUResponse(response, slaveID)
}

// parseRTUResponse decodes the accumulated bytes through the RTU framer,
// which owns CRC validation and device id extraction.
func (t *RTUTransport) parseRTUResponse(data []byte, expectedSlaveID modbus.SlaveID) (*pdu.Response, error) {
	t.framer.Reset()

	var frame framer.Frame
	var found bool
	var frameErr error
	t.framer.Consume(data, func(f framer.Frame) {
		frame = f
		found = true
	}, func(err error) {
		frameErr = err
	})

	if !found {
		if frameErr != nil {
			return nil, fmt.Errorf("%w: %v", modbus.ErrInvalidFrame, frameErr)
		}
		return nil, fmt.Errorf("%w: incomplete RTU response", modbus.ErrInvalidFrame)
	}

	if modbus.SlaveID(frame.DeviceID) != expectedSlaveID {
		return nil, fmt.Errorf("%w: slave ID mismatch: expected %d, got %d", modbus.ErrInvalidFrame, expectedSlaveID, frame.DeviceID)
	}

	responsePDU, err := pdu.ParsePDU(frame.PDU)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", modbus.ErrDecodeError, err)
	}

	return &pdu.Response{PDU: responsePDU}, nil
}

// GetTransportType returns the transport type
func (t *RTUTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportRTU
}

// String returns a string representation of the transport
func (t *RTUTransport) String() string {
	return fmt.Sprintf("RTU(%s@%d)", t.config.Port, t.config.BaudRate)
}

// ASCIITransport implements MODBUS ASCII over serial transport
type ASCIITransport struct {
	config    *SerialConfig
	port      serial.Port
	connected bool
	mutex     sync.Mutex
	framer    *framer.ASCIIFramer
	gate      *txn.SerialGate
}

// NewASCIITransport creates a new ASCII transport
func NewASCIITransport(config *SerialConfig) *ASCIITransport {
	return &ASCIITransport{
		config: config,
		framer: framer.NewASCIIFramer(),
		gate:   &txn.SerialGate{},
	}
}

// Connect opens the serial port
func (t *ASCIITransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
		Parity:   t.config.Parity,
		StopBits: t.config.StopBits,
	}

	port, err := serial.Open(t.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", t.config.Port, err)
	}

	if err := port.SetReadTimeout(t.config.Timeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	t.port = port
	t.connected = true
	t.framer.Reset()
	return nil
}

// Close closes the serial port
func (t *ASCIITransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.port == nil {
		return nil
	}

	err := t.port.Close()
	t.port = nil
	t.connected = false
	return err
}

// IsConnected returns true if the transport is connected
func (t *ASCIITransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout
func (t *ASCIITransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.config.Timeout = timeout
	if t.connected && t.port != nil {
		_ = t.port.SetReadTimeout(timeout)
	}
}

// GetTimeout returns the current timeout
func (t *ASCIITransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.config.Timeout
}

// SendRequest sends a request PDU and returns the response PDU
func (t *ASCIITransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	if !t.IsConnected() {
		return nil, fmt.Errorf("%w: transport not connected", modbus.ErrConnectionLost)
	}

	release := t.gate.Acquire()
	defer release()

	t.mutex.Lock()
	defer t.mutex.Unlock()

	// Build ASCII frame: : + SlaveID + PDU + LRC + CRLF
	pduBytes := request.Bytes()
	frame := t.framer.Build(byte(slaveID), pduBytes)

	// Send request
	if _, err := t.port.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write ASCII request: %w", err)
	}

	// Receive response
	raw, err := t.readASCIIFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read ASCII response: %w", err)
	}

	return t.parseASCIIResponse(raw, slaveID)
}

// readASCIIFrame reads a complete raw ASCII frame, including the leading ':'
// and trailing CRLF, ready to hand to the ASCII framer.
func (t *ASCIITransport) readASCIIFrame() ([]byte, error) {
	var raw []byte
	buf := make([]byte, 1)

	// Look for start character ':'
	for {
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read start character: %w", err)
		}
		if n > 0 && buf[0] == ':' {
			raw = append(raw, buf[0])
			break
		}
	}

	// Read until CRLF
	for {
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
		if n > 0 {
			raw = append(raw, buf[0])
			if len(raw) >= 2 && raw[len(raw)-2] == '\r' && raw[len(raw)-1] == '\n' {
				break
			}
		}
	}

	return raw, nil
}

// parseASCIIResponse decodes a raw ASCII frame through the ASCII framer,
// which owns hex decoding, LRC validation, and device id extraction.
func (t *ASCIITransport) parseASCIIResponse(raw []byte, expectedSlaveID modbus.SlaveID) (*pdu.Response, error) {
	t.framer.Reset()

	var frame framer.Frame
	var found bool
	var frameErr error
	t.framer.Consume(raw, func(f framer.Frame) {
		frame = f
		found = true
	}, func(err error) {
		frameErr = err
	})

	if !found {
		if frameErr != nil {
			return nil, fmt.Errorf("%w: %v", modbus.ErrInvalidFrame, frameErr)
		}
		return nil, fmt.Errorf("%w: incomplete ASCII response", modbus.ErrInvalidFrame)
	}

	if modbus.SlaveID(frame.DeviceID) != expectedSlaveID {
		return nil, fmt.Errorf("%w: slave ID mismatch: expected %d, got %d", modbus.ErrInvalidFrame, expectedSlaveID, frame.DeviceID)
	}

	responsePDU, err := pdu.ParsePDU(frame.PDU)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", modbus.ErrDecodeError, err)
	}

	return &pdu.Response{PDU: responsePDU}, nil
}

// GetTransportType returns the transport type
func (t *ASCIITransport) GetTransportType() modbus.TransportType {
	return modbus.TransportASCII
}

// String returns a string representation of the transport
func (t *ASCIITransport) String() string {
	return fmt.Sprintf("ASCII(%s@%d)", t.config.Port, t.config.BaudRate)
}

// Helper functions

// calculateCharacterTime calculates the time for one character transmission
func calculateCharacterTime(baudRate int, dataBits int, stopBits int, parity serial.Parity) time.Duration {
	// Start bit (1) + data bits + parity bit (if any) + stop bits
	bitsPerChar := 1 + dataBits + stopBits
	if parity != serial.NoParity {
		bitsPerChar++
	}

	// Time per bit in nanoseconds
	nsPerBit := int64(1_000_000_000) / int64(baudRate)

	// Total time per character
	return time.Duration(int64(bitsPerChar) * nsPerBit)
}
