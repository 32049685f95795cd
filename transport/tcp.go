package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fieldgrid-io/gomodbus/framer"
	"github.com/fieldgrid-io/gomodbus/modbus"
	"github.com/fieldgrid-io/gomodbus/pdu"
	"github.com/fieldgrid-io/gomodbus/txn"
)

// Logger interface for custom logging
type Logger interface {
	Printf(format string, v ...interface{})
}

// TCPTransport implements MODBUS TCP/IP transport. Framing goes through a
// framer.SocketFramer (MBAP) instead of hand-rolled header packing, and
// outstanding requests are tracked in a txn.TCPTable so the transaction id
// on the wire is always one the table itself minted as free, never a bare
// incrementing counter that could wrap into a still-outstanding id.
type TCPTransport struct {
	conn           net.Conn
	timeout        time.Duration
	idleTimeout    time.Duration
	connectTimeout time.Duration
	mutex          sync.Mutex
	address        string
	connected      bool
	tlsConfig      *tls.Config
	logger         Logger
	lastActivity   time.Time
	sockFramer     *framer.SocketFramer
	txnTable       *txn.TCPTable
}

// TCPTransportConfig holds configuration for TCP transport
type TCPTransportConfig struct {
	Address        string
	Timeout        time.Duration
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config
	Logger         Logger
}

// NewTCPTransport creates a new TCP transport
func NewTCPTransport(address string) *TCPTransport {
	return &TCPTransport{
		address:        address,
		timeout:        time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
		connectTimeout: time.Duration(modbus.DefaultConnectTimeout) * time.Millisecond,
		idleTimeout:    60 * time.Second,
		sockFramer:     framer.NewSocketFramer(framer.ResponseSide),
		txnTable:       txn.NewTCPTable(),
	}
}

// NewTCPTransportWithConfig creates a new TCP transport with full configuration
func NewTCPTransportWithConfig(config TCPTransportConfig) *TCPTransport {
	t := &TCPTransport{
		address:        config.Address,
		timeout:        config.Timeout,
		idleTimeout:    config.IdleTimeout,
		connectTimeout: config.ConnectTimeout,
		tlsConfig:      config.TLSConfig,
		logger:         config.Logger,
		sockFramer:     framer.NewSocketFramer(framer.ResponseSide),
		txnTable:       txn.NewTCPTable(),
	}

	if t.timeout == 0 {
		t.timeout = time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond
	}
	if t.connectTimeout == 0 {
		t.connectTimeout = time.Duration(modbus.DefaultConnectTimeout) * time.Millisecond
	}
	if t.idleTimeout == 0 {
		t.idleTimeout = 60 * time.Second
	}

	return t
}

// NewTLSTransport creates a new TCP transport with TLS encryption
func NewTLSTransport(address string, tlsConfig *tls.Config) *TCPTransport {
	return &TCPTransport{
		address:        address,
		timeout:        time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
		connectTimeout: time.Duration(modbus.DefaultConnectTimeout) * time.Millisecond,
		idleTimeout:    60 * time.Second,
		tlsConfig:      tlsConfig,
		sockFramer:     framer.NewSocketFramer(framer.ResponseSide),
		txnTable:       txn.NewTCPTable(),
	}
}

// SetLogger sets a custom logger for the transport
func (t *TCPTransport) SetLogger(logger Logger) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.logger = logger
}

// SetIdleTimeout sets the idle timeout for the connection
func (t *TCPTransport) SetIdleTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.idleTimeout = timeout
}

// GetIdleTimeout returns the current idle timeout
func (t *TCPTransport) GetIdleTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.idleTimeout
}

// SetConnectTimeout sets the connection timeout
func (t *TCPTransport) SetConnectTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.connectTimeout = timeout
}

// GetConnectTimeout returns the current connection timeout
func (t *TCPTransport) GetConnectTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connectTimeout
}

func (t *TCPTransport) logf(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

// Connect establishes a TCP connection (with optional TLS)
func (t *TCPTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout: t.connectTimeout,
	}

	if t.tlsConfig != nil {
		t.logf("Connecting to %s with TLS", t.address)
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    t.tlsConfig,
		}
		conn, err = tlsDialer.Dial("tcp", t.address)
	} else {
		t.logf("Connecting to %s", t.address)
		conn, err = dialer.Dial("tcp", t.address)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.address, err)
	}

	t.conn = conn
	t.connected = true
	t.lastActivity = time.Now()
	if t.sockFramer == nil {
		t.sockFramer = framer.NewSocketFramer(framer.ResponseSide)
	}
	t.sockFramer.Reset()
	if t.txnTable == nil {
		t.txnTable = txn.NewTCPTable()
	}
	t.txnTable.Reset()
	t.logf("Connected to %s", t.address)
	return nil
}

// Close closes the TCP connection
func (t *TCPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}

	t.txnTable.Lost()
	err := t.conn.Close()
	t.conn = nil
	t.connected = false
	return err
}

// IsConnected returns true if the transport is connected
func (t *TCPTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout
func (t *TCPTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timeout = timeout
}

// GetTimeout returns the current timeout
func (t *TCPTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.timeout
}

// SendRequest sends a request PDU and returns the response PDU. The
// transaction id comes from txnTable.Begin, which hands back an id
// guaranteed free among everything currently outstanding on this
// connection; Resolve/wait round-trip the decoded response through the
// same table a pipelined, multiplexing caller would use, so this single
// synchronous exchange still exercises the real matching discipline.
func (t *TCPTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	if !t.IsConnected() {
		return nil, fmt.Errorf("%w: transport not connected", modbus.ErrConnectionLost)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	txID, wait, err := t.txnTable.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	pduBytes := request.Bytes()
	frame := t.sockFramer.BuildTxn(txID, uint8(slaveID), pduBytes)

	if err := t.writeFrame(frame); err != nil {
		t.txnTable.Cancel(txID)
		return nil, err
	}

	respFrame, err := t.readFrame()
	if err != nil {
		t.txnTable.Cancel(txID)
		return nil, err
	}

	if respFrame.TransactionID != txID {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("%w: transaction ID mismatch: expected %d, got %d",
			modbus.ErrInvalidFrame, txID, respFrame.TransactionID)
	}
	if respFrame.DeviceID != uint8(slaveID) {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("%w: unit ID mismatch: expected %d, got %d",
			modbus.ErrInvalidFrame, slaveID, respFrame.DeviceID)
	}

	t.txnTable.Resolve(txID, respFrame.PDU)
	respPDUBytes, err := wait()
	if err != nil {
		return nil, err
	}

	responsePDU, err := pdu.ParsePDU(respPDUBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", modbus.ErrDecodeError, err)
	}

	return &pdu.Response{PDU: responsePDU}, nil
}

// writeFrame writes a complete wire frame built by sockFramer.
func (t *TCPTransport) writeFrame(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: failed to write frame: %v", modbus.ErrConnectionLost, err)
	}
	return nil
}

// readFrame reads exactly one MBAP-framed PDU off the connection and
// decodes it through sockFramer, so the same header validation (protocol
// id, length bounds) governs both the client and server read paths.
func (t *TCPTransport) readFrame() (framer.Frame, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return framer.Frame{}, fmt.Errorf("failed to set read deadline: %w", err)
	}

	header := make([]byte, modbus.MBAPHeaderSize)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return framer.Frame{}, fmt.Errorf("%w: failed to read MBAP header: %v", modbus.ErrConnectionLost, err)
	}

	length := int(header[4])<<8 | int(header[5])
	if length < 2 || length > modbus.MaxPDUSize+1 {
		return framer.Frame{}, fmt.Errorf("%w: invalid MBAP length %d", modbus.ErrInvalidFrame, length)
	}

	rest := make([]byte, length-1)
	if _, err := io.ReadFull(t.conn, rest); err != nil {
		return framer.Frame{}, fmt.Errorf("%w: failed to read PDU: %v", modbus.ErrConnectionLost, err)
	}

	var frame framer.Frame
	var frameErr error
	t.sockFramer.Consume(append(header, rest...), func(f framer.Frame) {
		frame = f
	}, func(err error) {
		frameErr = err
	})
	if frameErr != nil {
		return framer.Frame{}, fmt.Errorf("%w: %v", modbus.ErrInvalidFrame, frameErr)
	}
	return frame, nil
}

// GetTransportType returns the transport type
func (t *TCPTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportTCP
}

// String returns a string representation of the transport
func (t *TCPTransport) String() string {
	if t.tlsConfig != nil {
		return fmt.Sprintf("TCP+TLS(%s)", t.address)
	}
	return fmt.Sprintf("TCP(%s)", t.address)
}

// RTUOverTCPTransport carries RTU framing over a TCP stream, for serial-to-
// Ethernet converters and remote serial devices that speak the RTU wire
// format without an MBAP header. Framing goes through
// framer.RTUOverTCPFramer, which wraps the same framer.RTUFramer the real
// serial transport uses; since RTU framing
// carries no transaction id to multiplex on, sends are serialized through a
// txn.SerialGate exactly like a physical serial link, even though the
// underlying connection is TCP.
type RTUOverTCPTransport struct {
	conn           net.Conn
	timeout        time.Duration
	idleTimeout    time.Duration
	connectTimeout time.Duration
	mutex          sync.Mutex
	address        string
	connected      bool
	logger         Logger
	lastActivity   time.Time
	rtuFramer      *framer.RTUOverTCPFramer
	gate           *txn.SerialGate
}

// NewRTUOverTCPTransport creates a new RTU over TCP transport
func NewRTUOverTCPTransport(address string) *RTUOverTCPTransport {
	return &RTUOverTCPTransport{
		address:        address,
		timeout:        time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
		connectTimeout: time.Duration(modbus.DefaultConnectTimeout) * time.Millisecond,
		idleTimeout:    60 * time.Second,
		rtuFramer:      framer.NewRTUOverTCPFramer(framer.ResponseSide),
		gate:           &txn.SerialGate{},
	}
}

// SetLogger sets a custom logger for the transport
func (t *RTUOverTCPTransport) SetLogger(logger Logger) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.logger = logger
}

func (t *RTUOverTCPTransport) logf(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

// Connect establishes a TCP connection for RTU framing
func (t *RTUOverTCPTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}

	dialer := &net.Dialer{
		Timeout: t.connectTimeout,
	}

	t.logf("Connecting RTU over TCP to %s", t.address)
	conn, err := dialer.Dial("tcp", t.address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.address, err)
	}

	t.conn = conn
	t.connected = true
	t.lastActivity = time.Now()
	if t.rtuFramer == nil {
		t.rtuFramer = framer.NewRTUOverTCPFramer(framer.ResponseSide)
	}
	t.rtuFramer.Reset()
	t.logf("Connected to %s", t.address)
	return nil
}

// Close closes the connection
func (t *RTUOverTCPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.connected = false
	return err
}

// IsConnected returns true if connected
func (t *RTUOverTCPTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout
func (t *RTUOverTCPTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timeout = timeout
}

// GetTimeout returns the current timeout
func (t *RTUOverTCPTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.timeout
}

// SendRequest sends an RTU framed request over TCP
func (t *RTUOverTCPTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	release := t.gate.Acquire()
	defer release()

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return nil, fmt.Errorf("%w: transport not connected", modbus.ErrConnectionLost)
	}

	frame := t.rtuFramer.Build(uint8(slaveID), request.Bytes())

	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	t.logf("TX: % X", frame)

	if _, err := t.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("%w: failed to send RTU frame: %v", modbus.ErrConnectionLost, err)
	}

	t.lastActivity = time.Now()

	buf := make([]byte, 256)
	n, err := t.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read RTU response: %v", modbus.ErrConnectionLost, err)
	}

	t.logf("RX: % X", buf[:n])

	var respFrame framer.Frame
	var frameErr error
	t.rtuFramer.Consume(buf[:n], func(f framer.Frame) {
		respFrame = f
	}, func(err error) {
		frameErr = err
	})
	if frameErr != nil {
		return nil, fmt.Errorf("%w: %v", modbus.ErrInvalidFrame, frameErr)
	}
	if respFrame.PDU == nil {
		return nil, fmt.Errorf("%w: incomplete RTU response", modbus.ErrInvalidFrame)
	}
	if respFrame.DeviceID != uint8(slaveID) {
		return nil, fmt.Errorf("%w: slave ID mismatch: expected %d, got %d",
			modbus.ErrInvalidFrame, slaveID, respFrame.DeviceID)
	}

	responsePDU, err := pdu.ParsePDU(respFrame.PDU)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", modbus.ErrDecodeError, err)
	}

	return &pdu.Response{PDU: responsePDU}, nil
}

// GetTransportType returns the transport type
func (t *RTUOverTCPTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportRTUOverTCP
}

// String returns a string representation
func (t *RTUOverTCPTransport) String() string {
	return fmt.Sprintf("RTU-over-TCP(%s)", t.address)
}

// UDPTransport implements MODBUS over UDP using Socket/MBAP framing, same as
// TCPTransport, over a connectionless datagram socket.
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	timeout    time.Duration
	mutex      sync.Mutex
	address    string
	connected  bool
	logger     Logger
	sockFramer *framer.SocketFramer
	txnTable   *txn.TCPTable
}

// NewUDPTransport creates a new UDP transport
func NewUDPTransport(address string) *UDPTransport {
	return &UDPTransport{
		address:    address,
		timeout:    time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
		sockFramer: framer.NewSocketFramer(framer.ResponseSide),
		txnTable:   txn.NewTCPTable(),
	}
}

// SetLogger sets a custom logger
func (t *UDPTransport) SetLogger(logger Logger) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.logger = logger
}

func (t *UDPTransport) logf(format string, v ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, v...)
	}
}

// Connect resolves the remote address and creates a UDP connection
func (t *UDPTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", t.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.address, err)
	}

	conn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return fmt.Errorf("failed to create UDP connection: %w", err)
	}

	t.conn = conn
	t.remoteAddr = remoteAddr
	t.connected = true
	if t.sockFramer == nil {
		t.sockFramer = framer.NewSocketFramer(framer.ResponseSide)
	}
	t.sockFramer.Reset()
	if t.txnTable == nil {
		t.txnTable = txn.NewTCPTable()
	}
	t.txnTable.Reset()
	t.logf("UDP connected to %s", t.address)
	return nil
}

// Close closes the UDP connection
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}

	t.txnTable.Lost()
	err := t.conn.Close()
	t.conn = nil
	t.connected = false
	return err
}

// IsConnected returns true if connected
func (t *UDPTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout
func (t *UDPTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timeout = timeout
}

// GetTimeout returns the current timeout
func (t *UDPTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.timeout
}

// SendRequest sends a MODBUS request over UDP using MBAP framing
func (t *UDPTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return nil, fmt.Errorf("%w: transport not connected", modbus.ErrConnectionLost)
	}

	txID, wait, err := t.txnTable.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	adu := t.sockFramer.BuildTxn(txID, uint8(slaveID), request.Bytes())

	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	t.logf("TX UDP: % X", adu)

	if _, err := t.conn.Write(adu); err != nil {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("%w: failed to send UDP request: %v", modbus.ErrConnectionLost, err)
	}

	response := make([]byte, modbus.MaxTCPADUSize)
	n, err := t.conn.Read(response)
	if err != nil {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("%w: failed to receive UDP response: %v", modbus.ErrConnectionLost, err)
	}

	t.logf("RX UDP: % X", response[:n])

	var respFrame framer.Frame
	var frameErr error
	t.sockFramer.Consume(response[:n], func(f framer.Frame) {
		respFrame = f
	}, func(err error) {
		frameErr = err
	})
	if frameErr != nil {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("%w: %v", modbus.ErrInvalidFrame, frameErr)
	}
	if respFrame.PDU == nil {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("%w: incomplete UDP response", modbus.ErrInvalidFrame)
	}
	if respFrame.TransactionID != txID {
		t.txnTable.Cancel(txID)
		return nil, fmt.Errorf("%w: transaction ID mismatch: expected %d, got %d",
			modbus.ErrInvalidFrame, txID, respFrame.TransactionID)
	}

	t.txnTable.Resolve(txID, respFrame.PDU)
	pduBytes, err := wait()
	if err != nil {
		return nil, err
	}

	responsePDU, err := pdu.ParsePDU(pduBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", modbus.ErrDecodeError, err)
	}

	return &pdu.Response{PDU: responsePDU}, nil
}

// GetTransportType returns the transport type
func (t *UDPTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportTCP // Uses same protocol, just UDP transport
}

// String returns a string representation
func (t *UDPTransport) String() string {
	return fmt.Sprintf("UDP(%s)", t.address)
}

// TCPServer implements a MODBUS TCP server
type TCPServer struct {
	listener       net.Listener
	address        string
	handler        RequestHandler
	connections    map[net.Conn]bool
	mutex          sync.RWMutex
	running        bool
	stopChan       chan struct{}
	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// RequestHandler defines the interface for handling MODBUS requests. A nil
// *pdu.Response means no reply goes out on the wire for this request: a
// listen-only device context reports this for every request while the mode
// is active.
type RequestHandler interface {
	HandleRequest(slaveID modbus.SlaveID, req *pdu.Request) *pdu.Response
}

// NewTCPServer creates a new TCP server
func NewTCPServer(address string, handler RequestHandler) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		address:        address,
		handler:        handler,
		connections:    make(map[net.Conn]bool),
		stopChan:       make(chan struct{}),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return fmt.Errorf("server already running")
	}

	// Reset shutdown context if restarting
	s.shutdownCtx, s.shutdownCancel = context.WithCancel(context.Background())
	s.stopChan = make(chan struct{})
	s.mutex.Unlock()

	// Start listening
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.mutex.Lock()
	s.listener = listener
	s.running = true
	s.mutex.Unlock()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops the TCP server gracefully
func (s *TCPServer) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}

	// Signal shutdown
	s.shutdownCancel()
	close(s.stopChan)
	s.running = false

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			// Log error but don't fail stop
			fmt.Printf("Warning: error closing listener: %v\n", err)
		}
	}

	// Close all active connections
	for conn := range s.connections {
		_ = conn.Close() // Best effort close, ignore errors
	}
	s.connections = make(map[net.Conn]bool)
	s.mutex.Unlock()

	// Wait for all goroutines to finish
	s.wg.Wait()

	return nil
}

// StopWithTimeout stops the server with a timeout for graceful shutdown
func (s *TCPServer) StopWithTimeout(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("server shutdown timed out after %v", timeout)
	}
}

// IsRunning returns true if the server is running
func (s *TCPServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// acceptLoop accepts incoming connections
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.shutdownCtx.Done():
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				if s.IsRunning() {
					// Log error if server is still supposed to be running
					fmt.Printf("TCP server accept error: %v\n", err)
				}
				continue
			}

			s.mutex.Lock()
			s.connections[conn] = true
			s.mutex.Unlock()

			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}
}

// handleConnection handles a single connection. Each connection owns its
// own SocketFramer, decoding whatever arrives into discrete frames and
// dispatching every one through the shared handler; a handler response of
// nil (listen-only mode) is simply not written back.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer func() {
		s.wg.Done()
		_ = conn.Close() // Best effort close, ignore errors
		s.mutex.Lock()
		delete(s.connections, conn)
		s.mutex.Unlock()
	}()

	sockFramer := framer.NewSocketFramer(framer.RequestSide)
	readTimeout := time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond
	buf := make([]byte, 4096)

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.shutdownCtx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			if s.IsRunning() {
				fmt.Printf("TCP server receive error: %v\n", err)
			}
			return
		}

		var sendErr error
		sockFramer.Consume(buf[:n], func(f framer.Frame) {
			requestPDU, perr := pdu.ParsePDU(f.PDU)
			if perr != nil {
				sendErr = fmt.Errorf("%w: %v", modbus.ErrDecodeError, perr)
				return
			}

			request := &pdu.Request{PDU: requestPDU}
			response := s.handler.HandleRequest(modbus.SlaveID(f.DeviceID), request)
			if response == nil {
				return
			}

			respFrame := sockFramer.BuildTxn(f.TransactionID, f.DeviceID, response.Bytes())
			if err := conn.SetWriteDeadline(time.Now().Add(readTimeout)); err != nil {
				sendErr = err
				return
			}
			if _, err := conn.Write(respFrame); err != nil {
				sendErr = err
			}
		}, func(err error) {
			if s.IsRunning() {
				fmt.Printf("TCP server frame error: %v\n", err)
			}
		})

		if sendErr != nil {
			if s.IsRunning() {
				fmt.Printf("TCP server send error: %v\n", sendErr)
			}
			return
		}
	}
}
