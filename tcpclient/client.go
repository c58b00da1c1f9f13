// Package tcpclient provides an event-driven client for netserve servers. It
// performs the connect handshake, then reads frames in the background and
// notifies callers of frames, connection state changes and errors via
// registered handlers.
package tcpclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-netserve/bufpool"
	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/logger"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client is closed")
	// ErrAlreadyConnected is returned by Connect while a connection is up or being set up.
	ErrAlreadyConnected = errors.New("already connected or connecting")
	// ErrNotConnected is returned by writes without an established session.
	ErrNotConnected = errors.New("not connected")
	// ErrBadResponse is returned when the server answers the handshake with
	// something other than a connect response.
	ErrBadResponse = errors.New("unexpected connect response")
)

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dialing
	Handshaking                         // Connected at TCP level, waiting for the connect response
	Connected                           // Session established
	Closed                              // Client has been closed and must not be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The server address
	SessionID uint32          // The established session id, 0 before Connected
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// FrameEvent is emitted for every frame read after the handshake.
type FrameEvent struct {
	Header    frame.Header // The decoded header
	Body      []byte       // A copy of the body, owned by the handler
	Timestamp time.Time    // When the frame was read
}

// ErrorEvent is emitted when a read, write or connection error occurs.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is called asynchronously when the state changes.
type ConnectionStateHandler func(event ConnectionStateEvent)

// FrameHandler is called from the read loop, in arrival order, for each frame.
type FrameHandler func(event FrameEvent)

// ErrorHandler is called asynchronously when an error occurs.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for the client.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// HandshakeTimeout bounds the wait for the connect response.
	HandshakeTimeout time.Duration
	// WriteTimeout is the max duration for a single frame write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the max idle time between frames; 0 means no timeout.
	ReadTimeout time.Duration
	// MaxFrameSize bounds frame bodies in both directions.
	MaxFrameSize int
	// Codec encodes payloads passed to Send.
	Codec frame.BodyCodec
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: ConnectionTimeout 10s, HandshakeTimeout 10s,
//     WriteTimeout 10s, ReadTimeout 0, MaxFrameSize 1 MiB, Codec frame.Binary.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       0,
		MaxFrameSize:      frame.DefaultMaxFrameSize,
		Codec:             frame.Binary,
	}
}

// Client is a netserve client that drives I/O and connection lifecycle via
// events. Register handlers with OnConnectionState, OnFrame and OnError,
// then call Connect. It is safe for concurrent use.
type Client struct {
	config Config
	log    logger.Logger
	pool   *bufpool.Pool

	conn      net.Conn
	state     ConnectionState
	sessionID uint32

	onConnectionState ConnectionStateHandler
	onFrame           FrameHandler
	onError           ErrorHandler

	mu      sync.RWMutex
	writeMu sync.Mutex
	wg      sync.WaitGroup
	closed  bool
}

// New creates a client in Disconnected state.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//   - log: Logger; nil means logger.Nop()
//
// Returns:
//   - A new *Client; call Close when done
func New(config Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	if config.Codec == nil {
		config.Codec = frame.Binary
	}

	return &Client{
		config: config,
		log:    log.With(logger.Field{Key: "component", Value: "tcpclient"}, logger.Field{Key: "addr", Value: config.Address}),
		pool:   bufpool.NewDefault(),
		state:  Disconnected,
	}
}

// OnConnectionState registers the handler for connection state changes.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnFrame registers the handler for received frames.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnFrame(handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = handler
}

// OnError registers the handler for errors.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the server and performs the handshake for sessionID.
//
// Parameters:
//   - sessionID: Requested session id; 0 asks the server to assign one
//
// Returns:
//   - The session id the server accepted
//   - A *frame.RejectError carrying the server's error code if the handshake
//     was refused, or a dial/IO error
func (c *Client) Connect(sessionID uint32) (uint32, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}

	if c.state != Disconnected {
		c.mu.Unlock()
		return 0, ErrAlreadyConnected
	}

	c.state = Connecting
	c.mu.Unlock()
	c.emitConnectionState(Connecting, 0, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, 0, err)
		c.emitError(err)
		return 0, err
	}

	c.setState(Handshaking, 0, nil)

	id, err := c.handshake(conn, sessionID)
	if err != nil {
		_ = conn.Close()
		c.setState(Disconnected, 0, err)
		return 0, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return 0, ErrClosed
	}

	c.conn = conn
	c.sessionID = id
	c.mu.Unlock()

	c.setState(Connected, id, nil)
	c.log.Debug("session established", logger.Field{Key: "session_id", Value: id})

	c.wg.Add(1)
	go c.readLoop(conn)

	return id, nil
}

func (c *Client) handshake(conn net.Conn, sessionID uint32) (uint32, error) {
	if c.config.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.config.HandshakeTimeout)); err != nil {
			return 0, err
		}
	}

	if _, err := conn.Write(frame.EncodeHandshake(frame.ConnectRequest{SessionID: sessionID})); err != nil {
		return 0, fmt.Errorf("write connect request: %w", err)
	}

	f, err := frame.ReadFrame(conn, c.pool, frame.ConnectResponseSize)
	if err != nil {
		return 0, fmt.Errorf("read connect response: %w", err)
	}
	defer f.Release()

	if f.Header.ErrorCode != frame.ErrNone {
		return 0, &frame.RejectError{Code: f.Header.ErrorCode}
	}

	if !f.Header.IsNone() {
		return 0, fmt.Errorf("%w: %+v", ErrBadResponse, f.Header)
	}

	if _, err := frame.DecodeConnectResponse(f.Payload()); err != nil {
		return 0, fmt.Errorf("%w: %+v", ErrBadResponse, f.Header)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return 0, err
	}

	return f.Header.SessionID, nil
}

// Send encodes payload with the configured codec and writes it under tag.
//
// Parameters:
//   - tag: Message-type tag
//   - payload: Value to encode
//
// Returns:
//   - nil on success; an encoding, state or write error otherwise
func (c *Client) Send(tag uint32, payload any) error {
	body, err := c.config.Codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode tag %d: %w", tag, err)
	}

	return c.WriteFrame(frame.Header{Tag: tag}, body)
}

// Keepalive sends a no-op frame, which refreshes the session's presence
// record on the server.
func (c *Client) Keepalive() error {
	return c.WriteFrame(frame.Header{Tag: frame.TagNone}, nil)
}

// WriteFrame writes one raw frame. SessionID defaults to the established id.
//
// Returns:
//   - ErrNotConnected without a session, or the write error
func (c *Client) WriteFrame(h frame.Header, body []byte) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	id := c.sessionID
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	if h.SessionID == 0 {
		h.SessionID = id
	}

	h.Length = uint32(len(body))
	if err := h.Validate(c.config.MaxFrameSize); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := frame.WriteFrame(conn, c.pool, h, body); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// SessionID returns the established session id, or 0.
func (c *Client) SessionID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client holds an established session.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// Disconnect closes the current connection. Connect may be called again.
//
// Returns:
//   - nil if already disconnected, or the error from closing the connection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	c.wg.Wait()

	return err
}

// Close shuts down the client and waits for the read loop to exit.
// Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.wg.Wait()
	c.setState(Closed, 0, nil)

	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	var cause error
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()

		if !closed {
			c.setState(Disconnected, 0, cause)
		}
	}()

	for {
		if c.config.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
				cause = err
				break
			}
		}

		f, err := frame.ReadFrame(conn, c.pool, c.config.MaxFrameSize)
		if err != nil {
			if !c.isShutdown(conn) {
				cause = err
				c.emitError(err)
			}

			return
		}

		c.emitFrame(f)
		f.Release()
	}
}

// isShutdown reports whether conn was closed on purpose by Close or Disconnect.
func (c *Client) isShutdown(conn net.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed || c.conn != conn
}

func (c *Client) setState(state ConnectionState, id uint32, err error) {
	c.mu.Lock()
	c.state = state
	if state != Connected {
		c.sessionID = 0
	}
	c.mu.Unlock()

	c.emitConnectionState(state, id, err)
}

func (c *Client) emitConnectionState(state ConnectionState, id uint32, err error) {
	c.mu.RLock()
	handler := c.onConnectionState
	c.mu.RUnlock()

	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			SessionID: id,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitFrame(f *frame.Frame) {
	c.mu.RLock()
	handler := c.onFrame
	c.mu.RUnlock()

	if handler != nil {
		handler(FrameEvent{
			Header:    f.Header,
			Body:      append([]byte(nil), f.Payload()...),
			Timestamp: time.Now(),
		})
	}
}

func (c *Client) emitError(err error) {
	c.log.Debug("client error", logger.Err(err))

	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}
