// Package session holds the identity and liveness wrapper around one
// established connection, and the table that owns live sessions by id.
package session

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-netserve/bufpool"
	"github.com/cyberinferno/go-netserve/frame"
)

// ErrClosed is returned when writing to a session that is no longer connected.
var ErrClosed = errors.New("session closed")

// Session is one live, identified connection. Its id never changes after
// construction. Writes are serialised so a frame is never interleaved with
// another on the wire.
type Session struct {
	id           uint32
	conn         net.Conn
	pool         *bufpool.Pool
	writeTimeout time.Duration
	maxFrameSize int
	since        time.Time

	mu     sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

// New wraps an established connection.
//
// Parameters:
//   - id: The session id agreed during the handshake
//   - conn: The connected socket, owned by the session from now on
//   - pool: Buffer pool used to assemble outgoing frames
//   - writeTimeout: Deadline applied to each frame write; 0 means none
//   - maxFrameSize: Largest body WriteFrame will send; <= 0 means frame.DefaultMaxFrameSize
//
// Returns:
//   - The new Session
func New(id uint32, conn net.Conn, pool *bufpool.Pool, writeTimeout time.Duration, maxFrameSize int) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		pool:         pool,
		writeTimeout: writeTimeout,
		maxFrameSize: maxFrameSize,
		since:        time.Now(),
		done:         make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() uint32 {
	return s.id
}

// Conn returns the underlying connection.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// RemoteAddr returns the peer address as a string.
func (s *Session) RemoteAddr() string {
	if s.conn == nil || s.conn.RemoteAddr() == nil {
		return ""
	}

	return s.conn.RemoteAddr().String()
}

// EstablishedAt returns when the session was created.
func (s *Session) EstablishedAt() time.Time {
	return s.since
}

// Connected reports whether the session is still usable. It turns false the
// moment Close is called, including when the engine closes it after a read
// or write failure.
func (s *Session) Connected() bool {
	return !s.closed.Load()
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WriteFrame sends one header+body frame. The header's SessionID defaults
// to the session id and its Length is taken from body. A body above the
// session's frame limit is refused before anything is written and leaves
// the session open. A failed write closes the session, since the stream
// position is no longer known.
//
// Parameters:
//   - h: Header to send
//   - body: Frame body, may be nil
//
// Returns:
//   - ErrClosed if the session is closed, frame.ErrFrameTooLarge for an
//     oversized body, or the write error
func (s *Session) WriteFrame(h frame.Header, body []byte) error {
	if !s.Connected() {
		return ErrClosed
	}

	if h.SessionID == 0 {
		h.SessionID = s.id
	}

	h.Length = uint32(len(body))
	if err := h.Validate(s.maxFrameSize); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			_ = s.Close()
			return err
		}
	}

	if _, err := frame.WriteFrame(s.conn, s.pool, h, body); err != nil {
		_ = s.Close()
		return err
	}

	return nil
}

// Close closes the connection. It is safe to call multiple times; only the
// first call closes the socket and reports its error.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(s.done)
	return s.conn.Close()
}
