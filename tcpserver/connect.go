package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/session"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptLoop hands accepted sockets to the connect queue until the run is
// cancelled. Transient accept errors back off from 5ms up to 1s.
func (e *Engine[P]) acceptLoop(r *run[P]) {
	var delay time.Duration

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}

			if errors.Is(err, net.ErrClosed) {
				e.log.Warn("listener closed, accept loop exiting")
				return
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}

			e.log.Error("accept failed", logger.Err(err), logger.Field{Key: "retry_in", Value: delay})

			select {
			case <-time.After(delay):
			case <-r.ctx.Done():
				return
			}

			continue
		}

		delay = 0
		e.metrics.ConnectionAccepted()

		select {
		case r.connectQueue <- connectItem{conn: conn}:
		case <-r.ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

// connectLoop runs handshakes one at a time in accept order, so session
// installs never race each other.
func (e *Engine[P]) connectLoop(r *run[P]) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case item := <-r.connectQueue:
			if err := e.connect(r, item.conn); err != nil {
				reason := handshakeReason(err)
				e.metrics.HandshakeFailed(reason)
				e.log.Info("connect failed",
					logger.Field{Key: "remote", Value: item.conn.RemoteAddr().String()},
					logger.Field{Key: "reason", Value: reason},
					logger.Err(err))
			}
		}
	}
}

func (e *Engine[P]) connect(r *run[P], conn net.Conn) error {
	e.pending.Add(conn)
	defer e.pending.Remove(conn)

	// Stop cancels before draining pending, so a conn added after the drain
	// always sees the cancellation here.
	if err := r.ctx.Err(); err != nil {
		_ = e.reject(r, conn, 0, frame.ErrServerShutdown)
		_ = conn.Close()
		return err
	}

	id, err := e.handshake(r, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	if e.cfg.DuplicatePolicy == session.RejectNew {
		if cur, ok := e.sessions.Get(id); ok && cur.Connected() {
			_ = e.reject(r, conn, id, frame.ErrDuplicateSession)
			_ = conn.Close()
			return fmt.Errorf("%w: %d", ErrDuplicateSession, id)
		}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("clear handshake deadline: %w", err)
	}

	s := session.New(id, conn, r.pool, e.cfg.WriteTimeout, e.cfg.MaxFrameSize)
	if err := s.WriteFrame(frame.AcceptHeader(id), frame.EncodeConnectResponse(frame.ConnectResponse{Accepted: 1})); err != nil {
		_ = s.Close()
		return fmt.Errorf("write connect response: %w", err)
	}

	evicted, err := e.sessions.Install(s, e.cfg.DuplicatePolicy)
	if err != nil {
		_ = s.Close()
		return err
	}

	if evicted != nil {
		e.metrics.SessionEvicted()
		e.log.Info("session evicted by new connection",
			logger.Field{Key: "session_id", Value: id},
			logger.Field{Key: "old_remote", Value: evicted.RemoteAddr()},
			logger.Field{Key: "new_remote", Value: s.RemoteAddr()})
	}

	// Same ordering argument as above, against CloseAll in Stop.
	if err := r.ctx.Err(); err != nil {
		e.sessions.Remove(s)
		_ = s.Close()
		return err
	}

	e.metrics.SessionOpened()
	r.receivers.add(1)
	go e.receiveLoop(r, s)

	return nil
}

// handshake reads connect requests until one is valid or the attempts are
// used up. Each invalid request is answered with an error header.
func (e *Engine[P]) handshake(r *run[P], conn net.Conn) (uint32, error) {
	buf := r.pool.Rent(frame.HandshakeSize)
	defer buf.Release()

	for attempt := 1; attempt <= e.cfg.HandshakeAttempts; attempt++ {
		if e.cfg.HandshakeTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(e.cfg.HandshakeTimeout)); err != nil {
				return 0, fmt.Errorf("set handshake deadline: %w", err)
			}
		}

		if err := frame.ReadFull(conn, buf.Bytes()); err != nil {
			return 0, fmt.Errorf("read connect request: %w", err)
		}

		req, err := frame.DecodeHandshake(buf.Bytes())
		if err == nil {
			if id, ok := e.resolveID(req.SessionID); ok {
				return id, nil
			}

			err = errors.New("session id 0 is not allowed")
		}

		e.log.Debug("invalid connect request",
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
			logger.Field{Key: "attempt", Value: attempt},
			logger.Err(err))

		if werr := e.reject(r, conn, req.SessionID, frame.ErrInvalidSessionData); werr != nil {
			return 0, fmt.Errorf("write connect rejection: %w", werr)
		}
	}

	return 0, fmt.Errorf("%w: %d attempts", ErrInvalidSessionData, e.cfg.HandshakeAttempts)
}

// resolveID maps the requested id to the id the session will use.
func (e *Engine[P]) resolveID(requested uint32) (uint32, bool) {
	if requested != 0 {
		return requested, true
	}

	if !e.cfg.AssignSessionIDs {
		return 0, false
	}

	for {
		id := e.ids.Id()
		if _, taken := e.sessions.Get(id); !taken {
			return id, true
		}
	}
}

// reject writes an error header straight to a connection that has no session yet.
func (e *Engine[P]) reject(r *run[P], conn net.Conn, id uint32, code frame.ErrorCode) error {
	if e.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout)); err != nil {
			return err
		}
	}

	_, err := frame.WriteFrame(conn, r.pool, frame.RejectHeader(id, code), nil)
	return err
}

// handshakeReason maps a connect error to a metrics label.
func handshakeReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateSession):
		return "duplicate"
	case errors.Is(err, ErrInvalidSessionData):
		return "invalid"
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, net.ErrClosed):
		return "shutdown"
	default:
		return "error"
	}
}
