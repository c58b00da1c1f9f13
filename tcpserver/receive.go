package tcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/handler"
	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/presence"
	"github.com/cyberinferno/go-netserve/session"
)

// receiveLoop reads frames from s until the peer goes away, a read fails
// or the run is cancelled. On exit it removes s from the table only if s is
// still the entry for its id.
func (e *Engine[P]) receiveLoop(r *run[P], s *session.Session) {
	defer r.receivers.add(-1)

	log := e.log.With(
		logger.Field{Key: "session_id", Value: s.ID()},
		logger.Field{Key: "remote", Value: s.RemoteAddr()},
	)
	rec := presence.NewRecord(e.cfg.Name, s.ID(), s.RemoteAddr(), s.EstablishedAt())
	e.trackOnline(r.ctx, rec, log)

	stop := context.AfterFunc(r.ctx, func() { _ = s.Close() })
	defer stop()

	var cause error
	defer func() {
		removed := e.sessions.Remove(s)
		_ = s.Close()
		e.metrics.SessionClosed()
		e.trackOffline(rec, log)
		log.Info("session closed", logger.Field{Key: "removed", Value: removed}, logger.Err(cause))
	}()

	log.Info("session established")

	if e.onOpen != nil {
		r.receivers.outside(func() { e.sessionOpened(s, log) })
	}

	for s.Connected() && r.ctx.Err() == nil {
		if e.cfg.IdleTimeout > 0 {
			if err := s.Conn().SetReadDeadline(time.Now().Add(e.cfg.IdleTimeout)); err != nil {
				cause = err
				return
			}
		}

		f, err := frame.ReadFrame(s.Conn(), r.pool, e.cfg.MaxFrameSize)
		if err != nil {
			cause = err
			return
		}

		e.metrics.FrameReceived(int(f.Header.Length))
		e.dispatch(r, s, f, rec, log)
		f.Release()
	}
}

// dispatch hands one frame to its handler. Handler errors and panics are
// logged and never end the session.
func (e *Engine[P]) dispatch(r *run[P], s *session.Session, f *frame.Frame, rec presence.Record, log logger.Logger) {
	defer func() {
		if p := recover(); p != nil {
			e.metrics.HandlerFailed()
			log.Error("handler panicked",
				logger.Field{Key: "tag", Value: f.Header.Tag},
				logger.Field{Key: "panic", Value: fmt.Sprint(p)})
		}
	}()

	if f.Header.IsNone() {
		e.trackOnline(r.ctx, rec, log)
		return
	}

	h := e.registry.Handler(f.Header.Tag)
	if h == nil {
		if err := s.WriteFrame(frame.RejectHeader(s.ID(), frame.ErrUnknownMessage), nil); err != nil {
			log.Debug("failed to report unknown tag", logger.Err(err))
		}

		return
	}

	req := handler.NewRequest(s, f.Header, f.Payload(), e.reply)

	var err error
	r.receivers.outside(func() { err = h.Receive(r.ctx, req) })
	if err != nil {
		e.metrics.HandlerFailed()
		log.Warn("handler failed", logger.Field{Key: "tag", Value: f.Header.Tag}, logger.Err(err))
	}
}

func (e *Engine[P]) sessionOpened(s *session.Session, log logger.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("session opened hook panicked", logger.Field{Key: "panic", Value: fmt.Sprint(p)})
		}
	}()

	e.onOpen(s)
}

// reply is the ReplyFunc given to handlers.
func (e *Engine[P]) reply(ctx context.Context, s *session.Session, payload any) bool {
	p, ok := payload.(P)
	if !ok {
		e.log.Warn("reply payload does not match the engine payload type",
			logger.Field{Key: "type", Value: fmt.Sprintf("%T", payload)})
		return false
	}

	return e.SendAsync(ctx, s, p)
}

func (e *Engine[P]) trackOnline(ctx context.Context, rec presence.Record, log logger.Logger) {
	if e.tracker == nil {
		return
	}

	if err := e.tracker.Online(ctx, rec); err != nil {
		log.Warn("presence online failed", logger.Err(err))
	}
}

// trackOffline runs on a fresh context, since the run context is usually
// already cancelled when sessions go away during Stop.
func (e *Engine[P]) trackOffline(rec presence.Record, log logger.Logger) {
	if e.tracker == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.tracker.Offline(ctx, rec); err != nil {
		log.Warn("presence offline failed", logger.Err(err))
	}
}
