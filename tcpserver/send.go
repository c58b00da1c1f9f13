package tcpserver

import (
	"context"

	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/session"
)

// Send queues data for s without blocking.
//
// Parameters:
//   - s: Destination session
//   - data: Payload; its handler is resolved from the payload's type
//
// Returns:
//   - false if the engine is stopped or the send queue is full
func (e *Engine[P]) Send(s *session.Session, data P) bool {
	r := e.current.Load()
	if s == nil || r == nil || !e.running.Load() {
		return false
	}

	select {
	case r.sendQueue <- sendItem[P]{session: s, payload: data}:
		return true
	default:
		e.metrics.SendDropped("queue_full")
		e.log.Debug("send queue full", logger.Field{Key: "session_id", Value: s.ID()})
		return false
	}
}

// SendAsync queues data for s, waiting for queue space until ctx is done
// or the engine stops.
//
// Parameters:
//   - ctx: Bounds the wait for queue space
//   - s: Destination session
//   - data: Payload
//
// Returns:
//   - true once the payload is queued
func (e *Engine[P]) SendAsync(ctx context.Context, s *session.Session, data P) bool {
	r := e.current.Load()
	if s == nil || r == nil || !e.running.Load() {
		return false
	}

	select {
	case r.sendQueue <- sendItem[P]{session: s, payload: data}:
		return true
	case <-ctx.Done():
		return false
	case <-r.ctx.Done():
		return false
	}
}

// sendLoop writes queued payloads in queue order.
func (e *Engine[P]) sendLoop(r *run[P]) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case item := <-r.sendQueue:
			e.deliver(r, item)
		}
	}
}

func (e *Engine[P]) deliver(r *run[P], item sendItem[P]) {
	s := item.session
	if !s.Connected() {
		e.metrics.SendDropped("disconnected")
		e.log.Debug("dropping payload for closed session", logger.Field{Key: "session_id", Value: s.ID()})
		return
	}

	h := e.registry.HandlerFor(item.payload)
	if h == nil {
		e.metrics.SendDropped("no_handler")
		return
	}

	if err := h.Send(r.ctx, s, item.payload); err != nil {
		e.metrics.SendDropped("write")
		e.log.Warn("send failed",
			logger.Field{Key: "session_id", Value: s.ID()},
			logger.Field{Key: "tag", Value: h.Tag()},
			logger.Err(err))
		return
	}

	e.metrics.FrameSent()
}
