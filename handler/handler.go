// Package handler defines the per-message-type unit of behaviour and the
// registry that maps wire tags and payload types to handler singletons.
package handler

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/session"
)

// ErrPayloadType is returned when a handler is asked to send a value of a
// type it does not own.
var ErrPayloadType = errors.New("unexpected payload type")

// ReplyFunc queues payload for delivery to s through the engine's send
// queue. It reports whether the payload was queued.
type ReplyFunc func(ctx context.Context, s *session.Session, payload any) bool

// Request is one received frame handed to a Handler. Body is backed by a
// pooled buffer and is only valid until Receive returns.
type Request struct {
	Session *session.Session
	Header  frame.Header
	Body    []byte

	reply ReplyFunc
}

// NewRequest builds a Request. The engine passes its send path as reply;
// tests may pass nil, in which case Reply always reports false.
func NewRequest(s *session.Session, h frame.Header, body []byte, reply ReplyFunc) *Request {
	return &Request{Session: s, Header: h, Body: body, reply: reply}
}

// Reply queues payload for the requesting session. Replies go through the
// same send queue as every other send, so they keep per-session order.
func (r *Request) Reply(ctx context.Context, payload any) bool {
	if r.reply == nil {
		return false
	}

	return r.reply(ctx, r.Session, payload)
}

// Handler knows the wire shape of exactly one message type. A single
// instance serves every session concurrently, so implementations must not
// keep per-call mutable state.
type Handler interface {
	// Tag is the message-type tag this handler owns.
	Tag() uint32
	// Receive decodes and processes one frame.
	Receive(ctx context.Context, req *Request) error
	// Send encodes payload and writes header+body to s.
	Send(ctx context.Context, s *session.Session, payload any) error
}

// PayloadTyper is implemented by handlers that encode exactly one payload
// type. The registry refuses such a handler when it was registered under a
// different type.
type PayloadTyper interface {
	PayloadType() reflect.Type
}

// ReceiveFunc processes a decoded message.
type ReceiveFunc[T any] func(ctx context.Context, req *Request, msg T) error

// Typed is a Handler for payload type T over any BodyCodec. A nil receive
// function makes it send-only: received frames are decoded and discarded.
type Typed[T any] struct {
	tag       uint32
	codec     frame.BodyCodec
	onReceive ReceiveFunc[T]
}

// NewTyped creates a Typed handler.
//
// Parameters:
//   - tag: Message-type tag written to and expected in headers
//   - codec: Body encoding, e.g. frame.Binary or frame.JSON
//   - onReceive: Called with each decoded message; may be nil
//
// Returns:
//   - The handler
func NewTyped[T any](tag uint32, codec frame.BodyCodec, onReceive ReceiveFunc[T]) *Typed[T] {
	return &Typed[T]{tag: tag, codec: codec, onReceive: onReceive}
}

// Tag implements Handler.
func (h *Typed[T]) Tag() uint32 {
	return h.tag
}

// PayloadType implements PayloadTyper.
func (h *Typed[T]) PayloadType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Decode turns a body into T.
func (h *Typed[T]) Decode(body []byte) (T, error) {
	var msg T
	if err := h.codec.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("tag %d: %w", h.tag, err)
	}

	return msg, nil
}

// Encode turns T into a body.
func (h *Typed[T]) Encode(msg T) ([]byte, error) {
	body, err := h.codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("tag %d: %w", h.tag, err)
	}

	return body, nil
}

// Receive implements Handler.
func (h *Typed[T]) Receive(ctx context.Context, req *Request) error {
	msg, err := h.Decode(req.Body)
	if err != nil {
		return err
	}

	if h.onReceive == nil {
		return nil
	}

	return h.onReceive(ctx, req, msg)
}

// Send implements Handler. It accepts both T and *T.
func (h *Typed[T]) Send(ctx context.Context, s *session.Session, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg T
	switch v := payload.(type) {
	case T:
		msg = v
	case *T:
		if v == nil {
			return fmt.Errorf("%w: nil %T for tag %d", ErrPayloadType, payload, h.tag)
		}
		msg = *v
	default:
		return fmt.Errorf("%w: %T for tag %d", ErrPayloadType, payload, h.tag)
	}

	body, err := h.Encode(msg)
	if err != nil {
		return err
	}

	return s.WriteFrame(frame.Header{Tag: h.tag}, body)
}
