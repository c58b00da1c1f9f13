package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cyberinferno/go-netserve/bufpool"
	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	Seq  uint32
	Sent int64
}

type note struct {
	Text string `json:"text"`
}

func pipeSession(t *testing.T, id uint32) (*session.Session, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	s := session.New(id, server, bufpool.NewDefault(), time.Second, 0)
	t.Cleanup(func() {
		_ = s.Close()
		_ = client.Close()
	})

	return s, client
}

func TestTyped_Receive(t *testing.T) {
	t.Run("decodes body and calls the receive function", func(t *testing.T) {
		var got ping
		h := NewTyped(1, frame.Binary, func(ctx context.Context, req *Request, msg ping) error {
			got = msg
			return nil
		})

		body, err := h.Encode(ping{Seq: 5, Sent: 99})
		require.NoError(t, err)

		req := NewRequest(nil, frame.Header{Tag: 1, Length: uint32(len(body))}, body, nil)
		require.NoError(t, h.Receive(context.Background(), req))
		assert.Equal(t, ping{Seq: 5, Sent: 99}, got)
	})

	t.Run("decode failure is returned", func(t *testing.T) {
		h := NewTyped[ping](1, frame.Binary, nil)
		err := h.Receive(context.Background(), NewRequest(nil, frame.Header{Tag: 1}, []byte{1, 2}, nil))
		assert.ErrorIs(t, err, frame.ErrBodySize)
	})

	t.Run("send-only handler discards decoded messages", func(t *testing.T) {
		h := NewTyped[note](2, frame.JSON, nil)
		err := h.Receive(context.Background(), NewRequest(nil, frame.Header{Tag: 2}, []byte(`{"text":"x"}`), nil))
		assert.NoError(t, err)
	})
}

func TestTyped_Send(t *testing.T) {
	h := NewTyped[note](7, frame.JSON, nil)

	t.Run("writes tag and encoded body", func(t *testing.T) {
		s, client := pipeSession(t, 3)

		got := make(chan *frame.Frame, 1)
		go func() {
			f, err := frame.ReadFrame(client, bufpool.NewDefault(), 0)
			if err == nil {
				got <- f
			}
		}()

		require.NoError(t, h.Send(context.Background(), s, &note{Text: "hi"}))

		select {
		case f := <-got:
			defer f.Release()
			assert.Equal(t, uint32(7), f.Header.Tag)
			assert.Equal(t, uint32(3), f.Header.SessionID)
			assert.JSONEq(t, `{"text":"hi"}`, string(f.Payload()))
		case <-time.After(2 * time.Second):
			t.Fatal("frame not received")
		}
	})

	t.Run("foreign payload type is refused", func(t *testing.T) {
		s, _ := pipeSession(t, 3)
		assert.ErrorIs(t, h.Send(context.Background(), s, ping{}), ErrPayloadType)
	})

	t.Run("nil pointer is refused", func(t *testing.T) {
		s, _ := pipeSession(t, 3)
		var n *note
		assert.ErrorIs(t, h.Send(context.Background(), s, n), ErrPayloadType)
	})

	t.Run("cancelled context is honoured", func(t *testing.T) {
		s, _ := pipeSession(t, 3)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, h.Send(ctx, s, note{}), context.Canceled)
	})
}

func TestRequest_Reply(t *testing.T) {
	t.Run("without reply func reports false", func(t *testing.T) {
		req := NewRequest(nil, frame.Header{}, nil, nil)
		assert.False(t, req.Reply(context.Background(), note{}))
	})

	t.Run("forwards session and payload", func(t *testing.T) {
		s, _ := pipeSession(t, 11)

		var gotSession *session.Session
		var gotPayload any
		req := NewRequest(s, frame.Header{}, nil, func(ctx context.Context, to *session.Session, payload any) bool {
			gotSession, gotPayload = to, payload
			return true
		})

		assert.True(t, req.Reply(context.Background(), note{Text: "ok"}))
		assert.Same(t, s, gotSession)
		assert.Equal(t, note{Text: "ok"}, gotPayload)
	})
}
