package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-netserve/bufpool"
	"github.com/cyberinferno/go-netserve/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeSession(t *testing.T, id uint32) (*Session, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	return New(id, server, bufpool.NewDefault(), time.Second, 0), client
}

func TestSession_Identity(t *testing.T) {
	s, _ := newPipeSession(t, 42)

	assert.Equal(t, uint32(42), s.ID())
	assert.True(t, s.Connected())
	assert.NotNil(t, s.Conn())
	assert.False(t, s.EstablishedAt().IsZero())
	assert.NotEmpty(t, s.RemoteAddr())
}

func TestSession_WriteFrame(t *testing.T) {
	t.Run("fills in session id and length", func(t *testing.T) {
		s, client := newPipeSession(t, 7)

		got := make(chan *frame.Frame, 1)
		go func() {
			f, err := frame.ReadFrame(client, bufpool.NewDefault(), 0)
			if err == nil {
				got <- f
			}
		}()

		require.NoError(t, s.WriteFrame(frame.Header{Tag: 3}, []byte("hello")))

		select {
		case f := <-got:
			defer f.Release()
			assert.Equal(t, uint32(7), f.Header.SessionID)
			assert.Equal(t, uint32(3), f.Header.Tag)
			assert.Equal(t, uint32(5), f.Header.Length)
			assert.Equal(t, []byte("hello"), f.Payload())
		case <-time.After(2 * time.Second):
			t.Fatal("frame not received")
		}
	})

	t.Run("write after close fails", func(t *testing.T) {
		s, _ := newPipeSession(t, 1)
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.WriteFrame(frame.Header{Tag: 1}, nil), ErrClosed)
	})

	t.Run("body above the frame limit is refused and the session stays open", func(t *testing.T) {
		server, client := net.Pipe()
		t.Cleanup(func() {
			_ = server.Close()
			_ = client.Close()
		})
		s := New(1, server, bufpool.NewDefault(), time.Second, 8)

		// Nothing reads the pipe, so any write attempt would block.
		err := s.WriteFrame(frame.Header{Tag: 1}, make([]byte, 9))
		assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
		assert.True(t, s.Connected())
	})

	t.Run("failed write closes the session", func(t *testing.T) {
		s, client := newPipeSession(t, 1)
		_ = client.Close()

		assert.Error(t, s.WriteFrame(frame.Header{Tag: 1}, []byte("x")))
		assert.False(t, s.Connected())
	})

	t.Run("concurrent writers never interleave frames", func(t *testing.T) {
		s, client := newPipeSession(t, 9)
		const n = 20

		received := make(chan []byte, n)
		go func() {
			pool := bufpool.NewDefault()
			for i := 0; i < n; i++ {
				f, err := frame.ReadFrame(client, pool, 0)
				if err != nil {
					return
				}
				received <- append([]byte(nil), f.Payload()...)
				f.Release()
			}
		}()

		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(b byte) {
				defer wg.Done()
				_ = s.WriteFrame(frame.Header{Tag: 1}, []byte{b, b, b, b})
			}(byte(i))
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			select {
			case body := <-received:
				require.Len(t, body, 4)
				assert.Equal(t, body[0], body[3])
			case <-time.After(2 * time.Second):
				t.Fatal("frames missing")
			}
		}
	})
}

func TestSession_Close(t *testing.T) {
	s, _ := newPipeSession(t, 1)

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, s.Connected())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
