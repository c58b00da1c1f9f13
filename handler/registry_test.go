package handler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pingFactory() Handler { return NewTyped[ping](1, frame.Binary, nil) }
func noteFactory() Handler { return NewTyped[note](2, frame.JSON, nil) }

func TestBuilder_Register(t *testing.T) {
	t.Run("valid registrations build cleanly", func(t *testing.T) {
		b := NewBuilder(logger.Nop())
		require.NoError(t, Register[ping](b, 1, pingFactory))
		require.NoError(t, Register[note](b, 2, noteFactory))

		r, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 2}, r.Tags())
		assert.Equal(t, 2, r.Len())
	})

	t.Run("first registration wins on duplicate tag", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, Register[ping](b, 1, pingFactory))
		err := Register[note](b, 1, noteFactory)
		assert.ErrorIs(t, err, ErrDuplicateTag)

		r, buildErr := b.Build()
		assert.ErrorIs(t, buildErr, ErrDuplicateTag)
		require.NotNil(t, r)

		_, isPing := r.Handler(1).(*Typed[ping])
		assert.True(t, isPing)
		assert.Nil(t, Lookup[note](r))
	})

	t.Run("first registration wins on duplicate payload type", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, Register[ping](b, 1, pingFactory))
		assert.ErrorIs(t, Register[ping](b, 3, pingFactory), ErrDuplicatePayload)

		r, err := b.Build()
		assert.ErrorIs(t, err, ErrDuplicatePayload)
		assert.Equal(t, []uint32{1}, r.Tags())
	})

	t.Run("reserved tag and nil factory are rejected", func(t *testing.T) {
		b := NewBuilder(nil)
		assert.ErrorIs(t, Register[ping](b, frame.TagNone, pingFactory), ErrReservedTag)
		assert.ErrorIs(t, b.RegisterTag(5, nil), ErrNilFactory)

		r, err := b.Build()
		assert.Error(t, err)
		assert.Equal(t, 0, r.Len())
	})
}

func TestRegistry_Handler(t *testing.T) {
	t.Run("unknown tag returns nil", func(t *testing.T) {
		r, err := NewBuilder(nil).Build()
		require.NoError(t, err)
		assert.Nil(t, r.Handler(99))
	})

	t.Run("instance is cached", func(t *testing.T) {
		var built atomic.Int32
		b := NewBuilder(nil)
		require.NoError(t, Register[ping](b, 1, func() Handler {
			built.Add(1)
			return pingFactory()
		}))
		r, _ := b.Build()

		first := r.Handler(1)
		second := r.Handler(1)
		assert.Same(t, first.(*Typed[ping]), second.(*Typed[ping]))
		assert.Equal(t, int32(1), built.Load())
	})

	t.Run("concurrent first use constructs exactly once", func(t *testing.T) {
		var built atomic.Int32
		b := NewBuilder(nil)
		require.NoError(t, Register[ping](b, 1, func() Handler {
			built.Add(1)
			return pingFactory()
		}))
		r, _ := b.Build()

		const n = 64
		got := make([]Handler, n)
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				got[i] = r.Handler(1)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), built.Load())
		for _, h := range got {
			assert.Same(t, got[0].(*Typed[ping]), h.(*Typed[ping]))
		}
	})

	t.Run("factory returning nil or wrong tag yields nil", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, b.RegisterTag(4, func() Handler { return nil }))
		require.NoError(t, b.RegisterTag(5, pingFactory))
		r, _ := b.Build()

		assert.Nil(t, r.Handler(4))
		assert.Nil(t, r.Handler(5))
	})

	t.Run("factory for another payload type yields nil", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, Register[note](b, 1, pingFactory))
		r, err := b.Build()
		require.NoError(t, err)

		assert.Nil(t, r.Handler(1))
		assert.Nil(t, r.HandlerFor(note{}))
		assert.Nil(t, Lookup[note](r))
	})

	t.Run("handler without a payload type is accepted under any type", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, Register[note](b, 7, func() Handler { return tagOnly(7) }))
		r, _ := b.Build()

		assert.Equal(t, tagOnly(7), r.Handler(7))
	})
}

// tagOnly is a Handler that does not implement PayloadTyper.
type tagOnly uint32

func (h tagOnly) Tag() uint32 { return uint32(h) }

func (tagOnly) Receive(context.Context, *Request) error { return nil }

func (tagOnly) Send(context.Context, *session.Session, any) error { return nil }

func TestRegistry_HandlerFor(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, Register[ping](b, 1, pingFactory))
	require.NoError(t, Register[note](b, 2, noteFactory))
	r, _ := b.Build()

	t.Run("resolves by value type", func(t *testing.T) {
		h := r.HandlerFor(ping{})
		require.NotNil(t, h)
		assert.Equal(t, uint32(1), h.Tag())
	})

	t.Run("resolves pointers to their element type", func(t *testing.T) {
		h := r.HandlerFor(&note{})
		require.NotNil(t, h)
		assert.Equal(t, uint32(2), h.Tag())
	})

	t.Run("unknown and nil payloads return nil", func(t *testing.T) {
		assert.Nil(t, r.HandlerFor("string payload"))
		assert.Nil(t, r.HandlerFor(nil))
	})

	t.Run("generic lookup", func(t *testing.T) {
		h := Lookup[note](r)
		require.NotNil(t, h)
		assert.Equal(t, uint32(2), h.Tag())
	})

	t.Run("receive-only registration has no payload mapping", func(t *testing.T) {
		b := NewBuilder(nil)
		require.NoError(t, b.RegisterTag(1, pingFactory))
		r, _ := b.Build()

		assert.NotNil(t, r.Handler(1))
		assert.Nil(t, r.HandlerFor(ping{}))
	})
}

func TestRegistry_Err(t *testing.T) {
	b := NewBuilder(nil)
	require.NoError(t, Register[ping](b, 1, pingFactory))
	r, err := b.Build()
	require.NoError(t, err)
	assert.NoError(t, r.Err())

	require.Error(t, b.RegisterTag(frame.TagNone, pingFactory))
	r, err = b.Build()
	assert.ErrorIs(t, err, ErrReservedTag)
	assert.ErrorIs(t, r.Err(), ErrReservedTag)
}
