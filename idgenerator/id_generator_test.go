package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("returns non-nil generator", func(t *testing.T) {
		gen := NewIdGenerator(0)
		require.NotNil(t, gen)
	})

	t.Run("first Id returns startValue+1 when startValue is 0", func(t *testing.T) {
		gen := NewIdGenerator(0)
		assert.Equal(t, uint32(1), gen.Id())
	})

	t.Run("first Id returns startValue+1 when startValue is non-zero", func(t *testing.T) {
		gen := NewIdGenerator(100)
		assert.Equal(t, uint32(101), gen.Id())
	})

	t.Run("wrap around skips zero", func(t *testing.T) {
		gen := NewIdGenerator(^uint32(0))
		assert.Equal(t, uint32(1), gen.Id())
	})
}

func TestIdGenerator_Peek(t *testing.T) {
	gen := NewIdGenerator(10)
	assert.Equal(t, uint32(10), gen.Peek())

	gen.Id()
	assert.Equal(t, uint32(11), gen.Peek())
}

func TestIdGenerator_Id_concurrent(t *testing.T) {
	t.Run("concurrent Id calls produce unique non-zero ids", func(t *testing.T) {
		gen := NewIdGenerator(0)
		const n = 500
		ids := make([]uint32, n)

		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(idx int) {
				defer wg.Done()
				ids[idx] = gen.Id()
			}(i)
		}
		wg.Wait()

		seen := make(map[uint32]bool)
		for _, id := range ids {
			assert.NotZero(t, id)
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
	})
}
