package safemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[uint32, string]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Load(1)
	assert.False(t, ok)
}

func TestSafeMap_Store_Load(t *testing.T) {
	m := NewSafeMap[uint32, string]()

	t.Run("store and load returns value", func(t *testing.T) {
		m.Store(1, "a")
		v, ok := m.Load(1)
		assert.True(t, ok)
		assert.Equal(t, "a", v)
	})

	t.Run("overwrite returns new value", func(t *testing.T) {
		m.Store(1, "b")
		v, ok := m.Load(1)
		assert.True(t, ok)
		assert.Equal(t, "b", v)
	})

	t.Run("load missing key returns zero value and false", func(t *testing.T) {
		v, ok := m.Load(99)
		assert.False(t, ok)
		assert.Empty(t, v)
	})
}

func TestSafeMap_Swap(t *testing.T) {
	m := NewSafeMap[uint32, string]()

	t.Run("swap on missing key stores and reports not loaded", func(t *testing.T) {
		prev, loaded := m.Swap(7, "first")
		assert.False(t, loaded)
		assert.Empty(t, prev)
	})

	t.Run("swap on existing key returns previous value", func(t *testing.T) {
		prev, loaded := m.Swap(7, "second")
		assert.True(t, loaded)
		assert.Equal(t, "first", prev)

		v, _ := m.Load(7)
		assert.Equal(t, "second", v)
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[uint32, string]()

	v, loaded := m.LoadOrStore(1, "a")
	assert.False(t, loaded)
	assert.Equal(t, "a", v)

	v, loaded = m.LoadOrStore(1, "b")
	assert.True(t, loaded)
	assert.Equal(t, "a", v)
}

func TestSafeMap_CompareAndSwap(t *testing.T) {
	m := NewSafeMap[uint32, string]()
	m.Store(1, "a")

	assert.False(t, m.CompareAndSwap(1, "x", "b"))
	assert.True(t, m.CompareAndSwap(1, "a", "b"))

	v, _ := m.Load(1)
	assert.Equal(t, "b", v)
}

func TestSafeMap_CompareAndDelete(t *testing.T) {
	m := NewSafeMap[uint32, string]()
	m.Store(1, "a")

	t.Run("does not delete when value differs", func(t *testing.T) {
		assert.False(t, m.CompareAndDelete(1, "other"))
		assert.True(t, m.Has(1))
	})

	t.Run("deletes when value matches", func(t *testing.T) {
		assert.True(t, m.CompareAndDelete(1, "a"))
		assert.False(t, m.Has(1))
	})
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[uint32, int]()
	m.Store(3, 30)

	v, ok := m.LoadAndDelete(3)
	assert.True(t, ok)
	assert.Equal(t, 30, v)

	_, ok = m.LoadAndDelete(3)
	assert.False(t, ok)
}

func TestSafeMap_Delete_Range_Len(t *testing.T) {
	m := NewSafeMap[uint32, int]()
	for i := uint32(1); i <= 5; i++ {
		m.Store(i, int(i)*10)
	}

	m.Delete(3)
	m.Delete(100)
	assert.Equal(t, 4, m.Len())

	sum := 0
	m.Range(func(k uint32, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 10+20+40+50, sum)

	visited := 0
	m.Range(func(uint32, int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestSafeMap_Concurrent(t *testing.T) {
	t.Run("concurrent swaps leave exactly one value per key", func(t *testing.T) {
		m := NewSafeMap[uint32, int]()
		const n = 200

		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(v int) {
				defer wg.Done()
				m.Swap(42, v)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, m.Len())
		v, ok := m.Load(42)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, n)
	})
}
