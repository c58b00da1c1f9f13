// Package bufpool provides the process-wide byte-buffer pool shared by the
// handshake, the per-frame reads and the frame writer. Buffers are rented as
// scoped handles and must be released on every exit path.
package bufpool

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrThresholdsRequired is returned when no size classes are given.
	ErrThresholdsRequired = errors.New("thresholds must not be empty")
	// ErrThresholdsNotSorted is returned when the size classes are not strictly ascending.
	ErrThresholdsNotSorted = errors.New("thresholds must be sorted in ascending order")
)

// DefaultThresholds covers the 16-byte header, small control frames and
// typical payloads up to 64 KiB.
var DefaultThresholds = []int{16, 64, 256, 1024, 4096, 16384, 65536}

// Pool is a size-classed slab pool on top of sync.Pool. Requests above the
// largest class are allocated directly and dropped on release.
type Pool struct {
	pools      []sync.Pool
	thresholds []int

	closed      atomic.Bool
	outstanding atomic.Int64
}

// New creates a Pool with one class per threshold.
//
// Parameters:
//   - thresholds: Class sizes in strictly ascending order, e.g. []int{256, 1024, 4096}
//
// Returns:
//   - The pool, or an error if thresholds are empty or unsorted
func New(thresholds []int) (*Pool, error) {
	if len(thresholds) == 0 {
		return nil, ErrThresholdsRequired
	}

	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, ErrThresholdsNotSorted
		}
	}

	p := &Pool{
		pools:      make([]sync.Pool, len(thresholds)),
		thresholds: slices.Clone(thresholds),
	}

	for i := range p.pools {
		size := p.thresholds[i]
		p.pools[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}

	return p, nil
}

// NewDefault creates a Pool using DefaultThresholds.
func NewDefault() *Pool {
	p, err := New(DefaultThresholds)
	if err != nil {
		panic("bufpool: invalid default thresholds: " + err.Error())
	}

	return p
}

// classFor returns the index of the smallest class that fits size, or -1.
func (p *Pool) classFor(size int) int {
	i := sort.SearchInts(p.thresholds, size)
	if i < len(p.thresholds) {
		return i
	}

	return -1
}

// Rent returns a buffer of exactly size bytes. After Close the pool keeps
// serving plain allocations so late callers never fail.
//
// Parameters:
//   - size: Required length in bytes
//
// Returns:
//   - A Buffer whose Release must be called exactly when the caller is done
func (p *Pool) Rent(size int) *Buffer {
	if size < 0 {
		size = 0
	}

	p.outstanding.Add(1)

	class := p.classFor(size)
	if class < 0 || p.closed.Load() {
		return &Buffer{pool: p, data: make([]byte, size), class: -1}
	}

	mem := p.pools[class].Get().(*[]byte)
	return &Buffer{pool: p, data: (*mem)[:size], mem: mem, class: class}
}

func (p *Pool) put(b *Buffer) {
	p.outstanding.Add(-1)

	if b.class < 0 || p.closed.Load() {
		return
	}

	full := (*b.mem)[:cap(*b.mem)]
	clear(full)
	*b.mem = full
	p.pools[b.class].Put(b.mem)
}

// Outstanding reports how many rented buffers have not been released yet.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Close disposes of the pool. Subsequent releases are dropped instead of
// being recycled. Close is idempotent.
//
// Returns:
//   - true if this call closed the pool
func (p *Pool) Close() bool {
	return p.closed.CompareAndSwap(false, true)
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Thresholds returns a copy of the size classes.
func (p *Pool) Thresholds() []int {
	return slices.Clone(p.thresholds)
}

// Buffer is a scoped handle to rented memory.
type Buffer struct {
	pool     *Pool
	data     []byte
	mem      *[]byte
	class    int
	released atomic.Bool
}

// Bytes returns the rented slice. It must not be used after Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the rented length.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Release returns the buffer to its pool. Extra calls are ignored, so it is
// safe to both defer Release and call it early.
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}

	b.data = nil
	b.pool.put(b)
}
