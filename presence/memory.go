package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryTracker keeps presence records in process memory using go-cache.
// Records expire after ttl unless refreshed by another Online call.
type MemoryTracker struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryTracker creates an in-memory Tracker.
//
// Parameters:
//   - ttl: Lifetime of a record without refresh; cache.NoExpiration (-1) or 0 keeps records until Offline
//   - cleanupInterval: How often expired records are purged
//
// Returns:
//   - The tracker
func NewMemoryTracker(ttl, cleanupInterval time.Duration) *MemoryTracker {
	if ttl == 0 {
		ttl = cache.NoExpiration
	}

	return &MemoryTracker{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

func memoryKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Online implements Tracker.
func (m *MemoryTracker) Online(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(rec.SessionID)
	if v, ok := m.cache.Get(key); ok && v.(Record).supersedes(rec) {
		return nil
	}

	m.cache.Set(key, rec, m.ttl)
	return nil
}

// Offline implements Tracker.
func (m *MemoryTracker) Offline(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(rec.SessionID)
	if v, ok := m.cache.Get(key); ok && v.(Record).Token == rec.Token {
		m.cache.Delete(key)
	}

	return nil
}

// Lookup implements Tracker.
func (m *MemoryTracker) Lookup(ctx context.Context, id uint32) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	v, ok := m.cache.Get(memoryKey(id))
	if !ok {
		return Record{}, false, nil
	}

	return v.(Record), true, nil
}

// Count implements Tracker.
func (m *MemoryTracker) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return m.cache.ItemCount(), nil
}
