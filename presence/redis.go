package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces presence keys.
const DefaultRedisPrefix = "netserve:presence"

// onlineScript stores ARGV[3] unless the stored record belongs to another
// connection (token ARGV[1]) that started after ARGV[2]. ARGV[4] is the TTL
// in milliseconds, 0 for none.
const onlineScript = `
	local v = redis.call("get", KEYS[1])
	if v then
		local cur = cjson.decode(v)
		if cur.token ~= ARGV[1] and tonumber(cur.since_us) > tonumber(ARGV[2]) then
			return 0
		end
	end
	local ttl = tonumber(ARGV[4])
	if ttl > 0 then
		redis.call("set", KEYS[1], ARGV[3], "PX", ttl)
	else
		redis.call("set", KEYS[1], ARGV[3])
	end
	return 1
`

// offlineScript deletes the record only while it still belongs to the
// connection identified by ARGV[1].
const offlineScript = `
	local v = redis.call("get", KEYS[1])
	if v and cjson.decode(v).token == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`

// RedisConfig configures a RedisTracker.
type RedisConfig struct {
	// Prefix is prepended to every key as "prefix:id".
	Prefix string
	// TTL bounds how long a record outlives a crashed server; 0 means no expiry.
	TTL time.Duration
}

// DefaultRedisConfig returns a RedisConfig with the default prefix and a
// ten minute TTL.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix: DefaultRedisPrefix,
		TTL:    10 * time.Minute,
	}
}

// RedisTracker stores presence records in Redis as JSON values with a TTL,
// so several processes can share one view of who is online.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	tracker := NewRedisTracker(client, DefaultRedisConfig())
type RedisTracker struct {
	client *redis.Client
	conf   RedisConfig
}

// NewRedisTracker creates a Redis-backed Tracker.
//
// Parameters:
//   - client: Connected go-redis client
//   - conf: Key prefix and TTL
//
// Returns:
//   - The tracker
func NewRedisTracker(client *redis.Client, conf RedisConfig) *RedisTracker {
	if conf.Prefix == "" {
		conf.Prefix = DefaultRedisPrefix
	}

	return &RedisTracker{client: client, conf: conf}
}

func (r *RedisTracker) key(id uint32) string {
	return r.conf.Prefix + ":" + strconv.FormatUint(uint64(id), 10)
}

// Online implements Tracker.
func (r *RedisTracker) Online(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	args := []any{rec.Token, rec.SinceMicro, data, r.conf.TTL.Milliseconds()}
	if err := r.client.Eval(ctx, onlineScript, []string{r.key(rec.SessionID)}, args...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to store presence record: %w", err)
	}

	return nil
}

// Offline implements Tracker.
func (r *RedisTracker) Offline(ctx context.Context, rec Record) error {
	err := r.client.Eval(ctx, offlineScript, []string{r.key(rec.SessionID)}, rec.Token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to remove presence record: %w", err)
	}

	return nil
}

// Lookup implements Tracker.
func (r *RedisTracker) Lookup(ctx context.Context, id uint32) (Record, bool, error) {
	val, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}

	if err != nil {
		return Record{}, false, fmt.Errorf("redis get error: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}

	return rec, true, nil
}

// Count implements Tracker. It walks the prefix with SCAN rather than KEYS.
func (r *RedisTracker) Count(ctx context.Context) (int, error) {
	prefix := r.conf.Prefix + ":"
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()

	count := 0
	for iter.Next(ctx) {
		if strings.HasPrefix(iter.Val(), prefix) {
			count++
		}
	}

	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("failed to scan presence keys: %w", err)
	}

	return count, nil
}
