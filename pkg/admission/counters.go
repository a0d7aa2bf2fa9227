package admission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore maintains fixed-window request counters keyed
// (ip, pattern, method). Increments must be atomic under contention.
type CounterStore interface {
	// Incr bumps the counter for the window containing now and returns the
	// post-increment count plus the window's start epoch seconds.
	Incr(ctx context.Context, key string, windowSeconds int, now time.Time) (count int64, windowStart int64, err error)
	// Purge drops all live counters whose key starts with prefix; used when
	// a rule is deleted or updated.
	Purge(ctx context.Context, prefix string) error
}

// CounterKey builds the canonical counter key for a client and rule.
func CounterKey(ip, pattern, method string) string {
	return fmt.Sprintf("%s|%s|%s", ip, pattern, method)
}

// RuleKeyPrefix matches every client's counters for a rule.
func RuleKeyPrefix(pattern, method string) string {
	return fmt.Sprintf("|%s|%s", pattern, method)
}

// MemoryCounterStore is the in-process fallback counter store. Entries from
// past windows are dropped lazily on access and swept periodically.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
}

type memCounter struct {
	windowStart int64
	count       int64
}

// NewMemoryCounterStore creates the store and starts the sweep goroutine.
func NewMemoryCounterStore() *MemoryCounterStore {
	s := &MemoryCounterStore{counters: make(map[string]*memCounter)}
	go s.sweep()
	return s
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, windowSeconds int, now time.Time) (int64, int64, error) {
	windowStart := now.Unix() - now.Unix()%int64(windowSeconds)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.windowStart != windowStart {
		c = &memCounter{windowStart: windowStart}
		s.counters[key] = c
	}
	c.count++
	return c.count, windowStart, nil
}

// Purge implements CounterStore.
func (s *MemoryCounterStore) Purge(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		if strings.Contains(k, prefix) {
			delete(s.counters, k)
		}
	}
	return nil
}

// sweep drops counters whose window ended more than a day ago.
func (s *MemoryCounterStore) sweep() {
	for {
		time.Sleep(time.Minute)
		cutoff := time.Now().Unix() - 86400
		s.mu.Lock()
		for k, c := range s.counters {
			if c.windowStart < cutoff {
				delete(s.counters, k)
			}
		}
		s.mu.Unlock()
	}
}

// redisFixedWindowScript increments a window-scoped counter atomically and
// sets its expiry to the window length on first touch.
// KEYS[1] = counter key (already window-scoped)
// ARGV[1] = window seconds
var redisFixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return count
`)

// RedisCounterStore shares fixed-window counters across replicas.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a store over an existing Redis client.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Incr implements CounterStore.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, windowSeconds int, now time.Time) (int64, int64, error) {
	windowStart := now.Unix() - now.Unix()%int64(windowSeconds)
	redisKey := fmt.Sprintf("admit:%s:%d", key, windowStart)

	res, err := redisFixedWindowScript.Run(ctx, s.client, []string{redisKey}, windowSeconds).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("admission: redis counter: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, 0, fmt.Errorf("admission: unexpected redis reply %T", res)
	}
	return count, windowStart, nil
}

// Purge implements CounterStore.
func (s *RedisCounterStore) Purge(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, "admit:*"+prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("admission: purge counters: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("admission: purge scan: %w", err)
	}
	return nil
}
