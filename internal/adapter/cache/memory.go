// Package cache implements the cache port: a ristretto in-process L1, a
// NATS JetStream KV or Redis L2, and a tiered combination.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Memory is an in-process cache bounded by total value size.
type Memory struct {
	c *ristretto.Cache[string, []byte]
}

// NewMemory creates a ristretto-backed cache holding at most maxBytes of values.
func NewMemory(maxBytes int64) (*Memory, error) {
	if maxBytes < 1<<20 {
		maxBytes = 1 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// task snapshots are ~1 KiB; ten counters per expected entry
		NumCounters: maxBytes / 1024 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{c: c}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := m.c.Get(key)
	return val, ok, nil
}

// Set admits the value asynchronously; Wait makes it visible to Get.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Del(key)
	return nil
}

// Wait blocks until pending Sets are applied.
func (m *Memory) Wait() { m.c.Wait() }

// Close releases the cache's background goroutines.
func (m *Memory) Close() { m.c.Close() }
