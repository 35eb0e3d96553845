package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/stratos/internal/port/cache"
)

// Tiered reads L1 then L2, backfilling L1 on an L2 hit. L2 is best effort:
// its failures are logged and reported as misses so a broker outage never
// fails a read.
type Tiered struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// NewTiered combines l1 and l2. l1Expire bounds how long backfilled entries
// live in L1.
func NewTiered(l1, l2 cache.Cache, l1Expire time.Duration) *Tiered {
	return &Tiered{l1: l1, l2: l2, l1Expire: l1Expire}
}

func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return val, true, nil
	}

	val, ok, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	_ = c.l1.Set(ctx, key, val, c.l1Expire)
	return val, true, nil
}

func (c *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("l2 cache set failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes key from both levels. An L2 failure is returned so callers
// invalidating stale data can react.
func (c *Tiered) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
