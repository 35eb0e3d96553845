package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is per-owner token bucket rate limiting middleware. Buckets are
// keyed by the owner stored by Owner, so it must run after that middleware.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ownerLimiter
	rate      rate.Limit
	burst     int
	maxOwners int
	now       func() time.Time
}

type ownerLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing perSecond sustained requests
// and burst at once for each owner.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*ownerLimiter),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		maxOwners: 100000,
		now:       time.Now,
	}
}

// Handler returns HTTP middleware that rejects requests over the owner's
// budget with 429 and a Retry-After hint.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, ok := rl.allow(OwnerFromContext(r.Context()))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow consumes one token for owner. When refused it reports how long until
// a token is available.
func (rl *RateLimiter) allow(owner string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	ol, ok := rl.limiters[owner]
	if !ok {
		if len(rl.limiters) >= rl.maxOwners {
			return time.Second, false
		}
		ol = &ownerLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[owner] = ol
	}
	ol.lastSeen = now

	res := ol.lim.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// StartCleanup spawns a goroutine that forgets owners idle for longer than
// maxIdle, checking every interval. It stops when ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for owner, ol := range rl.limiters {
		if ol.lastSeen.Before(cutoff) {
			delete(rl.limiters, owner)
		}
	}
}

// Len returns the number of tracked owners.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
