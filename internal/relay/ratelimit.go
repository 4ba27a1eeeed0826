package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per sync token. Buckets unused for
// maxAge are dropped by a cleanup goroutine until Stop is called.
type RateLimiter struct {
	rate  rate.Limit
	burst int

	limiters   sync.Map // token → *rate.Limiter
	lastAccess sync.Map // token → time.Time

	cleanupInterval time.Duration
	maxAge          time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter allows rps publishes per second per token with bursts of burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	l := &RateLimiter{
		rate:            rate.Limit(rps),
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		maxAge:          10 * time.Minute,
		stop:            make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether token may publish now.
func (l *RateLimiter) Allow(token string) bool {
	l.lastAccess.Store(token, time.Now())
	return l.limiter(token).Allow()
}

func (l *RateLimiter) limiter(token string) *rate.Limiter {
	if v, ok := l.limiters.Load(token); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(token, rate.NewLimiter(l.rate, l.burst))
	return v.(*rate.Limiter)
}

func (l *RateLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-l.maxAge)
			l.lastAccess.Range(func(k, v any) bool {
				if v.(time.Time).Before(cutoff) {
					l.limiters.Delete(k)
					l.lastAccess.Delete(k)
				}
				return true
			})
		case <-l.stop:
			return
		}
	}
}

// Stop ends the cleanup goroutine.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
