package dagnode

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiters is the process-local token-bucket registry backing the
// rate_limiter node. Buckets are keyed by the caller's key string; the
// rate_limiter node keys by (endpoint id, key source, client key), so two
// rate nodes on one endpoint with the same key source share a bucket, and
// the bucket keeps the budget it was created with.
type Limiters struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	maxSize  int
}

// NewLimiters creates a limiter registry bounded at maxSize buckets.
func NewLimiters(maxSize int) *Limiters {
	if maxSize <= 0 {
		maxSize = 100000
	}
	return &Limiters{
		limiters: make(map[string]*rate.Limiter),
		maxSize:  maxSize,
	}
}

// Allow consumes one token from the bucket identified by key, creating it
// with the given per-minute budget on first sight.
func (l *Limiters) Allow(key string, requestsPerMinute int) bool {
	if requestsPerMinute <= 0 {
		return true
	}

	l.mu.RLock()
	limiter, ok := l.limiters[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		limiter, ok = l.limiters[key]
		if !ok {
			if len(l.limiters) >= l.maxSize {
				// Reset rather than grow unbounded; buckets refill fast.
				l.limiters = make(map[string]*rate.Limiter)
			}
			limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
			l.limiters[key] = limiter
		}
		l.mu.Unlock()
	}

	return limiter.AllowN(time.Now(), 1)
}

// Count returns the number of live buckets.
func (l *Limiters) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}
