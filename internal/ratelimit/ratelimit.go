package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripletake/tripletake/internal/logger"
)

// RateLimiter limits how frequently a key (owner id) may perform requests.
type RateLimiter interface {
	// Allow returns true if the request for the given key is allowed
	Allow(key string) bool

	// AllowN returns true if n requests for the given key are allowed
	AllowN(key string, n int) bool
}

// InMemoryRateLimiter implements per-key token buckets in memory.
type InMemoryRateLimiter struct {
	limiters   sync.Map // key -> *keyLimiter
	rps        rate.Limit
	burst      int
	cleanupAge time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

// NewInMemoryRateLimiter creates a rate limiter allowing rps requests per
// second with the given burst. Idle buckets are evicted after cleanupAge.
func NewInMemoryRateLimiter(rps float64, burst int, cleanupAge time.Duration) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		cleanupAge: cleanupAge,
		stopCh:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *InMemoryRateLimiter) Allow(key string) bool {
	return rl.AllowN(key, 1)
}

func (rl *InMemoryRateLimiter) AllowN(key string, n int) bool {
	kl := rl.getLimiter(key)

	kl.mu.Lock()
	kl.lastAccess = time.Now()
	kl.mu.Unlock()

	return kl.limiter.AllowN(time.Now(), n)
}

func (rl *InMemoryRateLimiter) getLimiter(key string) *keyLimiter {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*keyLimiter)
	}

	kl := &keyLimiter{
		limiter:    rate.NewLimiter(rl.rps, rl.burst),
		lastAccess: time.Now(),
	}

	actual, _ := rl.limiters.LoadOrStore(key, kl)
	return actual.(*keyLimiter)
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupAge)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupOldLimiters()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *InMemoryRateLimiter) cleanupOldLimiters() {
	cutoff := time.Now().Add(-rl.cleanupAge)
	removed := 0

	rl.limiters.Range(func(key, value any) bool {
		kl := value.(*keyLimiter)

		kl.mu.Lock()
		stale := kl.lastAccess.Before(cutoff)
		kl.mu.Unlock()

		if stale {
			rl.limiters.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		logger.Debug("rate limiter cleanup removed stale buckets", "removed", removed)
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *InMemoryRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}
