package gateway

import (
	"sync"
	"time"
)

// RateLimiter implements per-remote rate limiting with a sliding one-minute
// window.
type RateLimiter struct {
	limits          map[string][]int64
	maxPerMin       int
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:          make(map[string][]int64),
		maxPerMin:       maxRequestsPerMinute,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.startCleanup()

	return rl
}

// Allow reports whether a request from the given remote is inside its limit
// and records it when it is.
func (rl *RateLimiter) Allow(remote string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	valid := rl.trim(rl.limits[remote], now)

	if len(valid) >= rl.maxPerMin {
		rl.limits[remote] = valid
		return false
	}

	rl.limits[remote] = append(valid, now)
	return true
}

// RetryAfter returns the seconds until the remote's oldest request leaves
// the window.
func (rl *RateLimiter) RetryAfter(remote string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	requests := rl.limits[remote]
	if len(requests) == 0 {
		return 0
	}

	now := time.Now().UnixMilli()
	retryMs := 60000 - (now - requests[0])
	if retryMs < 0 {
		return 0
	}
	return int((retryMs + 999) / 1000)
}

// trim drops timestamps older than one minute.
func (rl *RateLimiter) trim(requests []int64, now int64) []int64 {
	valid := requests[:0]
	for _, ts := range requests {
		if now-ts < 60000 {
			valid = append(valid, ts)
		}
	}
	return valid
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	for remote, requests := range rl.limits {
		valid := rl.trim(requests, now)
		if len(valid) == 0 {
			delete(rl.limits, remote)
		} else {
			rl.limits[remote] = valid
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
