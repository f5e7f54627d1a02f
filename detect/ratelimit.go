package detect

import (
	"sync"
	"time"

	"warden/containment"
	"warden/metrics"

	"go.uber.org/zap"
)

// rateCounter is one source's fixed request window.
type rateCounter struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests per source in fixed windows and reports when
// a source exceeds the configured maximum. Exceeding signals lighter-weight
// enforcement (throttling), distinct from containment; the limiter itself
// never blocks anything.
type RateLimiter struct {
	mu       sync.Mutex
	counters map[string]*rateCounter
	max      int
	window   time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewRateLimiter builds a limiter allowing max requests per window.
func NewRateLimiter(max int, window time.Duration, logger *zap.SugaredLogger) *RateLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		counters: make(map[string]*rateCounter),
		max:      max,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// Exceeded records one request for the source and reports whether the
// source has gone over its window maximum. An elapsed window resets to
// count=1.
func (r *RateLimiter) Exceeded(source string) bool {
	norm := containment.Normalize(source)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[norm]
	if !ok || !now.Before(c.resetAt) {
		r.counters[norm] = &rateCounter{count: 1, resetAt: now.Add(r.window)}
		return false
	}

	c.count++
	if c.count <= r.max {
		return false
	}
	if c.count == r.max+1 {
		// First excess in this window.
		metrics.RateLimitHits.Inc()
		r.logger.Infow("Rate limit exceeded",
			"source", source,
			"normalized", norm,
			"count", c.count,
			"max", r.max,
			"window", r.window)
	}
	return true
}

// ActiveWindows reports how many sources have a window that has not yet
// elapsed.
func (r *RateLimiter) ActiveWindows() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, c := range r.counters {
		if now.Before(c.resetAt) {
			active++
		}
	}
	return active
}

// Purge removes counters whose window has elapsed and returns how many were
// removed. Called by the janitor.
func (r *RateLimiter) Purge() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, c := range r.counters {
		if !now.Before(c.resetAt) {
			delete(r.counters, key)
			removed++
		}
	}
	return removed
}
