package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/querygate/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter with GCRA over an in-memory map
// of theoretical arrival times. A background loop evicts idle keys.
type RateLimiter struct {
	cells           map[string]time.Time
	mu              sync.Mutex
	now             func() time.Time
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

// NewRateLimiter creates a limiter that sweeps every 5 minutes and forgets
// keys idle for an hour.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, time.Hour)
}

// NewRateLimiterWithConfig creates a limiter with custom cleanup settings.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		cells:           make(map[string]time.Time),
		now:             time.Now,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
	}
}

// Allow spends one unit for key.
func (r *RateLimiter) Allow(_ context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	emission := cfg.Period / time.Duration(cfg.Rate)
	burstOffset := time.Duration(cfg.Burst) * emission

	tat, ok := r.cells[key]
	if !ok || tat.Before(now) {
		tat = now
	}
	newTAT := tat.Add(emission)
	allowAt := newTAT.Add(-burstOffset)
	if now.Before(allowAt) {
		return ratelimit.Result{
			RetryAfter: allowAt.Sub(now),
			ResetAfter: tat.Sub(now),
		}, nil
	}
	r.cells[key] = newTAT

	remaining := 0
	if emission > 0 {
		remaining = int((burstOffset - newTAT.Sub(now)) / emission)
	}
	return ratelimit.Result{
		Allowed:    true,
		Remaining:  max(0, min(remaining, cfg.Burst)),
		ResetAfter: newTAT.Sub(now),
	}, nil
}

// StartCleanup runs the eviction loop until ctx is done or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	cleaned := 0
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed", "cleaned_keys", cleaned, "remaining_keys", len(r.cells))
	}
}

// Stop ends the cleanup loop and waits for it. Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
