// Package ratelimit defines per-caller request throttling.
package ratelimit

import (
	"context"
	"time"
)

// Config defines a GCRA limit: Rate events per Period with up to Burst at once.
type Config struct {
	Rate   int
	Burst  int
	Period time.Duration
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is when the next request will be allowed. Zero when allowed.
	RetryAfter time.Duration
	// ResetAfter is when the limit is fully replenished.
	ResetAfter time.Duration
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}

// IdentityKey is the limiter key for an authenticated identity.
func IdentityKey(identityID string) string {
	return "ratelimit:identity:" + identityID
}

// AddrKey is the limiter key for an unauthenticated remote address.
func AddrKey(addr string) string {
	return "ratelimit:addr:" + addr
}
