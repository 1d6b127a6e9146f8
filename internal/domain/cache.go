package domain

import (
	"context"
	"time"
)

// PriceSource supplies the current mark price per instrument in micro-USD.
// The returned timestamp lets callers judge staleness; the source itself
// makes no freshness guarantee.
type PriceSource interface {
	Mark(ctx context.Context, instrument string) (price int64, at time.Time, err error)
}

// RateLimiter provides sliding-window rate limiting. When a request is not
// allowed, retryAfter is a positive hint for when the caller may retry.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// LockManager provides distributed locking for settlement-critical sections.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventPublisher emits settlement, liquidation and fee events to the audit
// stream. Implementations must be safe for concurrent use.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}
