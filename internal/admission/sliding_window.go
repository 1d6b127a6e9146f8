package admission

import (
	"context"
	"sync"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// SlidingWindow is an in-process sliding-window rate limiter used in dev
// mode and in tests. Production deployments use the Redis-backed limiter so
// limits hold across replicas.
type SlidingWindow struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewSlidingWindow creates an in-memory limiter.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Allow records a hit for key unless the window is already full. When full,
// retryAfter is the time until the oldest in-window hit expires.
func (s *SlidingWindow) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	kept := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		s.hits[key] = kept
		return false, kept[0].Sub(cutoff), nil
	}

	s.hits[key] = append(kept, now)
	return true, 0, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*SlidingWindow)(nil)
