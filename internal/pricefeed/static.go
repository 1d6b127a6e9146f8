// Package pricefeed provides PriceSource implementations. Price acquisition
// itself is external; production deployments read marks a feed process
// writes into the Redis price cache, and dev mode uses the static source.
package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

type entry struct {
	price int64
	at    time.Time
}

// Static is an in-process PriceSource with settable marks.
type Static struct {
	mu    sync.RWMutex
	marks map[string]entry
}

// NewStatic creates a Static source with the given initial marks in
// micro-USD.
func NewStatic(initial map[string]int64) *Static {
	s := &Static{marks: make(map[string]entry, len(initial))}
	now := time.Now().UTC()
	for instrument, price := range initial {
		s.marks[instrument] = entry{price: price, at: now}
	}
	return s
}

// Set updates an instrument's mark price.
func (s *Static) Set(instrument string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[instrument] = entry{price: price, at: time.Now().UTC()}
}

// Mark returns the instrument's current mark price.
func (s *Static) Mark(_ context.Context, instrument string) (int64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.marks[instrument]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("pricefeed: no mark for %q: %w", instrument, domain.ErrNotFound)
	}
	return e.price, e.at, nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*Static)(nil)
