package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// IntentStore implements domain.IntentStore in memory. Transition is the
// CAS path: exactly one of any set of concurrent transitions on the same
// intent succeeds.
type IntentStore struct {
	mu      sync.RWMutex
	intents map[string]domain.TradingIntent
}

// NewIntentStore creates an empty IntentStore.
func NewIntentStore() *IntentStore {
	return &IntentStore{intents: make(map[string]domain.TradingIntent)}
}

// Create inserts a new intent.
func (s *IntentStore) Create(_ context.Context, intent domain.TradingIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intent.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.intents[intent.ID] = intent
	return nil
}

// GetByID returns an intent by ID.
func (s *IntentStore) GetByID(_ context.Context, id string) (domain.TradingIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intents[id]
	if !ok {
		return domain.TradingIntent{}, domain.ErrNotFound
	}
	return intent, nil
}

// ListOpen returns OPEN intents for an instrument, oldest first.
func (s *IntentStore) ListOpen(_ context.Context, instrument string, opts domain.ListOpts) ([]domain.TradingIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradingIntent
	for _, intent := range s.intents {
		if intent.Status != domain.IntentStatusOpen {
			continue
		}
		if instrument != "" && intent.Instrument != instrument {
			continue
		}
		out = append(out, intent)
	}
	sortByCreation(out)
	return paginate(out, opts), nil
}

// ListByAgent returns an agent's intents, newest first.
func (s *IntentStore) ListByAgent(_ context.Context, agentID string, opts domain.ListOpts) ([]domain.TradingIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradingIntent
	for _, intent := range s.intents {
		if intent.AgentID == agentID {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// ListOpenExpired returns OPEN intents whose expiry has passed at now.
func (s *IntentStore) ListOpenExpired(_ context.Context, now time.Time) ([]domain.TradingIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradingIntent
	for _, intent := range s.intents {
		if intent.Status == domain.IntentStatusOpen && intent.Expired(now) {
			out = append(out, intent)
		}
	}
	sortByCreation(out)
	return out, nil
}

// Transition compares (status, version) and advances the intent on match.
func (s *IntentStore) Transition(_ context.Context, id string, from, to domain.IntentStatus, version int64, matchedWith string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if intent.Status != from {
		return domain.ErrInvalidState
	}
	if intent.Version != version {
		return domain.ErrConflict
	}

	intent.Status = to
	intent.Version++
	if matchedWith != "" {
		intent.MatchedWith = matchedWith
	}
	s.intents[id] = intent
	return nil
}

func sortByCreation(intents []domain.TradingIntent) {
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.IntentStore = (*IntentStore)(nil)
