package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// MatchStore implements domain.MatchStore in memory.
type MatchStore struct {
	mu      sync.RWMutex
	matches map[string]domain.Match
}

// NewMatchStore creates an empty MatchStore.
func NewMatchStore() *MatchStore {
	return &MatchStore{matches: make(map[string]domain.Match)}
}

// Create inserts a new match.
func (s *MatchStore) Create(_ context.Context, m domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.matches[m.ID] = m
	return nil
}

// GetByID returns a match by ID.
func (s *MatchStore) GetByID(_ context.Context, id string) (domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	return m, nil
}

// UpdateStatus advances a match's status, recording the transaction
// reference and execution time where applicable.
func (s *MatchStore) UpdateStatus(_ context.Context, id string, status domain.MatchStatus, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return domain.ErrNotFound
	}

	m.Status = status
	if txRef != "" {
		m.LedgerTxRef = txRef
	}
	if status == domain.MatchStatusExecuted {
		now := time.Now().UTC()
		m.ExecutedAt = &now
	}
	s.matches[id] = m
	return nil
}

// ListRecent returns the newest matches up to limit.
func (s *MatchStore) ListRecent(_ context.Context, limit int) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Match, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.MatchStore = (*MatchStore)(nil)
