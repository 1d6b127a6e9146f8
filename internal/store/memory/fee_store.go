package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// FeeStore implements domain.FeeStore in memory. The fee ledger is
// append-only; records are never mutated.
type FeeStore struct {
	mu      sync.RWMutex
	records []domain.FeeRecord
}

// NewFeeStore creates an empty FeeStore.
func NewFeeStore() *FeeStore {
	return &FeeStore{}
}

// Insert appends a fee record.
func (s *FeeStore) Insert(_ context.Context, rec domain.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.ID == rec.ID {
			return domain.ErrAlreadyExists
		}
	}
	s.records = append(s.records, rec)
	return nil
}

// ListByAgent returns an agent's fee records, newest first.
func (s *FeeStore) ListByAgent(_ context.Context, agentID string, opts domain.ListOpts) ([]domain.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.FeeRecord
	for _, rec := range s.records {
		if rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// ListSince returns fee records created at or after since, oldest first.
func (s *FeeStore) ListSince(_ context.Context, since time.Time, limit int) ([]domain.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.FeeRecord
	for _, rec := range s.records {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.FeeStore = (*FeeStore)(nil)
