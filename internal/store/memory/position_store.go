package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Create inserts a new position. An owner may hold at most one non-closed
// position per instrument.
func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.positions {
		if existing.Owner == p.Owner && existing.Instrument == p.Instrument &&
			existing.Status != domain.PositionStatusClosed {
			return domain.ErrAlreadyExists
		}
	}
	s.positions[p.ID] = p
	return nil
}

// GetByID returns a position by ID.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// GetOpenByOwner returns the non-closed position for an owner and
// instrument.
func (s *PositionStore) GetOpenByOwner(_ context.Context, owner, instrument string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.Owner == owner && p.Instrument == instrument && p.Status != domain.PositionStatusClosed {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

// ListOpen returns all positions in open state, oldest first.
func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Transition compares (status, version) and advances the position on match.
func (s *PositionStore) Transition(_ context.Context, id string, from, to domain.PositionStatus, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrInvalidState
	}
	if p.Version != version {
		return domain.ErrConflict
	}

	p.Status = to
	p.Version++
	s.positions[id] = p
	return nil
}

// SetRisk updates the liquidation-monitor risk state.
func (s *PositionStore) SetRisk(_ context.Context, id string, risk domain.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Risk = risk
	s.positions[id] = p
	return nil
}

// Close zeroes a position in closing state, recording the exit price and
// realized PnL.
func (s *PositionStore) Close(_ context.Context, id string, exitPrice, realizedPnL int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionStatusClosing {
		return domain.ErrInvalidState
	}

	now := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.Version++
	p.ClosedAt = &now
	p.ExitPrice = &exitPrice
	p.RealizedPnL = &realizedPnL
	s.positions[id] = p
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
