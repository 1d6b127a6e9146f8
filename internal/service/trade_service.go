package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/admission"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/bridge"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/matcher"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/metrics"
)

// TradeService drives an intent from acceptance through ledger settlement.
type TradeService struct {
	matcher   *matcher.Matcher
	bridge    *bridge.Bridge
	intents   domain.IntentStore
	positions domain.PositionStore
	prices    domain.PriceSource
	admission *admission.Controller
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(
	m *matcher.Matcher,
	b *bridge.Bridge,
	intents domain.IntentStore,
	positions domain.PositionStore,
	prices domain.PriceSource,
	adm *admission.Controller,
	met *metrics.Metrics,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		matcher:   m,
		bridge:    b,
		intents:   intents,
		positions: positions,
		prices:    prices,
		admission: adm,
		metrics:   met,
		logger:    logger,
	}
}

// Accept matches the agent's open intent against a counterparty and settles
// the match on the ledger. With an empty candidateID the best-ranked
// compatible intent is chosen. The returned match reflects the final
// settlement state.
func (s *TradeService) Accept(ctx context.Context, agentID, intentID, candidateID string) (domain.Match, time.Duration, error) {
	if retryAfter, err := s.admission.Admit(ctx, agentID); err != nil {
		s.metrics.RateLimited()
		return domain.Match{}, retryAfter, err
	}

	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return domain.Match{}, 0, fmt.Errorf("trade_service: intent %q: %w", intentID, domain.ErrUnknownIntent)
	}
	if intent.AgentID != agentID {
		return domain.Match{}, 0, fmt.Errorf("trade_service: intent %q not owned by agent %q: %w", intentID, agentID, domain.ErrValidation)
	}

	if candidateID == "" {
		candidates, err := s.matcher.FindCandidates(ctx, intent)
		if err != nil {
			return domain.Match{}, 0, fmt.Errorf("trade_service: find candidates: %w", err)
		}
		if len(candidates) == 0 {
			return domain.Match{}, 0, fmt.Errorf("trade_service: no compatible counterparty for intent %q: %w", intentID, domain.ErrNotFound)
		}
		candidateID = candidates[0].ID
	}

	match, err := s.matcher.Match(ctx, intentID, candidateID)
	if err != nil {
		return domain.Match{}, 0, err
	}

	if err := s.bridge.SettleMatch(ctx, match.ID); err != nil {
		// The bridge has already failed the match and released the intents;
		// surface the settlement error with the match for inspection.
		failed, getErr := s.bridge.Match(ctx, match.ID)
		if getErr == nil {
			match = failed
		}
		return match, 0, fmt.Errorf("trade_service: settle match %q: %w", match.ID, err)
	}

	settled, err := s.bridge.Match(ctx, match.ID)
	if err != nil {
		return match, 0, nil
	}
	return settled, 0, nil
}

// Close submits a full close for the agent's position at the current mark.
func (s *TradeService) Close(ctx context.Context, agentID, positionID string) (domain.Position, error) {
	if _, err := s.admission.Admit(ctx, agentID); err != nil {
		s.metrics.RateLimited()
		return domain.Position{}, err
	}

	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: position %q: %w", positionID, domain.ErrNotFound)
	}
	if pos.AgentID != agentID {
		return domain.Position{}, fmt.Errorf("trade_service: position %q not owned by agent %q: %w", positionID, agentID, domain.ErrValidation)
	}

	mark, _, err := s.prices.Mark(ctx, pos.Instrument)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: mark price for %s: %w", pos.Instrument, err)
	}

	if _, err := s.bridge.ClosePosition(ctx, positionID, mark, false); err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: close position %q: %w", positionID, err)
	}

	closed, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: reload position %q: %w", positionID, err)
	}
	return closed, nil
}

// Position returns a single position by ID.
func (s *TradeService) Position(ctx context.Context, positionID string) (domain.Position, error) {
	return s.bridge.Position(ctx, positionID)
}

// OpenPosition returns the live position for an owner wallet and instrument.
func (s *TradeService) OpenPosition(ctx context.Context, owner, instrument string) (domain.Position, error) {
	pos, err := s.positions.GetOpenByOwner(ctx, owner, instrument)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: open position for %s/%s: %w", owner, instrument, err)
	}
	return pos, nil
}
