package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/admission"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/metrics"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/registry"
)

// IntentService handles the intent lifecycle up to matching.
type IntentService struct {
	registry  *registry.Registry
	intents   domain.IntentStore
	admission *admission.Controller
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewIntentService creates an IntentService.
func NewIntentService(
	reg *registry.Registry,
	intents domain.IntentStore,
	adm *admission.Controller,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IntentService {
	return &IntentService{
		registry:  reg,
		intents:   intents,
		admission: adm,
		metrics:   m,
		logger:    logger,
	}
}

// Submit admits and records a new intent for the agent.
func (s *IntentService) Submit(ctx context.Context, agentID string, p registry.IntentParams) (domain.TradingIntent, time.Duration, error) {
	if retryAfter, err := s.admission.Admit(ctx, agentID); err != nil {
		s.metrics.RateLimited()
		return domain.TradingIntent{}, retryAfter, err
	}

	intent, err := s.registry.SubmitIntent(ctx, agentID, p)
	if err != nil {
		return domain.TradingIntent{}, 0, err
	}
	s.metrics.IntentSubmitted()
	return intent, 0, nil
}

// Cancel cancels an OPEN intent owned by the agent.
func (s *IntentService) Cancel(ctx context.Context, agentID, intentID string) error {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return fmt.Errorf("intent_service: intent %q: %w", intentID, domain.ErrUnknownIntent)
	}
	if intent.AgentID != agentID {
		return fmt.Errorf("intent_service: intent %q not owned by agent %q: %w", intentID, agentID, domain.ErrValidation)
	}
	return s.registry.CancelIntent(ctx, intentID)
}

// Get returns an intent by ID.
func (s *IntentService) Get(ctx context.Context, intentID string) (domain.TradingIntent, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return domain.TradingIntent{}, fmt.Errorf("intent_service: intent %q: %w", intentID, domain.ErrUnknownIntent)
	}
	return intent, nil
}

// ListByAgent returns an agent's intents with pagination.
func (s *IntentService) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.TradingIntent, error) {
	intents, err := s.intents.ListByAgent(ctx, agentID, opts)
	if err != nil {
		return nil, fmt.Errorf("intent_service: list for agent %q: %w", agentID, err)
	}
	return intents, nil
}

// ListOpen returns open intents for an instrument in FIFO order.
func (s *IntentService) ListOpen(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.TradingIntent, error) {
	intents, err := s.intents.ListOpen(ctx, instrument, opts)
	if err != nil {
		return nil, fmt.Errorf("intent_service: list open for %q: %w", instrument, err)
	}
	return intents, nil
}
