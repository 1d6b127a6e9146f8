package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/admission"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/bridge"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/registry"
)

// CollateralService moves collateral between agents and the ledger.
type CollateralService struct {
	bridge    *bridge.Bridge
	registry  *registry.Registry
	fees      domain.FeeStore
	admission *admission.Controller
	logger    *slog.Logger
}

// NewCollateralService creates a CollateralService.
func NewCollateralService(
	b *bridge.Bridge,
	reg *registry.Registry,
	fees domain.FeeStore,
	adm *admission.Controller,
	logger *slog.Logger,
) *CollateralService {
	return &CollateralService{
		bridge:    b,
		registry:  reg,
		fees:      fees,
		admission: adm,
		logger:    logger,
	}
}

// Deposit credits the agent's collateral account and returns the ledger
// transaction reference.
func (s *CollateralService) Deposit(ctx context.Context, agentID string, amount int64) (string, time.Duration, error) {
	if retryAfter, err := s.admission.Admit(ctx, agentID); err != nil {
		return "", retryAfter, err
	}
	txRef, err := s.bridge.Deposit(ctx, agentID, amount)
	if err != nil {
		return "", 0, fmt.Errorf("collateral_service: deposit: %w", err)
	}
	return txRef, 0, nil
}

// Withdraw debits the agent's collateral account. Overdrafts are rejected by
// the ledger and surface as insufficient funds.
func (s *CollateralService) Withdraw(ctx context.Context, agentID string, amount int64) (string, time.Duration, error) {
	if retryAfter, err := s.admission.Admit(ctx, agentID); err != nil {
		return "", retryAfter, err
	}
	txRef, err := s.bridge.Withdraw(ctx, agentID, amount)
	if err != nil {
		return "", 0, fmt.Errorf("collateral_service: withdraw: %w", err)
	}
	return txRef, 0, nil
}

// Balance reads the agent's on-ledger collateral balance in micro-USD.
func (s *CollateralService) Balance(ctx context.Context, agentID string) (int64, error) {
	agent, err := s.registry.Agent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	balance, err := s.bridge.CollateralBalance(ctx, agent.Wallet)
	if err != nil {
		return 0, fmt.Errorf("collateral_service: balance: %w", err)
	}
	return balance, nil
}

// Fees returns the agent's fee ledger entries, newest first.
func (s *CollateralService) Fees(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.FeeRecord, error) {
	records, err := s.fees.ListByAgent(ctx, agentID, opts)
	if err != nil {
		return nil, fmt.Errorf("collateral_service: fees for %q: %w", agentID, err)
	}
	return records, nil
}
