// Package service composes the registry, matcher, admission controller and
// settlement bridge into the operations the HTTP layer exposes. Services own
// cross-cutting checks (admission, ownership, signatures); domain rules live
// below them.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/crypto"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/registry"
)

// AgentService handles agent registration and lookup.
type AgentService struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewAgentService creates an AgentService.
func NewAgentService(reg *registry.Registry, logger *slog.Logger) *AgentService {
	return &AgentService{registry: reg, logger: logger}
}

// Register verifies that the caller controls the wallet via an EIP-191
// signature over message, then registers it. Registration is idempotent per
// wallet.
func (s *AgentService) Register(ctx context.Context, wallet, message, sigHex string) (domain.Agent, error) {
	if message == "" || sigHex == "" {
		return domain.Agent{}, fmt.Errorf("agent_service: message and signature required: %w", domain.ErrValidation)
	}
	if err := crypto.VerifySignature(wallet, []byte(message), sigHex); err != nil {
		s.logger.WarnContext(ctx, "agent_service: registration signature rejected",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return domain.Agent{}, fmt.Errorf("agent_service: verify wallet %q: %w", wallet, err)
	}

	agent, err := s.registry.RegisterAgent(ctx, wallet)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("agent_service: register: %w", err)
	}
	return agent, nil
}

// Get returns an agent by ID.
func (s *AgentService) Get(ctx context.Context, agentID string) (domain.Agent, error) {
	return s.registry.Agent(ctx, agentID)
}
