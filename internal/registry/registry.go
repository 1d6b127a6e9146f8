// Package registry is the authoritative record of agents, intents, and their
// status transitions. All mutations go through per-entity compare-and-swap
// on (status, version) rather than a global lock, so unrelated agents are
// never serialized against each other and no two concurrent transitions on
// the same intent can both succeed.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// initialReputation is assigned to newly registered agents.
const initialReputation = 0.5

// IntentParams are the caller-supplied fields of a new intent.
type IntentParams struct {
	Direction     domain.Direction
	Instrument    string
	SizeUSD       int64 // micro-USD
	Leverage      int
	MaxSlipBps    int
	MinCounterRep float64
	TTL           time.Duration
}

// Registry coordinates agent and intent state.
type Registry struct {
	agents      domain.AgentStore
	intents     domain.IntentStore
	prices      domain.PriceSource
	instruments map[string]domain.Instrument
	logger      *slog.Logger
}

// New creates a Registry over the given stores and price source.
func New(
	agents domain.AgentStore,
	intents domain.IntentStore,
	prices domain.PriceSource,
	instruments []domain.Instrument,
	logger *slog.Logger,
) *Registry {
	bySymbol := make(map[string]domain.Instrument, len(instruments))
	for _, ins := range instruments {
		bySymbol[ins.Symbol] = ins
	}
	return &Registry{
		agents:      agents,
		intents:     intents,
		prices:      prices,
		instruments: bySymbol,
		logger:      logger,
	}
}

// Instrument resolves a symbol to its definition.
func (r *Registry) Instrument(symbol string) (domain.Instrument, bool) {
	ins, ok := r.instruments[symbol]
	return ins, ok
}

// RegisterAgent registers a wallet as a trading agent. Registration is
// idempotent per wallet: a second call returns the existing agent.
func (r *Registry) RegisterAgent(ctx context.Context, wallet string) (domain.Agent, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return domain.Agent{}, fmt.Errorf("registry: empty wallet: %w", domain.ErrValidation)
	}

	if existing, err := r.agents.GetByWallet(ctx, wallet); err == nil {
		return existing, nil
	}

	now := time.Now().UTC()
	agent := domain.Agent{
		ID:         uuid.New().String(),
		Wallet:     wallet,
		Status:     domain.AgentStatusActive,
		Reputation: initialReputation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.agents.Create(ctx, agent); err != nil {
		// A concurrent registration for the same wallet may have won the
		// race; idempotency means returning that agent.
		if existing, getErr := r.agents.GetByWallet(ctx, wallet); getErr == nil {
			return existing, nil
		}
		return domain.Agent{}, fmt.Errorf("registry: create agent: %w", err)
	}

	r.logger.InfoContext(ctx, "registry: agent registered",
		slog.String("agent_id", agent.ID),
		slog.String("wallet", wallet),
	)
	return agent, nil
}

// SubmitIntent validates and records a new OPEN intent for the agent. The
// mark price at submission is captured as the intent's slippage reference; a
// stale or unavailable price source is tolerated by leaving the reference
// unset, which disables the slippage clamp for this intent.
func (r *Registry) SubmitIntent(ctx context.Context, agentID string, p IntentParams) (domain.TradingIntent, error) {
	agent, err := r.agents.GetByID(ctx, agentID)
	if err != nil {
		return domain.TradingIntent{}, fmt.Errorf("registry: agent %q: %w", agentID, domain.ErrUnknownAgent)
	}
	if !agent.CanTrade() {
		return domain.TradingIntent{}, fmt.Errorf("registry: agent %q is %s: %w", agentID, agent.Status, domain.ErrValidation)
	}

	ins, ok := r.instruments[p.Instrument]
	if !ok {
		return domain.TradingIntent{}, fmt.Errorf("registry: unknown instrument %q: %w", p.Instrument, domain.ErrValidation)
	}
	if err := validateParams(p, ins); err != nil {
		return domain.TradingIntent{}, err
	}

	var refPrice int64
	if mark, _, priceErr := r.prices.Mark(ctx, p.Instrument); priceErr == nil {
		refPrice = mark
	} else {
		r.logger.WarnContext(ctx, "registry: no mark price at submission, slippage clamp disabled",
			slog.String("instrument", p.Instrument),
			slog.String("error", priceErr.Error()),
		)
	}

	now := time.Now().UTC()
	intent := domain.TradingIntent{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		Direction:     p.Direction,
		Instrument:    p.Instrument,
		SizeUSD:       p.SizeUSD,
		Leverage:      p.Leverage,
		MaxSlipBps:    p.MaxSlipBps,
		MinCounterRep: p.MinCounterRep,
		RefPrice:      refPrice,
		Status:        domain.IntentStatusOpen,
		CreatedAt:     now,
		ExpiresAt:     now.Add(p.TTL),
	}

	if err := r.intents.Create(ctx, intent); err != nil {
		return domain.TradingIntent{}, fmt.Errorf("registry: create intent: %w", err)
	}

	r.logger.InfoContext(ctx, "registry: intent submitted",
		slog.String("intent_id", intent.ID),
		slog.String("agent_id", agentID),
		slog.String("instrument", intent.Instrument),
		slog.String("direction", string(intent.Direction)),
		slog.Int64("size_usd", intent.SizeUSD),
		slog.Int("leverage", intent.Leverage),
	)
	return intent, nil
}

// CancelIntent transitions an OPEN intent to CANCELLED. Any other starting
// state fails with ErrInvalidState and leaves the intent untouched.
func (r *Registry) CancelIntent(ctx context.Context, intentID string) error {
	intent, err := r.intents.GetByID(ctx, intentID)
	if err != nil {
		return fmt.Errorf("registry: intent %q: %w", intentID, domain.ErrUnknownIntent)
	}
	if intent.Status != domain.IntentStatusOpen {
		return fmt.Errorf("registry: cancel intent %q in state %s: %w", intentID, intent.Status, domain.ErrInvalidState)
	}

	err = r.intents.Transition(ctx, intentID, domain.IntentStatusOpen, domain.IntentStatusCancelled, intent.Version, "")
	if err != nil {
		return fmt.Errorf("registry: cancel intent %q: %w", intentID, err)
	}

	r.logger.InfoContext(ctx, "registry: intent cancelled", slog.String("intent_id", intentID))
	return nil
}

// ExpireIntents sweeps OPEN intents whose expiry has passed into EXPIRED
// and returns the number swept. Intents that lose the CAS race to a
// concurrent match or cancel are skipped.
func (r *Registry) ExpireIntents(ctx context.Context, now time.Time) (int, error) {
	expired, err := r.intents.ListOpenExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("registry: list expired intents: %w", err)
	}

	swept := 0
	for _, intent := range expired {
		err := r.intents.Transition(ctx, intent.ID, domain.IntentStatusOpen, domain.IntentStatusExpired, intent.Version, "")
		if err != nil {
			// Lost the race to a concurrent transition; the winner owns
			// the intent now.
			continue
		}
		swept++
	}

	if swept > 0 {
		r.logger.InfoContext(ctx, "registry: expired intents swept", slog.Int("count", swept))
	}
	return swept, nil
}

// Agent returns an agent by ID.
func (r *Registry) Agent(ctx context.Context, agentID string) (domain.Agent, error) {
	agent, err := r.agents.GetByID(ctx, agentID)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("registry: agent %q: %w", agentID, domain.ErrUnknownAgent)
	}
	return agent, nil
}

// RecordSettlement folds a settled trade into the agent's cumulative stats.
// Clean settlements nudge reputation up; liquidations push it down.
func (r *Registry) RecordSettlement(ctx context.Context, agentID string, notionalUSD, realizedPnL int64, liquidated bool) error {
	agent, err := r.agents.GetByID(ctx, agentID)
	if err != nil {
		return fmt.Errorf("registry: agent %q: %w", agentID, domain.ErrUnknownAgent)
	}

	agent.TotalVolume += notionalUSD
	agent.TradeCount++
	agent.RealizedPnL += realizedPnL
	if liquidated {
		agent.Reputation = clampRep(agent.Reputation - 0.05)
	} else {
		agent.Reputation = clampRep(agent.Reputation + 0.01)
	}
	agent.UpdatedAt = time.Now().UTC()

	if err := r.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("registry: update agent %q: %w", agentID, err)
	}
	return nil
}

func clampRep(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validateParams(p IntentParams, ins domain.Instrument) error {
	var problems []string

	if p.Direction != domain.DirectionLong && p.Direction != domain.DirectionShort {
		problems = append(problems, fmt.Sprintf("direction must be long or short, got %q", p.Direction))
	}
	if p.SizeUSD <= 0 {
		problems = append(problems, "size must be positive")
	}
	if p.Leverage < 1 {
		problems = append(problems, "leverage must be >= 1")
	}
	if p.Leverage > ins.MaxLeverage {
		problems = append(problems, fmt.Sprintf("leverage %d exceeds instrument max %d", p.Leverage, ins.MaxLeverage))
	}
	if p.MaxSlipBps < 0 {
		problems = append(problems, "max slippage must not be negative")
	}
	if p.MinCounterRep < 0 || p.MinCounterRep > 1 {
		problems = append(problems, "min counterparty reputation must be in [0, 1]")
	}
	if p.TTL <= 0 {
		problems = append(problems, "ttl must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("registry: %s: %w", strings.Join(problems, "; "), domain.ErrValidation)
	}
	return nil
}
