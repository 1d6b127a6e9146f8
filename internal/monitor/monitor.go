// Package monitor runs the liquidation state machine and periodic funding
// assessment over open positions. Liquidation is idempotent through position
// status: a position whose close is already in flight is skipped, never
// closed twice.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/bridge"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/fees"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/metrics"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/pnl"
)

// Config tunes the monitor loops.
type Config struct {
	PollInterval    time.Duration // liquidation sweep cadence
	FundingInterval time.Duration // funding settlement period
	AtRiskBufferBps int64         // fraction of the entry-to-liquidation gap, in bps
	StaleAfter      time.Duration // mark prices older than this are ignored
}

// DefaultConfig returns the standard cadence: 2s sweeps, hourly funding,
// at-risk once 90% of the gap to the liquidation price is consumed.
func DefaultConfig() Config {
	return Config{
		PollInterval:    2 * time.Second,
		FundingInterval: time.Hour,
		AtRiskBufferBps: 9_000,
		StaleAfter:      30 * time.Second,
	}
}

// Monitor watches open positions.
type Monitor struct {
	cfg       Config
	positions domain.PositionStore
	prices    domain.PriceSource
	bridge    *bridge.Bridge
	fees      domain.FeeStore
	schedule  *fees.Schedule
	metrics   *metrics.Metrics
	logger    *slog.Logger

	lastFunding time.Time
}

// New creates a Monitor.
func New(
	cfg Config,
	positions domain.PositionStore,
	prices domain.PriceSource,
	b *bridge.Bridge,
	feeStore domain.FeeStore,
	schedule *fees.Schedule,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		cfg:         cfg,
		positions:   positions,
		prices:      prices,
		bridge:      b,
		fees:        feeStore,
		schedule:    schedule,
		metrics:     m,
		logger:      logger,
		lastFunding: time.Now().UTC(),
	}
}

// Run drives the sweep and funding loops until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.ErrorContext(ctx, "monitor: sweep failed",
					slog.String("error", err.Error()),
				)
			}
			if time.Since(m.lastFunding) >= m.cfg.FundingInterval {
				if _, err := m.AssessFunding(ctx); err != nil {
					m.logger.ErrorContext(ctx, "monitor: funding assessment failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// Sweep evaluates every open position against the current mark price and
// advances its risk state, forcing a close through the bridge on breach.
func (m *Monitor) Sweep(ctx context.Context) error {
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list open positions: %w", err)
	}
	m.metrics.SetOpenPositions(len(open))

	for _, pos := range open {
		mark, at, err := m.prices.Mark(ctx, pos.Instrument)
		if err != nil {
			m.logger.WarnContext(ctx, "monitor: no mark price, skipping",
				slog.String("instrument", pos.Instrument),
				slog.String("error", err.Error()),
			)
			continue
		}
		if m.cfg.StaleAfter > 0 && time.Since(at) > m.cfg.StaleAfter {
			m.logger.WarnContext(ctx, "monitor: mark price stale, skipping",
				slog.String("instrument", pos.Instrument),
				slog.Time("price_at", at),
			)
			continue
		}
		m.evaluate(ctx, pos, mark)
	}
	return nil
}

func (m *Monitor) evaluate(ctx context.Context, pos domain.Position, mark int64) {
	sign := pos.Direction().Sign()

	if pnl.Breached(mark, pos.LiqPrice, sign) {
		m.liquidate(ctx, pos, mark)
		return
	}

	atRisk := pnl.AtRiskPrice(pos.EntryPrice, pos.LiqPrice, sign, m.cfg.AtRiskBufferBps)
	crossed := pnl.Breached(mark, atRisk, sign)

	switch {
	case crossed && pos.Risk == domain.RiskStateHealthy:
		if err := m.positions.SetRisk(ctx, pos.ID, domain.RiskStateAtRisk); err == nil {
			m.logger.WarnContext(ctx, "monitor: position at risk",
				slog.String("position_id", pos.ID),
				slog.Int64("mark", mark),
				slog.Int64("liq_price", pos.LiqPrice),
			)
		}
	case !crossed && pos.Risk == domain.RiskStateAtRisk:
		// Price recovered; step back to healthy.
		_ = m.positions.SetRisk(ctx, pos.ID, domain.RiskStateHealthy)
	}
}

// liquidate forces a close at the current mark price. A position already in
// closing loses the CAS inside the bridge and is skipped silently; that is
// the deduplication contract with agent-submitted closes.
func (m *Monitor) liquidate(ctx context.Context, pos domain.Position, mark int64) {
	if err := m.positions.SetRisk(ctx, pos.ID, domain.RiskStateLiquidated); err != nil {
		m.logger.ErrorContext(ctx, "monitor: mark position liquidated",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.InfoContext(ctx, "monitor: liquidating position",
		slog.String("position_id", pos.ID),
		slog.String("agent_id", pos.AgentID),
		slog.Int64("mark", mark),
		slog.Int64("liq_price", pos.LiqPrice),
	)

	if _, err := m.bridge.ClosePosition(ctx, pos.ID, mark, true); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// A close is already in flight.
			return
		}
		m.logger.ErrorContext(ctx, "monitor: forced close failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// AssessFunding writes one funding FeeRecord per open position for the
// elapsed settlement period and returns the number assessed.
func (m *Monitor) AssessFunding(ctx context.Context) (int, error) {
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("monitor: list open positions: %w", err)
	}

	now := time.Now().UTC()
	assessed := 0
	for _, pos := range open {
		rec := domain.FeeRecord{
			ID:              uuid.New().String(),
			Type:            domain.FeeTypeFunding,
			AgentID:         pos.AgentID,
			AmountUSD:       m.schedule.Fee(domain.FeeTypeFunding, pos.Margin),
			Rate:            m.schedule.Rate(domain.FeeTypeFunding),
			ScheduleVersion: m.schedule.Version(),
			Reference:       pos.ID,
			CreatedAt:       now,
		}
		if err := m.fees.Insert(ctx, rec); err != nil {
			return assessed, fmt.Errorf("monitor: funding fee for position %q: %w", pos.ID, err)
		}
		m.metrics.FeeAssessed(string(domain.FeeTypeFunding))
		assessed++
	}

	m.lastFunding = now
	if assessed > 0 {
		m.logger.InfoContext(ctx, "monitor: funding assessed",
			slog.Int("positions", assessed),
		)
	}
	return assessed, nil
}
