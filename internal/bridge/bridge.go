// Package bridge converts matched intents and close requests into ledger
// instructions and reconciles confirmed mutations back into the registry.
// The ledger is the source of truth once a transaction confirms: a failed
// reconciliation is surfaced as a divergence, never dropped.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/fees"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/ledger"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/metrics"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/pnl"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/registry"
)

// Config tunes the submission retry policy.
type Config struct {
	ProgramID       string
	SubmitAttempts  int
	RetryBackoff    time.Duration
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
	LockTTL         time.Duration
}

// DefaultConfig returns the standard retry policy: 3 attempts with 250ms
// exponential backoff, confirmation polled every 500ms for up to 15s.
func DefaultConfig(programID string) Config {
	return Config{
		ProgramID:       programID,
		SubmitAttempts:  3,
		RetryBackoff:    250 * time.Millisecond,
		ConfirmInterval: 500 * time.Millisecond,
		ConfirmTimeout:  15 * time.Second,
		LockTTL:         30 * time.Second,
	}
}

// Deps are the bridge's collaborators. Locks, Events and Metrics are
// optional; a nil value disables that concern.
type Deps struct {
	Client    ledger.Client
	Registry  *registry.Registry
	Agents    domain.AgentStore
	Intents   domain.IntentStore
	Matches   domain.MatchStore
	Positions domain.PositionStore
	Fees      domain.FeeStore
	Schedule  *fees.Schedule
	Locks     domain.LockManager
	Events    domain.EventPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Bridge is the settlement bridge.
type Bridge struct {
	cfg       Config
	client    ledger.Client
	registry  *registry.Registry
	agents    domain.AgentStore
	intents   domain.IntentStore
	matches   domain.MatchStore
	positions domain.PositionStore
	fees      domain.FeeStore
	schedule  *fees.Schedule
	locks     domain.LockManager
	events    domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Bridge.
func New(cfg Config, deps Deps) *Bridge {
	return &Bridge{
		cfg:       cfg,
		client:    deps.Client,
		registry:  deps.Registry,
		agents:    deps.Agents,
		intents:   deps.Intents,
		matches:   deps.Matches,
		positions: deps.Positions,
		fees:      deps.Fees,
		schedule:  deps.Schedule,
		locks:     deps.Locks,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

type side struct {
	intent domain.TradingIntent
	agent  domain.Agent
}

// SettleMatch drives a pending match onto the ledger: one open-position
// instruction per side, then reconciliation of intents, match, positions,
// fees, and agent stats. A terminal submission failure fails the match and
// cancels both intents. Calling it on an already executed match is a no-op.
func (b *Bridge) SettleMatch(ctx context.Context, matchID string) error {
	m, err := b.matches.GetByID(ctx, matchID)
	if err != nil {
		return fmt.Errorf("bridge: match %q: %w", matchID, domain.ErrNotFound)
	}
	switch m.Status {
	case domain.MatchStatusExecuted:
		return nil
	case domain.MatchStatusPending:
	default:
		return fmt.Errorf("bridge: match %q is %s: %w", matchID, m.Status, domain.ErrInvalidState)
	}

	if b.locks != nil {
		unlock, err := b.locks.Acquire(ctx, "settle:match:"+matchID, b.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("bridge: match %q settlement lock: %w", matchID, err)
		}
		defer unlock()
	}

	if err := b.matches.UpdateStatus(ctx, matchID, domain.MatchStatusSettling, ""); err != nil {
		return fmt.Errorf("bridge: mark match %q settling: %w", matchID, err)
	}

	sides, err := b.loadSides(ctx, m)
	if err != nil {
		b.failMatch(ctx, m, sides)
		return err
	}

	ins, ok := b.registry.Instrument(m.Instrument)
	if !ok {
		b.failMatch(ctx, m, sides)
		return fmt.Errorf("bridge: unknown instrument %q: %w", m.Instrument, domain.ErrValidation)
	}
	evaluator := pnl.NewEvaluator(ins.MaintMarginFrac)

	var (
		opened []domain.Position
		txRefs []string
	)
	for _, s := range sides {
		pos, txRef, err := b.openSide(ctx, m, s, ins, evaluator)
		if err != nil {
			b.metrics.SettlementFailed()
			b.compensate(ctx, m, opened)
			b.failMatch(ctx, m, sides)
			return fmt.Errorf("bridge: open side for agent %q: %w", s.agent.ID, err)
		}
		opened = append(opened, pos)
		txRefs = append(txRefs, txRef)
	}

	// Both sides confirmed on ledger; registry reconciliation failures from
	// here on are divergences, not rollbacks.
	txRef := txRefs[0] + "," + txRefs[1]
	if err := b.reconcileExecuted(ctx, m, sides, txRef); err != nil {
		div := &domain.ReconciliationDivergence{Entity: m.ID, TxRef: txRef, Err: err}
		b.metrics.Divergence()
		b.logger.ErrorContext(ctx, "bridge: reconciliation divergence",
			slog.String("match_id", m.ID),
			slog.String("tx_ref", txRef),
			slog.String("error", err.Error()),
		)
		return div
	}

	b.metrics.MatchExecuted()
	b.publish(ctx, "settlement.executed", map[string]any{
		"match_id":   m.ID,
		"instrument": m.Instrument,
		"size_usd":   m.SizeUSD,
		"exec_price": m.ExecPrice,
		"tx_ref":     txRef,
	})
	b.logger.InfoContext(ctx, "bridge: match settled",
		slog.String("match_id", m.ID),
		slog.String("tx_ref", txRef),
	)
	return nil
}

func (b *Bridge) loadSides(ctx context.Context, m domain.Match) ([]side, error) {
	var sides []side
	for _, ref := range []struct{ intentID, agentID string }{
		{m.TakerIntent, m.TakerAgent},
		{m.MakerIntent, m.MakerAgent},
	} {
		intent, err := b.intents.GetByID(ctx, ref.intentID)
		if err != nil {
			return sides, fmt.Errorf("bridge: intent %q: %w", ref.intentID, domain.ErrUnknownIntent)
		}
		agent, err := b.agents.GetByID(ctx, ref.agentID)
		if err != nil {
			return sides, fmt.Errorf("bridge: agent %q: %w", ref.agentID, domain.ErrUnknownAgent)
		}
		sides = append(sides, side{intent: intent, agent: agent})
	}
	return sides, nil
}

// openSide submits one side's open-position instruction. The position row is
// created in opening state before submission so a concurrent open for the
// same owner and instrument is excluded, and advanced to open on
// confirmation.
func (b *Bridge) openSide(ctx context.Context, m domain.Match, s side, ins domain.Instrument, evaluator *pnl.Evaluator) (domain.Position, string, error) {
	sign := s.intent.Direction.Sign()
	now := time.Now().UTC()

	pos := domain.Position{
		ID:              uuid.New().String(),
		AgentID:         s.agent.ID,
		Owner:           s.agent.Wallet,
		Instrument:      m.Instrument,
		InstrumentIndex: ins.Index,
		SizeUSD:         sign * m.SizeUSD,
		Leverage:        s.intent.Leverage,
		EntryPrice:      m.ExecPrice,
		Margin:          m.SizeUSD,
		LiqPrice:        evaluator.LiquidationPrice(m.ExecPrice, s.intent.Leverage, sign),
		Status:          domain.PositionStatusOpening,
		Risk:            domain.RiskStateHealthy,
		MatchID:         m.ID,
		OpenedAt:        now,
	}
	if err := b.positions.Create(ctx, pos); err != nil {
		return pos, "", fmt.Errorf("create position: %w", err)
	}

	// Wire size is the signed exposure (margin * leverage) in micro-USD.
	payload, err := ledger.OpenPosition.Encode(map[string]int64{
		"instrument":  int64(ins.Index),
		"size":        sign * m.SizeUSD * int64(s.intent.Leverage),
		"entry_price": m.ExecPrice,
		"margin":      m.SizeUSD,
	})
	if err != nil {
		b.abandonPosition(ctx, pos)
		return pos, "", err
	}

	txRef, err := b.submit(ctx, b.accountsFor(s.agent.Wallet, ins.Index), payload)
	if err != nil {
		if submissionStatus(err) == "unknown" {
			// The open may still land on ledger; retiring the row here would
			// orphan an on-ledger position. It stays in opening until a status
			// poll resolves it, and the gap is surfaced as a divergence.
			b.metrics.Divergence()
			b.logger.ErrorContext(ctx, "bridge: open outcome unknown, position held in opening",
				slog.String("position_id", pos.ID),
				slog.String("match_id", m.ID),
				slog.String("tx_ref", txRef),
				slog.String("error", (&domain.ReconciliationDivergence{Entity: pos.ID, TxRef: txRef, Err: err}).Error()),
			)
			return pos, txRef, err
		}
		b.abandonPosition(ctx, pos)
		return pos, txRef, err
	}

	if err := b.positions.Transition(ctx, pos.ID, domain.PositionStatusOpening, domain.PositionStatusOpen, pos.Version); err != nil {
		return pos, txRef, fmt.Errorf("advance position %q to open: %w", pos.ID, err)
	}
	pos.Status = domain.PositionStatusOpen
	pos.Version++
	return pos, txRef, nil
}

// compensate closes already-confirmed sides of a match whose later side
// failed terminally. The close executes at entry price, so no PnL moves; a
// failure here is a divergence because the ledger holds a position the
// registry will not track.
func (b *Bridge) compensate(ctx context.Context, m domain.Match, opened []domain.Position) {
	for _, pos := range opened {
		payload, err := ledger.ClosePosition.Encode(map[string]int64{
			"instrument": int64(pos.InstrumentIndex),
			"exit_price": pos.EntryPrice,
		})
		var txRef string
		if err == nil {
			txRef, err = b.submit(ctx, b.accountsFor(pos.Owner, pos.InstrumentIndex), payload)
		}
		if err != nil {
			b.metrics.Divergence()
			b.logger.ErrorContext(ctx, "bridge: reconciliation divergence",
				slog.String("position_id", pos.ID),
				slog.String("match_id", m.ID),
				slog.String("tx_ref", txRef),
				slog.String("error", (&domain.ReconciliationDivergence{Entity: pos.ID, TxRef: txRef, Err: err}).Error()),
			)
			continue
		}
		if err := b.positions.Transition(ctx, pos.ID, pos.Status, domain.PositionStatusClosed, pos.Version); err != nil {
			b.logger.ErrorContext(ctx, "bridge: failed to retire compensated position",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// failMatch marks a match failed and cancels both intents. The intents have
// reached MATCHED, a non-terminal state; a failed settlement retires them.
func (b *Bridge) failMatch(ctx context.Context, m domain.Match, sides []side) {
	if err := b.matches.UpdateStatus(ctx, m.ID, domain.MatchStatusFailed, ""); err != nil {
		b.logger.ErrorContext(ctx, "bridge: mark match failed",
			slog.String("match_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	for _, s := range sides {
		current, err := b.intents.GetByID(ctx, s.intent.ID)
		if err != nil {
			continue
		}
		if current.Status != domain.IntentStatusMatched {
			continue
		}
		if err := b.intents.Transition(ctx, current.ID, domain.IntentStatusMatched, domain.IntentStatusCancelled, current.Version, ""); err != nil {
			b.logger.ErrorContext(ctx, "bridge: cancel intent after failed settlement",
				slog.String("intent_id", current.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	b.publish(ctx, "settlement.failed", map[string]any{"match_id": m.ID})
}

// abandonPosition retires an opening position whose open instruction never
// applied.
func (b *Bridge) abandonPosition(ctx context.Context, pos domain.Position) {
	if err := b.positions.Transition(ctx, pos.ID, domain.PositionStatusOpening, domain.PositionStatusClosed, pos.Version); err != nil {
		b.logger.ErrorContext(ctx, "bridge: retire abandoned position",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// reconcileExecuted advances intents, match, fee records and agent stats
// after both open instructions confirmed.
func (b *Bridge) reconcileExecuted(ctx context.Context, m domain.Match, sides []side, txRef string) error {
	for _, s := range sides {
		current, err := b.intents.GetByID(ctx, s.intent.ID)
		if err != nil {
			return fmt.Errorf("intent %q: %w", s.intent.ID, err)
		}
		if err := b.intents.Transition(ctx, current.ID, domain.IntentStatusMatched, domain.IntentStatusExecuted, current.Version, ""); err != nil {
			return fmt.Errorf("execute intent %q: %w", current.ID, err)
		}
	}

	if err := b.matches.UpdateStatus(ctx, m.ID, domain.MatchStatusExecuted, txRef); err != nil {
		return fmt.Errorf("execute match: %w", err)
	}

	for i, feeType := range []domain.FeeType{domain.FeeTypeTaker, domain.FeeTypeMaker} {
		if err := b.recordFee(ctx, feeType, sides[i].agent.ID, m.SizeUSD, m.ID); err != nil {
			return err
		}
	}

	for _, s := range sides {
		if err := b.registry.RecordSettlement(ctx, s.agent.ID, m.SizeUSD, 0, false); err != nil {
			return fmt.Errorf("record settlement for agent %q: %w", s.agent.ID, err)
		}
	}
	return nil
}

// ClosePosition drives a full close of an open position at the given exit
// price. liquidation selects the fee type and the reputation penalty. The
// closing status is the sole deduplication between the liquidation monitor
// and agent-submitted closes: a second close attempt fails with
// ErrInvalidState, never a duplicate ledger submission.
func (b *Bridge) ClosePosition(ctx context.Context, positionID string, exitPrice int64, liquidation bool) (string, error) {
	pos, err := b.positions.GetByID(ctx, positionID)
	if err != nil {
		return "", fmt.Errorf("bridge: position %q: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionStatusOpen {
		return "", fmt.Errorf("bridge: close position %q in state %s: %w", positionID, pos.Status, domain.ErrInvalidState)
	}

	if err := b.positions.Transition(ctx, pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing, pos.Version); err != nil {
		return "", fmt.Errorf("bridge: mark position %q closing: %w", positionID, err)
	}

	payload, err := ledger.ClosePosition.Encode(map[string]int64{
		"instrument": int64(pos.InstrumentIndex),
		"exit_price": exitPrice,
	})
	if err != nil {
		b.revertClosing(ctx, pos)
		return "", fmt.Errorf("bridge: encode close: %w", err)
	}

	txRef, err := b.submit(ctx, b.accountsFor(pos.Owner, pos.InstrumentIndex), payload)
	if err != nil {
		b.metrics.SettlementFailed()
		if submissionStatus(err) == "unknown" {
			// The close may still land; the position stays in closing until
			// a status poll resolves it. Reverting here risks a double close.
			b.logger.WarnContext(ctx, "bridge: close outcome unknown, position held in closing",
				slog.String("position_id", pos.ID),
				slog.String("tx_ref", txRef),
			)
			return txRef, fmt.Errorf("bridge: close position %q: %w", positionID, err)
		}
		b.revertClosing(ctx, pos)
		return txRef, fmt.Errorf("bridge: close position %q: %w", positionID, err)
	}

	sign := pos.Direction().Sign()
	realized := pnl.Unrealized(pos.Margin, pos.Leverage, sign, pos.EntryPrice, exitPrice)
	// The ledger settles losses against posted margin only; the registry
	// records the same capped amount.
	if realized < -pos.Margin {
		realized = -pos.Margin
	}

	if err := b.reconcileClosed(ctx, pos, exitPrice, realized, liquidation); err != nil {
		div := &domain.ReconciliationDivergence{Entity: pos.ID, TxRef: txRef, Err: err}
		b.metrics.Divergence()
		b.logger.ErrorContext(ctx, "bridge: reconciliation divergence",
			slog.String("position_id", pos.ID),
			slog.String("tx_ref", txRef),
			slog.String("error", err.Error()),
		)
		return txRef, div
	}

	subject := "position.closed"
	if liquidation {
		subject = "position.liquidated"
		b.metrics.Liquidation()
	}
	b.metrics.PositionClosed()
	b.publish(ctx, subject, map[string]any{
		"position_id":  pos.ID,
		"agent_id":     pos.AgentID,
		"instrument":   pos.Instrument,
		"exit_price":   exitPrice,
		"realized_pnl": realized,
		"tx_ref":       txRef,
	})
	b.logger.InfoContext(ctx, "bridge: position closed",
		slog.String("position_id", pos.ID),
		slog.Int64("exit_price", exitPrice),
		slog.Int64("realized_pnl", realized),
		slog.Bool("liquidation", liquidation),
		slog.String("tx_ref", txRef),
	)
	return txRef, nil
}

func (b *Bridge) reconcileClosed(ctx context.Context, pos domain.Position, exitPrice, realized int64, liquidation bool) error {
	if err := b.positions.Close(ctx, pos.ID, exitPrice, realized); err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	feeType := domain.FeeTypeTaker
	if liquidation {
		feeType = domain.FeeTypeLiquidation
	}
	if err := b.recordFee(ctx, feeType, pos.AgentID, pos.Margin, pos.ID); err != nil {
		return err
	}

	if err := b.registry.RecordSettlement(ctx, pos.AgentID, pos.Margin, realized, liquidation); err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

func (b *Bridge) revertClosing(ctx context.Context, pos domain.Position) {
	if err := b.positions.Transition(ctx, pos.ID, domain.PositionStatusClosing, domain.PositionStatusOpen, pos.Version+1); err != nil {
		b.logger.ErrorContext(ctx, "bridge: failed to reopen position after aborted close",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Deposit credits an agent's collateral account.
func (b *Bridge) Deposit(ctx context.Context, agentID string, amount int64) (string, error) {
	return b.transfer(ctx, agentID, amount, ledger.Deposit)
}

// Withdraw debits an agent's collateral account. The ledger enforces the
// balance; an overdraft surfaces as insufficient funds.
func (b *Bridge) Withdraw(ctx context.Context, agentID string, amount int64) (string, error) {
	return b.transfer(ctx, agentID, amount, ledger.Withdraw)
}

func (b *Bridge) transfer(ctx context.Context, agentID string, amount int64, schema *ledger.Schema) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("bridge: %s amount must be positive: %w", schema.Name, domain.ErrValidation)
	}
	agent, err := b.registry.Agent(ctx, agentID)
	if err != nil {
		return "", err
	}

	payload, err := schema.Encode(map[string]int64{"amount": amount})
	if err != nil {
		return "", fmt.Errorf("bridge: encode %s: %w", schema.Name, err)
	}

	account := ledger.DeriveAccount(b.cfg.ProgramID, agent.Wallet)
	txRef, err := b.submit(ctx, []ledger.Address{account}, payload)
	if err != nil {
		return txRef, fmt.Errorf("bridge: %s for agent %q: %w", schema.Name, agentID, err)
	}

	b.publish(ctx, "collateral."+schema.Name, map[string]any{
		"agent_id": agentID,
		"amount":   amount,
		"tx_ref":   txRef,
	})
	return txRef, nil
}

// CollateralBalance reads a wallet's derived collateral account balance in
// micro-USD.
func (b *Bridge) CollateralBalance(ctx context.Context, wallet string) (int64, error) {
	account := ledger.DeriveAccount(b.cfg.ProgramID, wallet)
	balance, err := b.client.AccountBalance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("bridge: balance for %q: %w", wallet, err)
	}
	return balance, nil
}

// accountsFor returns the instruction account list in program order: owner
// collateral account, market account, position account.
func (b *Bridge) accountsFor(wallet string, instrumentIndex uint8) []ledger.Address {
	return []ledger.Address{
		ledger.DeriveAccount(b.cfg.ProgramID, wallet),
		ledger.DeriveMarket(b.cfg.ProgramID, instrumentIndex),
		ledger.DerivePosition(b.cfg.ProgramID, wallet, instrumentIndex),
	}
}

func (b *Bridge) recordFee(ctx context.Context, t domain.FeeType, agentID string, notional int64, reference string) error {
	rec := domain.FeeRecord{
		ID:              uuid.New().String(),
		Type:            t,
		AgentID:         agentID,
		AmountUSD:       b.schedule.Fee(t, notional),
		Rate:            b.schedule.Rate(t),
		ScheduleVersion: b.schedule.Version(),
		Reference:       reference,
		CreatedAt:       time.Now().UTC(),
	}
	if err := b.fees.Insert(ctx, rec); err != nil {
		return fmt.Errorf("record %s fee: %w", t, err)
	}
	b.metrics.FeeAssessed(string(t))
	return nil
}

// Match returns a match by ID.
func (b *Bridge) Match(ctx context.Context, matchID string) (domain.Match, error) {
	m, err := b.matches.GetByID(ctx, matchID)
	if err != nil {
		return domain.Match{}, fmt.Errorf("bridge: match %q: %w", matchID, domain.ErrNotFound)
	}
	return m, nil
}

// Position returns a position by ID.
func (b *Bridge) Position(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := b.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("bridge: position %q: %w", positionID, domain.ErrNotFound)
	}
	return pos, nil
}

func (b *Bridge) publish(ctx context.Context, subject string, payload map[string]any) {
	if b.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := b.events.Publish(ctx, subject, data); err != nil {
		b.logger.WarnContext(ctx, "bridge: event publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}
