// Package matcher pairs compatible open intents. Matching here is
// intent-compatibility pairing, not price-time-priority order matching:
// candidates are ranked by counterparty reputation and age, and the
// execution price is the mark price at match time.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// candidateScanLimit bounds how many open intents a candidate search loads.
const candidateScanLimit = 256

// Matcher finds and forms matches between open intents.
type Matcher struct {
	intents domain.IntentStore
	agents  domain.AgentStore
	matches domain.MatchStore
	prices  domain.PriceSource
	logger  *slog.Logger
}

// New creates a Matcher.
func New(
	intents domain.IntentStore,
	agents domain.AgentStore,
	matches domain.MatchStore,
	prices domain.PriceSource,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		intents: intents,
		agents:  agents,
		matches: matches,
		prices:  prices,
		logger:  logger,
	}
}

// FindCandidates returns OPEN intents compatible with the given intent,
// ordered by descending owner reputation with ties broken by earlier
// creation time. Compatibility requires distinct agents, opposite
// directions, the same instrument, and mutual reputation minimums.
func (m *Matcher) FindCandidates(ctx context.Context, intent domain.TradingIntent) ([]domain.TradingIntent, error) {
	open, err := m.intents.ListOpen(ctx, intent.Instrument, domain.ListOpts{Limit: candidateScanLimit})
	if err != nil {
		return nil, fmt.Errorf("matcher: list open intents: %w", err)
	}

	owner, err := m.agents.GetByID(ctx, intent.AgentID)
	if err != nil {
		return nil, fmt.Errorf("matcher: agent %q: %w", intent.AgentID, domain.ErrUnknownAgent)
	}

	type scored struct {
		intent domain.TradingIntent
		rep    float64
	}
	var candidates []scored

	for _, c := range open {
		if c.ID == intent.ID || c.AgentID == intent.AgentID {
			continue
		}
		if c.Direction != intent.Direction.Opposite() {
			continue
		}
		if c.Status != domain.IntentStatusOpen {
			continue
		}

		counterparty, err := m.agents.GetByID(ctx, c.AgentID)
		if err != nil {
			m.logger.WarnContext(ctx, "matcher: candidate owner lookup failed",
				slog.String("intent_id", c.ID),
				slog.String("agent_id", c.AgentID),
				slog.String("error", err.Error()),
			)
			continue
		}

		// Reputation minimums must hold in both directions.
		if counterparty.Reputation < intent.MinCounterRep || owner.Reputation < c.MinCounterRep {
			continue
		}

		candidates = append(candidates, scored{intent: c, rep: counterparty.Reputation})
	}

	// Deterministic, auditable ordering: reputation desc, then FIFO.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rep != candidates[j].rep {
			return candidates[i].rep > candidates[j].rep
		}
		return candidates[i].intent.CreatedAt.Before(candidates[j].intent.CreatedAt)
	})

	out := make([]domain.TradingIntent, len(candidates))
	for i, c := range candidates {
		out[i] = c.intent
	}
	return out, nil
}

// Match atomically pairs two intents: both transition OPEN -> MATCHED or
// neither does. Compatibility and the mutual reputation minimums are
// enforced regardless of how the pair was selected. The execution price is
// the current mark price, checked
// against each intent's max-slippage constraint relative to its
// submission-time reference; a violation rejects the match with ErrSlippage
// and leaves both intents OPEN.
func (m *Matcher) Match(ctx context.Context, intentID, candidateID string) (domain.Match, error) {
	intent, err := m.intents.GetByID(ctx, intentID)
	if err != nil {
		return domain.Match{}, fmt.Errorf("matcher: intent %q: %w", intentID, domain.ErrUnknownIntent)
	}
	candidate, err := m.intents.GetByID(ctx, candidateID)
	if err != nil {
		return domain.Match{}, fmt.Errorf("matcher: intent %q: %w", candidateID, domain.ErrUnknownIntent)
	}

	if err := compatible(intent, candidate); err != nil {
		return domain.Match{}, err
	}

	// Candidates arrive from callers, not only from FindCandidates, so the
	// reputation minimums are re-checked here in both directions.
	intentOwner, err := m.agents.GetByID(ctx, intent.AgentID)
	if err != nil {
		return domain.Match{}, fmt.Errorf("matcher: agent %q: %w", intent.AgentID, domain.ErrUnknownAgent)
	}
	candidateOwner, err := m.agents.GetByID(ctx, candidate.AgentID)
	if err != nil {
		return domain.Match{}, fmt.Errorf("matcher: agent %q: %w", candidate.AgentID, domain.ErrUnknownAgent)
	}
	if candidateOwner.Reputation < intent.MinCounterRep {
		return domain.Match{}, fmt.Errorf("matcher: counterparty reputation %.2f below intent %q minimum %.2f: %w",
			candidateOwner.Reputation, intent.ID, intent.MinCounterRep, domain.ErrValidation)
	}
	if intentOwner.Reputation < candidate.MinCounterRep {
		return domain.Match{}, fmt.Errorf("matcher: counterparty reputation %.2f below intent %q minimum %.2f: %w",
			intentOwner.Reputation, candidate.ID, candidate.MinCounterRep, domain.ErrValidation)
	}

	execPrice, _, err := m.prices.Mark(ctx, intent.Instrument)
	if err != nil {
		return domain.Match{}, fmt.Errorf("matcher: mark price for %s: %w", intent.Instrument, err)
	}

	for _, side := range []domain.TradingIntent{intent, candidate} {
		if err := checkSlippage(side, execPrice); err != nil {
			return domain.Match{}, err
		}
	}

	// Pair the intents via CAS. The first transition claims the initiating
	// intent; if the counterparty transition loses its race, the claim is
	// compensated back to OPEN before the match is ever observable.
	if err := m.intents.Transition(ctx, intent.ID, domain.IntentStatusOpen, domain.IntentStatusMatched, intent.Version, candidate.ID); err != nil {
		return domain.Match{}, fmt.Errorf("matcher: claim intent %q: %w", intent.ID, err)
	}
	if err := m.intents.Transition(ctx, candidate.ID, domain.IntentStatusOpen, domain.IntentStatusMatched, candidate.Version, intent.ID); err != nil {
		if revertErr := m.intents.Transition(ctx, intent.ID, domain.IntentStatusMatched, domain.IntentStatusOpen, intent.Version+1, ""); revertErr != nil {
			// The claimed intent cannot be released; this needs operator
			// attention before it can match again.
			m.logger.ErrorContext(ctx, "matcher: failed to release claimed intent",
				slog.String("intent_id", intent.ID),
				slog.String("error", revertErr.Error()),
			)
		}
		return domain.Match{}, fmt.Errorf("matcher: claim counterparty %q: %w", candidate.ID, err)
	}

	// The later-created intent crossed a resting one: it pays taker.
	taker, maker := intent, candidate
	if maker.CreatedAt.After(taker.CreatedAt) {
		taker, maker = maker, taker
	}

	size := intent.SizeUSD
	if candidate.SizeUSD < size {
		size = candidate.SizeUSD
	}

	match := domain.Match{
		ID:          uuid.New().String(),
		TakerIntent: taker.ID,
		MakerIntent: maker.ID,
		TakerAgent:  taker.AgentID,
		MakerAgent:  maker.AgentID,
		Instrument:  intent.Instrument,
		SizeUSD:     size,
		ExecPrice:   execPrice,
		Status:      domain.MatchStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.matches.Create(ctx, match); err != nil {
		return domain.Match{}, fmt.Errorf("matcher: create match: %w", err)
	}

	m.logger.InfoContext(ctx, "matcher: intents matched",
		slog.String("match_id", match.ID),
		slog.String("taker_intent", taker.ID),
		slog.String("maker_intent", maker.ID),
		slog.String("instrument", match.Instrument),
		slog.Int64("size_usd", match.SizeUSD),
		slog.Int64("exec_price", match.ExecPrice),
	)
	return match, nil
}

// compatible enforces the pairing invariants: distinct agents, opposite
// directions, same instrument, both OPEN.
func compatible(a, b domain.TradingIntent) error {
	switch {
	case a.AgentID == b.AgentID:
		return fmt.Errorf("matcher: intents share agent %q: %w", a.AgentID, domain.ErrValidation)
	case a.Instrument != b.Instrument:
		return fmt.Errorf("matcher: instrument mismatch %s vs %s: %w", a.Instrument, b.Instrument, domain.ErrValidation)
	case a.Direction == b.Direction:
		return fmt.Errorf("matcher: both intents are %s: %w", a.Direction, domain.ErrValidation)
	case a.Status != domain.IntentStatusOpen:
		return fmt.Errorf("matcher: intent %q is %s: %w", a.ID, a.Status, domain.ErrInvalidState)
	case b.Status != domain.IntentStatusOpen:
		return fmt.Errorf("matcher: intent %q is %s: %w", b.ID, b.Status, domain.ErrInvalidState)
	}
	return nil
}

// checkSlippage rejects an execution price that deviates from the intent's
// submission-time reference by more than its max-slippage constraint. An
// unset reference disables the clamp.
func checkSlippage(intent domain.TradingIntent, execPrice int64) error {
	if intent.RefPrice == 0 || intent.MaxSlipBps <= 0 {
		return nil
	}
	diff := execPrice - intent.RefPrice
	if diff < 0 {
		diff = -diff
	}
	slipBps := diff * 10_000 / intent.RefPrice
	if slipBps > int64(intent.MaxSlipBps) {
		return fmt.Errorf("matcher: intent %q: execution price %d deviates %d bps from reference %d (max %d): %w",
			intent.ID, execPrice, slipBps, intent.RefPrice, intent.MaxSlipBps, domain.ErrSlippage)
	}
	return nil
}
