package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, agent_id, owner, instrument, instrument_index,
	size_usd, leverage, entry_price, margin, liq_price, status, risk,
	match_id, version, opened_at, closed_at, exit_price, realized_pnl`

// Create inserts a new position. The partial unique index on
// (owner, instrument) for non-closed rows enforces the single live position
// per owner and instrument; a violation returns domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, agent_id, owner, instrument, instrument_index,
			size_usd, leverage, entry_price, margin, liq_price, status,
			risk, match_id, version, opened_at, closed_at, exit_price,
			realized_pnl
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.AgentID, p.Owner, p.Instrument, int16(p.InstrumentIndex),
		p.SizeUSD, p.Leverage, p.EntryPrice, p.Margin, p.LiqPrice, string(p.Status),
		string(p.Risk), p.MatchID, p.Version, p.OpenedAt, p.ClosedAt, p.ExitPrice,
		p.RealizedPnL,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

func scanPositionFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Position, error) {
	var p domain.Position
	var status, risk string
	var instrumentIndex int16
	var closedAt *time.Time

	err := scanner.Scan(
		&p.ID, &p.AgentID, &p.Owner, &p.Instrument, &instrumentIndex,
		&p.SizeUSD, &p.Leverage, &p.EntryPrice, &p.Margin, &p.LiqPrice, &status,
		&risk, &p.MatchID, &p.Version, &p.OpenedAt, &closedAt, &p.ExitPrice,
		&p.RealizedPnL,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.InstrumentIndex = uint8(instrumentIndex)
	p.Status = domain.PositionStatus(status)
	p.Risk = domain.RiskState(risk)
	p.ClosedAt = closedAt
	return p, nil
}

// GetByID retrieves a single position by ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByOwner returns the live position for an owner and instrument.
func (s *PositionStore) GetOpenByOwner(ctx context.Context, owner, instrument string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner = $1 AND instrument = $2 AND status <> 'closed'`,
		owner, instrument)

	p, err := scanPositionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position: %w", err)
	}
	return p, nil
}

// ListOpen returns every position in open status. Positions in the
// settle-pending states are excluded so monitor sweeps never touch a
// position with an instruction in flight.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open' ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Transition advances a position's status with a compare-and-swap on
// (status, version), mirroring IntentStore.Transition.
func (s *PositionStore) Transition(ctx context.Context, id string, from, to domain.PositionStatus, version int64) error {
	const query = `
		UPDATE positions SET status = $3, version = version + 1
		WHERE id = $1 AND status = $2 AND version = $4`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to), version)
	if err != nil {
		return fmt.Errorf("postgres: transition position %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return getErr
	}
	if current.Status != from {
		return domain.ErrInvalidState
	}
	return domain.ErrConflict
}

// SetRisk updates the monitor's risk state for a position.
func (s *PositionStore) SetRisk(ctx context.Context, id string, risk domain.RiskState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET risk = $2 WHERE id = $1`, id, string(risk))
	if err != nil {
		return fmt.Errorf("postgres: set position risk %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close finalizes a position in closing status, recording exit price and
// realized PnL. A position in any other status returns ErrInvalidState.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice, realizedPnL int64) error {
	const query = `
		UPDATE positions SET
			status = 'closed', version = version + 1,
			closed_at = NOW(), exit_price = $2, realized_pnl = $3
		WHERE id = $1 AND status = 'closing'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, realizedPnL)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return domain.ErrInvalidState
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
