package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// IntentStore implements domain.IntentStore using PostgreSQL.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore creates a new IntentStore backed by the given connection pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

const intentSelectCols = `id, agent_id, direction, instrument, size_usd,
	leverage, max_slip_bps, min_counter_rep, ref_price, status,
	matched_with, version, created_at, expires_at`

// Create inserts a new intent.
func (s *IntentStore) Create(ctx context.Context, in domain.TradingIntent) error {
	const query = `
		INSERT INTO intents (
			id, agent_id, direction, instrument, size_usd,
			leverage, max_slip_bps, min_counter_rep, ref_price, status,
			matched_with, version, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`

	var expiresAt *time.Time
	if !in.ExpiresAt.IsZero() {
		expiresAt = &in.ExpiresAt
	}

	_, err := s.pool.Exec(ctx, query,
		in.ID, in.AgentID, string(in.Direction), in.Instrument, in.SizeUSD,
		in.Leverage, in.MaxSlipBps, in.MinCounterRep, in.RefPrice, string(in.Status),
		in.MatchedWith, in.Version, in.CreatedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create intent %s: %w", in.ID, err)
	}
	return nil
}

func scanIntentFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.TradingIntent, error) {
	var in domain.TradingIntent
	var direction, status string
	var expiresAt *time.Time

	err := scanner.Scan(
		&in.ID, &in.AgentID, &direction, &in.Instrument, &in.SizeUSD,
		&in.Leverage, &in.MaxSlipBps, &in.MinCounterRep, &in.RefPrice, &status,
		&in.MatchedWith, &in.Version, &in.CreatedAt, &expiresAt,
	)
	if err != nil {
		return domain.TradingIntent{}, err
	}

	in.Direction = domain.Direction(direction)
	in.Status = domain.IntentStatus(status)
	if expiresAt != nil {
		in.ExpiresAt = *expiresAt
	}
	return in, nil
}

func scanIntentRows(rows pgx.Rows) ([]domain.TradingIntent, error) {
	var intents []domain.TradingIntent
	for rows.Next() {
		in, err := scanIntentFromRow(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// GetByID retrieves a single intent by ID.
func (s *IntentStore) GetByID(ctx context.Context, id string) (domain.TradingIntent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentSelectCols+` FROM intents WHERE id = $1`, id)

	in, err := scanIntentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingIntent{}, domain.ErrNotFound
		}
		return domain.TradingIntent{}, fmt.Errorf("postgres: get intent %s: %w", id, err)
	}
	return in, nil
}

// ListOpen returns open intents for an instrument in FIFO order.
func (s *IntentStore) ListOpen(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.TradingIntent, error) {
	query := `SELECT ` + intentSelectCols + ` FROM intents
		WHERE instrument = $1 AND status = 'open'
		ORDER BY created_at ASC`
	args := []any{instrument}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open intents: %w", err)
	}
	defer rows.Close()

	intents, err := scanIntentRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open intents: %w", err)
	}
	return intents, nil
}

// ListByAgent returns an agent's intents, newest first, with pagination.
func (s *IntentStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.TradingIntent, error) {
	query := `SELECT ` + intentSelectCols + ` FROM intents WHERE agent_id = $1`
	args := []any{agentID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list intents by agent: %w", err)
	}
	defer rows.Close()

	intents, err := scanIntentRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan intents by agent: %w", err)
	}
	return intents, nil
}

// ListOpenExpired returns open intents whose expiry has passed at now.
func (s *IntentStore) ListOpenExpired(ctx context.Context, now time.Time) ([]domain.TradingIntent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+intentSelectCols+` FROM intents
		 WHERE status = 'open' AND expires_at IS NOT NULL AND expires_at < $1
		 ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired intents: %w", err)
	}
	defer rows.Close()

	intents, err := scanIntentRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired intents: %w", err)
	}
	return intents, nil
}

// Transition advances an intent's status with a compare-and-swap on
// (status, version). On a zero-row update the stored row is re-read to
// distinguish a stale version (ErrConflict) from a wrong status
// (ErrInvalidState).
func (s *IntentStore) Transition(ctx context.Context, id string, from, to domain.IntentStatus, version int64, matchedWith string) error {
	const query = `
		UPDATE intents SET
			status = $3,
			version = version + 1,
			matched_with = CASE WHEN $5 <> '' THEN $5 ELSE matched_with END
		WHERE id = $1 AND status = $2 AND version = $4`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to), version, matchedWith)
	if err != nil {
		return fmt.Errorf("postgres: transition intent %s: %w", id, err)
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

// Compile-time interface check.
var _ domain.IntentStore = (*IntentStore)(nil)
