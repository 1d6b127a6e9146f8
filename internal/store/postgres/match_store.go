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

// MatchStore implements domain.MatchStore using PostgreSQL.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a new MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

const matchSelectCols = `id, taker_intent, maker_intent, taker_agent,
	maker_agent, instrument, size_usd, exec_price, status, ledger_tx_ref,
	created_at, executed_at`

// Create inserts a new match.
func (s *MatchStore) Create(ctx context.Context, m domain.Match) error {
	const query = `
		INSERT INTO matches (
			id, taker_intent, maker_intent, taker_agent,
			maker_agent, instrument, size_usd, exec_price, status,
			ledger_tx_ref, created_at, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.TakerIntent, m.MakerIntent, m.TakerAgent,
		m.MakerAgent, m.Instrument, m.SizeUSD, m.ExecPrice, string(m.Status),
		m.LedgerTxRef, m.CreatedAt, m.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create match %s: %w", m.ID, err)
	}
	return nil
}

func scanMatchFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Match, error) {
	var m domain.Match
	var status string
	var executedAt *time.Time

	err := scanner.Scan(
		&m.ID, &m.TakerIntent, &m.MakerIntent, &m.TakerAgent,
		&m.MakerAgent, &m.Instrument, &m.SizeUSD, &m.ExecPrice, &status,
		&m.LedgerTxRef, &m.CreatedAt, &executedAt,
	)
	if err != nil {
		return domain.Match{}, err
	}
	m.Status = domain.MatchStatus(status)
	m.ExecutedAt = executedAt
	return m, nil
}

// GetByID retrieves a single match by ID.
func (s *MatchStore) GetByID(ctx context.Context, id string) (domain.Match, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+matchSelectCols+` FROM matches WHERE id = $1`, id)

	m, err := scanMatchFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("postgres: get match %s: %w", id, err)
	}
	return m, nil
}

// UpdateStatus advances a match's status, recording the ledger transaction
// reference when provided and stamping executed_at on execution.
func (s *MatchStore) UpdateStatus(ctx context.Context, id string, status domain.MatchStatus, txRef string) error {
	var query string
	if status == domain.MatchStatusExecuted {
		query = `UPDATE matches SET status = $2,
			ledger_tx_ref = CASE WHEN $3 <> '' THEN $3 ELSE ledger_tx_ref END,
			executed_at = NOW()
			WHERE id = $1`
	} else {
		query = `UPDATE matches SET status = $2,
			ledger_tx_ref = CASE WHEN $3 <> '' THEN $3 ELSE ledger_tx_ref END
			WHERE id = $1`
	}

	tag, err := s.pool.Exec(ctx, query, id, string(status), txRef)
	if err != nil {
		return fmt.Errorf("postgres: update match status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently created matches.
func (s *MatchStore) ListRecent(ctx context.Context, limit int) ([]domain.Match, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+matchSelectCols+` FROM matches
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatchFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Compile-time interface check.
var _ domain.MatchStore = (*MatchStore)(nil)
