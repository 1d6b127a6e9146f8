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

// FeeStore implements domain.FeeStore using PostgreSQL. The fee ledger is
// append-only; there are no update or delete paths.
type FeeStore struct {
	pool *pgxpool.Pool
}

// NewFeeStore creates a new FeeStore backed by the given connection pool.
func NewFeeStore(pool *pgxpool.Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

const feeSelectCols = `id, fee_type, agent_id, amount_usd, rate,
	schedule_version, reference, created_at`

// Insert appends one fee record. Re-inserting an existing ID returns
// domain.ErrAlreadyExists.
func (s *FeeStore) Insert(ctx context.Context, rec domain.FeeRecord) error {
	const query = `
		INSERT INTO fee_records (
			id, fee_type, agent_id, amount_usd, rate,
			schedule_version, reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, string(rec.Type), rec.AgentID, rec.AmountUSD, rec.Rate,
		rec.ScheduleVersion, rec.Reference, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert fee record %s: %w", rec.ID, err)
	}
	return nil
}

func scanFeeFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.FeeRecord, error) {
	var rec domain.FeeRecord
	var feeType string

	err := scanner.Scan(
		&rec.ID, &feeType, &rec.AgentID, &rec.AmountUSD, &rec.Rate,
		&rec.ScheduleVersion, &rec.Reference, &rec.CreatedAt,
	)
	if err != nil {
		return domain.FeeRecord{}, err
	}
	rec.Type = domain.FeeType(feeType)
	return rec, nil
}

func scanFeeRows(rows pgx.Rows) ([]domain.FeeRecord, error) {
	var records []domain.FeeRecord
	for rows.Next() {
		rec, err := scanFeeFromRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListByAgent returns an agent's fee records, newest first, with pagination.
func (s *FeeStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.FeeRecord, error) {
	query := `SELECT ` + feeSelectCols + ` FROM fee_records WHERE agent_id = $1`
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
		return nil, fmt.Errorf("postgres: list fees by agent: %w", err)
	}
	defer rows.Close()

	records, err := scanFeeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fees by agent: %w", err)
	}
	return records, nil
}

// ListSince returns fee records created at or after since, oldest first.
// The archiver pages through the ledger with this.
func (s *FeeStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.FeeRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+feeSelectCols+` FROM fee_records
		 WHERE created_at >= $1 ORDER BY created_at ASC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fees since: %w", err)
	}
	defer rows.Close()

	records, err := scanFeeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fees since: %w", err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.FeeStore = (*FeeStore)(nil)
