package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// AgentStore implements domain.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates a new AgentStore backed by the given connection pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

const agentSelectCols = `id, wallet, status, reputation, total_volume,
	trade_count, realized_pnl, created_at, updated_at`

// Create inserts a new agent. A second agent for the same wallet returns
// domain.ErrAlreadyExists.
func (s *AgentStore) Create(ctx context.Context, a domain.Agent) error {
	const query = `
		INSERT INTO agents (
			id, wallet, status, reputation, total_volume,
			trade_count, realized_pnl, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Wallet, string(a.Status), a.Reputation, a.TotalVolume,
		a.TradeCount, a.RealizedPnL, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create agent %s: %w", a.ID, err)
	}
	return nil
}

func scanAgentFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Agent, error) {
	var a domain.Agent
	var status string

	err := scanner.Scan(
		&a.ID, &a.Wallet, &status, &a.Reputation, &a.TotalVolume,
		&a.TradeCount, &a.RealizedPnL, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Agent{}, err
	}
	a.Status = domain.AgentStatus(status)
	return a, nil
}

// GetByID retrieves an agent by ID.
func (s *AgentStore) GetByID(ctx context.Context, id string) (domain.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE id = $1`, id)

	a, err := scanAgentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Agent{}, domain.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("postgres: get agent %s: %w", id, err)
	}
	return a, nil
}

// GetByWallet retrieves an agent by wallet address.
func (s *AgentStore) GetByWallet(ctx context.Context, wallet string) (domain.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE wallet = $1`, wallet)

	a, err := scanAgentFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Agent{}, domain.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("postgres: get agent by wallet: %w", err)
	}
	return a, nil
}

// Update persists the mutable agent fields.
func (s *AgentStore) Update(ctx context.Context, a domain.Agent) error {
	const query = `
		UPDATE agents SET
			status = $2, reputation = $3, total_volume = $4,
			trade_count = $5, realized_pnl = $6, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Status), a.Reputation, a.TotalVolume,
		a.TradeCount, a.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: update agent %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.AgentStore = (*AgentStore)(nil)
