package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore backed by the given connection pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Insert records one order attempt. Re-inserting the same attempt ID is a
// no-op.
func (s *AttemptStore) Insert(ctx context.Context, a domain.OrderAttempt) error {
	const query = `
		INSERT INTO order_attempts (
			id, attempted_at, ticker, series, side, action, quantity, price,
			order_id, status, cost, fees, strategy, error_code, error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Time, a.Ticker, a.Series, string(a.Side), string(a.Action), a.Quantity, a.Price,
		a.OrderID, string(a.Status), a.Cost, a.Fees, string(a.Strategy), a.ErrorCode, a.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attempt %s: %w", a.ID, err)
	}
	return nil
}

// ListRecent returns attempts newest first.
func (s *AttemptStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.OrderAttempt, error) {
	query := `SELECT id, attempted_at, ticker, series, side, action, quantity, price::float8,
		order_id, status, cost::float8, fees::float8, strategy, error_code, error
		FROM order_attempts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND attempted_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY attempted_at DESC"
	query, args = paginate(query, args, argIdx, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderAttempt
	for rows.Next() {
		var a domain.OrderAttempt
		var side, action, status, strat string
		if err := rows.Scan(
			&a.ID, &a.Time, &a.Ticker, &a.Series, &side, &action, &a.Quantity, &a.Price,
			&a.OrderID, &status, &a.Cost, &a.Fees, &strat, &a.ErrorCode, &a.Error,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		a.Side = domain.Side(side)
		a.Action = domain.Action(action)
		a.Status = domain.AttemptStatus(status)
		a.Strategy = domain.StrategyType(strat)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return out, nil
}

// paginate appends LIMIT and OFFSET placeholders starting at argIdx.
func paginate(query string, args []any, argIdx int, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
