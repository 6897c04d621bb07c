package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. One row
// tracks one ledger entry from open to its last closed leg.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes the current state of a ledger entry.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.MultiLegPosition) error {
	const query = `
		INSERT INTO positions (
			id, ticker, series, strategy, mode, status,
			yes_count, yes_price, no_count, no_price,
			total_cost, reference, entry_time, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			yes_count  = EXCLUDED.yes_count,
			yes_price  = EXCLUDED.yes_price,
			no_count   = EXCLUDED.no_count,
			no_price   = EXCLUDED.no_price,
			total_cost = EXCLUDED.total_cost,
			updated_at = NOW()`

	yesCount, yesPrice := legColumns(pos.Yes)
	noCount, noPrice := legColumns(pos.No)
	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Ticker, pos.Series, string(pos.Strategy), string(pos.Mode), string(pos.Status),
		yesCount, yesPrice, noCount, noPrice,
		pos.TotalCost(), pos.Reference, pos.EntryTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.ID, err)
	}
	return nil
}

// Close zeroes the closed legs, accumulates proceeds and realized P&L, and
// marks the row closed once no leg remains.
func (s *PositionStore) Close(ctx context.Context, c domain.ClosedPosition) error {
	var closeYes, closeNo bool
	for _, side := range c.Sides {
		switch side {
		case domain.SideYes:
			closeYes = true
		case domain.SideNo:
			closeNo = true
		}
	}

	const query = `
		UPDATE positions SET
			yes_count    = CASE WHEN $2 THEN 0 ELSE yes_count END,
			no_count     = CASE WHEN $3 THEN 0 ELSE no_count END,
			status       = CASE
				WHEN (CASE WHEN $2 THEN 0 ELSE yes_count END) = 0
				 AND (CASE WHEN $3 THEN 0 ELSE no_count END) = 0 THEN 'closed'
				ELSE 'partial' END,
			close_reason = $4,
			proceeds     = COALESCE(proceeds, 0) + $5,
			realized_pnl = COALESCE(realized_pnl, 0) + $6,
			closed_at    = $7,
			updated_at   = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, c.PositionID, closeYes, closeNo, c.Reason, c.Proceeds, c.RealizedPnL, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", c.PositionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close position %s: %w", c.PositionID, domain.ErrNotFound)
	}
	return nil
}

// ListClosed returns closed entries newest first.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedPosition, error) {
	query := `SELECT id, ticker, series, strategy, COALESCE(close_reason, ''),
		COALESCE(proceeds, 0)::float8, total_cost::float8, COALESCE(realized_pnl, 0)::float8, closed_at
		FROM positions WHERE status = 'closed'`
	args := []any{}
	argIdx := 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY closed_at DESC"
	query, args = paginate(query, args, argIdx, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedPosition
	for rows.Next() {
		var (
			c     domain.ClosedPosition
			strat string
		)
		if err := rows.Scan(&c.PositionID, &c.Ticker, &c.Series, &strat, &c.Reason,
			&c.Proceeds, &c.Cost, &c.RealizedPnL, &c.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}
		c.Strategy = domain.StrategyType(strat)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closed positions rows: %w", err)
	}
	return out, nil
}

func legColumns(p *domain.Position) (int, *float64) {
	if p == nil {
		return 0, nil
	}
	price := p.EntryPrice
	return p.Count, &price
}
