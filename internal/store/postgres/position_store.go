package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/selimacar/trendbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Create inserts a closed position record.
func (s *PositionStore) Create(ctx context.Context, p domain.ClosedPosition) error {
	const query = `
		INSERT INTO closed_positions (
			id, symbol, side, size, entry_price, exit_price,
			pnl, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var openedAt any
	if !p.OpenedAt.IsZero() {
		openedAt = p.OpenedAt
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side), p.Size, p.EntryPrice, p.ExitPrice,
		p.PnL, openedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create closed position %s: %w", p.ID, err)
	}
	return nil
}

// ListRecent returns closed positions newest-first with pagination.
func (s *PositionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedPosition, error) {
	query := `SELECT id, symbol, side, size, entry_price, exit_price, pnl,
		COALESCE(opened_at, 'epoch'::timestamptz), closed_at
		FROM closed_positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

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
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.ClosedPosition
	for rows.Next() {
		var p domain.ClosedPosition
		var side string
		err := rows.Scan(&p.ID, &p.Symbol, &side, &p.Size,
			&p.EntryPrice, &p.ExitPrice, &p.PnL, &p.OpenedAt, &p.ClosedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}
		p.Side = domain.OrderSide(side)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closed positions rows: %w", err)
	}
	return positions, nil
}
