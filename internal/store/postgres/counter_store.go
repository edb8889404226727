package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CounterStore is the durable fallback for the sales counters. The fast
// path is the Redis INCR; this store is consulted when Redis is down. The
// read-modify-write here accepts a small race window: these are display
// metrics, not money.
type CounterStore struct {
	db *sql.DB
}

func NewCounterStore(db *sql.DB) *CounterStore {
	return &CounterStore{db: db}
}

func (c *CounterStore) GetSales(ctx context.Context, contentID uuid.UUID) (weekly, total int64, err error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT weekly_sales, total_sales FROM content_sales WHERE content_id = $1`,
		contentID)
	err = row.Scan(&weekly, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("db: get sales counters: %w", err)
	}
	return weekly, total, nil
}

func (c *CounterStore) SetSales(ctx context.Context, contentID uuid.UUID, weekly, total int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO content_sales (content_id, weekly_sales, total_sales, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (content_id) DO UPDATE
		SET weekly_sales = $2, total_sales = $3, updated_at = NOW()`,
		contentID, weekly, total)
	if err != nil {
		return fmt.Errorf("db: set sales counters: %w", err)
	}
	return nil
}
