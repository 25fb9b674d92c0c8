package views

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrContentNotFound = errors.New("content not found")

// CounterStore is the durable per-content view counter. Increment must be a
// single atomic statement; many viewers hit the same row concurrently and an
// application-level read-modify-write would lose updates.
type CounterStore interface {
	Increment(ctx context.Context, contentID string) (int64, error)
	Get(ctx context.Context, contentID string) (int64, error)
}

type PostgresCounter struct {
	db *sql.DB
}

func NewPostgresCounter(db *sql.DB) *PostgresCounter {
	return &PostgresCounter{db: db}
}

func (r *PostgresCounter) Increment(ctx context.Context, contentID string) (int64, error) {
	var views int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE vlogs
		SET views = views + 1
		WHERE id = $1
		RETURNING views
	`, contentID).Scan(&views)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrContentNotFound
		}
		return 0, fmt.Errorf("increment views: %w", err)
	}

	return views, nil
}

func (r *PostgresCounter) Get(ctx context.Context, contentID string) (int64, error) {
	var views int64
	err := r.db.QueryRowContext(ctx, `
		SELECT views
		FROM vlogs
		WHERE id = $1
	`, contentID).Scan(&views)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrContentNotFound
		}
		return 0, fmt.Errorf("read views: %w", err)
	}

	return views, nil
}
