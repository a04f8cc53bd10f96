package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL. The table
// holds a single row tracking how far the incremental export has been
// harvested.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get returns the last harvested time, or the zero time when the cursor has
// never been set.
func (r *CursorRepo) Get(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.db.GetContext(ctx, &t, `SELECT last_harvested FROM import_cursor WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get import cursor: %w", err)
	}
	return t, nil
}

// Set advances the cursor (upsert, single row).
func (r *CursorRepo) Set(ctx context.Context, t time.Time) error {
	query := `
		INSERT INTO import_cursor (id, last_harvested) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_harvested = EXCLUDED.last_harvested
	`
	if _, err := r.db.ExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("failed to set import cursor: %w", err)
	}
	return nil
}
