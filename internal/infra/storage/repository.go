package storage

import (
	"context"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
)

// FailedRecordRepository handles the durable retry queue table. All mutations
// are single-statement row-level updates so the retry cycle and the live
// import path cannot race a read-modify-write on the same row.
type FailedRecordRepository interface {
	// Add persists a new failure
	Add(ctx context.Context, rec *domain.FailedRecord) error

	// ListFailed returns all rows in failed status, oldest attempt first
	ListFailed(ctx context.Context) ([]*domain.FailedRecord, error)

	// MarkSuccess finishes a replayed row: attempts+1, status success
	MarkSuccess(ctx context.Context, id string) error

	// MarkRetryFailed records another failed replay: attempts+1, fresh
	// message, and the bib id when one was created during the attempt
	MarkRetryFailed(ctx context.Context, id, message, mmsID string) error

	// MarkExhausted stops a row: status max_attempts, mail_sent true
	MarkExhausted(ctx context.Context, id string) error

	// Requeue puts an exhausted row back into rotation
	Requeue(ctx context.Context, id string) error

	// Delete removes a row (operator action only)
	Delete(ctx context.Context, id string) error

	// CountFailed returns the number of rows in failed status
	CountFailed(ctx context.Context) (int, error)

	// List returns all rows regardless of status (operator tooling)
	List(ctx context.Context) ([]*domain.FailedRecord, error)
}

// CursorRepository tracks how far the incremental export has been harvested.
type CursorRepository interface {
	// Get returns the last harvested time; zero time when never set
	Get(ctx context.Context) (time.Time, error)

	// Set advances the cursor
	Set(ctx context.Context, t time.Time) error
}
