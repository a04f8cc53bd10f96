package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
)

// FailedRecordRepo implements storage.FailedRecordRepository using PostgreSQL.
type FailedRecordRepo struct {
	db *DB
}

// NewFailedRecordRepo creates a new PostgreSQL failed record repository.
func NewFailedRecordRepo(db *DB) *FailedRecordRepo {
	return &FailedRecordRepo{db: db}
}

type failedRecordRow struct {
	ID          string    `db:"id"`
	LibrisID    string    `db:"libris_id"`
	RecordType  string    `db:"record_type"`
	Record      string    `db:"record"`
	MmsID       string    `db:"mms_id"`
	Attempts    int       `db:"attempts"`
	LastAttempt time.Time `db:"last_attempt"`
	MailSent    bool      `db:"mail_sent"`
	Status      string    `db:"status"`
	Message     string    `db:"message"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r failedRecordRow) toDomain() *domain.FailedRecord {
	return &domain.FailedRecord{
		ID:          r.ID,
		LibrisID:    r.LibrisID,
		RecordType:  domain.RecordType(r.RecordType),
		Record:      r.Record,
		MmsID:       r.MmsID,
		Attempts:    r.Attempts,
		LastAttempt: r.LastAttempt,
		MailSent:    r.MailSent,
		Status:      domain.FailedRecordStatus(r.Status),
		Message:     r.Message,
		CreatedAt:   r.CreatedAt,
	}
}

// Add persists a new failure.
func (r *FailedRecordRepo) Add(ctx context.Context, rec *domain.FailedRecord) error {
	query := `
		INSERT INTO libris_import_failed_records
			(id, libris_id, record_type, record, mms_id, attempts, last_attempt, mail_sent, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), FALSE, $7, $8, NOW())
	`
	status := string(rec.Status)
	if status == "" {
		status = string(domain.FailedRecordStatusFailed)
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.LibrisID,
		string(rec.RecordType),
		rec.Record,
		rec.MmsID,
		rec.Attempts,
		status,
		rec.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to add failed record: %w", err)
	}
	return nil
}

// ListFailed returns all rows in failed status, oldest attempt first.
func (r *FailedRecordRepo) ListFailed(ctx context.Context) ([]*domain.FailedRecord, error) {
	query := `
		SELECT id, libris_id, record_type, record, mms_id, attempts, last_attempt, mail_sent, status, message, created_at
		FROM libris_import_failed_records
		WHERE status = 'failed'
		ORDER BY last_attempt ASC
	`
	var rows []failedRecordRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list failed records: %w", err)
	}

	records := make([]*domain.FailedRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// MarkSuccess finishes a replayed row.
func (r *FailedRecordRepo) MarkSuccess(ctx context.Context, id string) error {
	query := `
		UPDATE libris_import_failed_records
		SET attempts = attempts + 1, last_attempt = NOW(), status = 'success', message = ''
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// MarkRetryFailed records another failed replay. The attempt counter and
// timestamp move unconditionally; the bib id is kept once known so the next
// replay resumes from the update branch.
func (r *FailedRecordRepo) MarkRetryFailed(ctx context.Context, id, message, mmsID string) error {
	query := `
		UPDATE libris_import_failed_records
		SET attempts = attempts + 1,
		    last_attempt = NOW(),
		    message = $2,
		    mms_id = CASE WHEN $3 <> '' THEN $3 ELSE mms_id END
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, message, mmsID)
	return err
}

// MarkExhausted stops a row after its alert has been sent.
func (r *FailedRecordRepo) MarkExhausted(ctx context.Context, id string) error {
	query := `
		UPDATE libris_import_failed_records
		SET status = 'max_attempts', mail_sent = TRUE
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Requeue puts an exhausted row back into rotation.
func (r *FailedRecordRepo) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE libris_import_failed_records
		SET status = 'failed', attempts = 0, mail_sent = FALSE, message = ''
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Delete removes a row. Only operator tooling calls this; the worker never
// deletes rows.
func (r *FailedRecordRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM libris_import_failed_records WHERE id = $1`, id)
	return err
}

// CountFailed returns the number of rows in failed status.
func (r *FailedRecordRepo) CountFailed(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM libris_import_failed_records WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed records: %w", err)
	}
	return count, nil
}

// List returns all rows regardless of status.
func (r *FailedRecordRepo) List(ctx context.Context) ([]*domain.FailedRecord, error) {
	query := `
		SELECT id, libris_id, record_type, record, mms_id, attempts, last_attempt, mail_sent, status, message, created_at
		FROM libris_import_failed_records
		ORDER BY created_at ASC
	`
	var rows []failedRecordRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	records := make([]*domain.FailedRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}
