package domain

import "time"

// FailedRecord is a row in the libris_import_failed_records queue table.
// Rows are created on the first reconciliation failure and are never deleted
// by the system itself; operators clear them.
type FailedRecord struct {
	ID         string
	LibrisID   string
	RecordType RecordType
	Record     string // raw MARCXML, replayed on retry

	// MmsID is persisted as soon as a failed attempt has created a bib in
	// Alma, so a replay resumes from the update branch instead of racing a
	// lagging search index into a duplicate bib.
	MmsID string

	Attempts    int
	LastAttempt time.Time
	MailSent    bool
	Status      FailedRecordStatus
	Message     string
	CreatedAt   time.Time
}

type FailedRecordStatus string

const (
	FailedRecordStatusFailed      FailedRecordStatus = "failed"
	FailedRecordStatusSuccess     FailedRecordStatus = "success"
	FailedRecordStatusMaxAttempts FailedRecordStatus = "max_attempts"
)
