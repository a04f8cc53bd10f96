// Package memory provides in-memory repository implementations, used by tests
// and by runs without a configured database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
)

type MemoryStorage struct {
	records map[string]*domain.FailedRecord
	cursor  time.Time
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*domain.FailedRecord),
	}
}

// -----------------------------------------------------------------------------
// Failed Record Repository
// -----------------------------------------------------------------------------

type FailedRecordRepo struct {
	store *MemoryStorage
}

func NewFailedRecordRepo(store *MemoryStorage) *FailedRecordRepo {
	return &FailedRecordRepo{store: store}
}

func (r *FailedRecordRepo) Add(ctx context.Context, rec *domain.FailedRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *rec
	if clone.Status == "" {
		clone.Status = domain.FailedRecordStatusFailed
	}
	clone.CreatedAt = time.Now()
	clone.LastAttempt = time.Now()
	r.store.records[clone.ID] = &clone
	return nil
}

func (r *FailedRecordRepo) ListFailed(ctx context.Context) ([]*domain.FailedRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.FailedRecord
	for _, rec := range r.store.records {
		if rec.Status == domain.FailedRecordStatusFailed {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttempt.Before(out[j].LastAttempt) })
	return out, nil
}

func (r *FailedRecordRepo) MarkSuccess(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.records[id]
	if !ok {
		return fmt.Errorf("failed record %s not found", id)
	}
	rec.Attempts++
	rec.LastAttempt = time.Now()
	rec.Status = domain.FailedRecordStatusSuccess
	rec.Message = ""
	return nil
}

func (r *FailedRecordRepo) MarkRetryFailed(ctx context.Context, id, message, mmsID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.records[id]
	if !ok {
		return fmt.Errorf("failed record %s not found", id)
	}
	rec.Attempts++
	rec.LastAttempt = time.Now()
	rec.Message = message
	if mmsID != "" {
		rec.MmsID = mmsID
	}
	return nil
}

func (r *FailedRecordRepo) MarkExhausted(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.records[id]
	if !ok {
		return fmt.Errorf("failed record %s not found", id)
	}
	rec.Status = domain.FailedRecordStatusMaxAttempts
	rec.MailSent = true
	return nil
}

func (r *FailedRecordRepo) Requeue(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.records[id]
	if !ok {
		return fmt.Errorf("failed record %s not found", id)
	}
	rec.Status = domain.FailedRecordStatusFailed
	rec.Attempts = 0
	rec.MailSent = false
	rec.Message = ""
	return nil
}

func (r *FailedRecordRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.records, id)
	return nil
}

func (r *FailedRecordRepo) CountFailed(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, rec := range r.store.records {
		if rec.Status == domain.FailedRecordStatusFailed {
			count++
		}
	}
	return count, nil
}

func (r *FailedRecordRepo) List(ctx context.Context) ([]*domain.FailedRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.FailedRecord
	for _, rec := range r.store.records {
		clone := *rec
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get returns a record by id. Test helper.
func (r *FailedRecordRepo) Get(id string) *domain.FailedRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[id]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context) (time.Time, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.cursor, nil
}

func (r *CursorRepo) Set(ctx context.Context, t time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.cursor = t
	return nil
}
