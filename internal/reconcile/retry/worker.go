package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile/metrics"
)

// Processor replays a stored record through the reconciliation engine.
type Processor interface {
	Process(ctx context.Context, rec *domain.MarcRecord, prior domain.TargetRecordSet) reconcile.Outcome
}

// Alerter sends the one-shot max-attempts mail.
type Alerter interface {
	Enabled() bool
	SendMaxAttemptsAlert(ctx context.Context, rec *domain.FailedRecord) error
}

// Locker serializes work on a single Libris record across processes.
type Locker interface {
	AcquireRecordLock(ctx context.Context, librisID string) (bool, error)
	ReleaseRecordLock(ctx context.Context, librisID string) error
}

// Worker drives the durable retry queue: it records live-path failures and
// periodically replays queued rows until they succeed or run out of attempts.
type Worker struct {
	repo   storage.FailedRecordRepository
	engine Processor
	mailer Alerter
	locker Locker // nil when redis is not configured

	// mu is shared with the importer: at most one reconciliation runs in
	// this process at a time.
	mu *sync.Mutex

	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger
}

// NewWorker creates a retry worker. locker may be nil.
func NewWorker(
	repo storage.FailedRecordRepository,
	engine Processor,
	mailer Alerter,
	locker Locker,
	mu *sync.Mutex,
	maxAttempts int,
	interval time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		repo:        repo,
		engine:      engine,
		mailer:      mailer,
		locker:      locker,
		mu:          mu,
		maxAttempts: maxAttempts,
		interval:    interval,
		logger:      logger,
	}
}

// RecordFailure queues a record whose live reconciliation failed. Attempts
// start at zero and count replays only, so each row gets the full retry
// budget. A bib id created before the failing step is persisted with the row
// so the replay resumes from the update branch.
func (w *Worker) RecordFailure(ctx context.Context, rec *domain.MarcRecord, raw []byte, outcome reconcile.Outcome) error {
	row := &domain.FailedRecord{
		ID:          uuid.New().String(),
		LibrisID:    rec.BibID(),
		RecordType:  domain.Classify(rec),
		Record:      string(raw),
		MmsID:       outcome.Set.MmsID,
		Attempts:    0,
		LastAttempt: time.Now(),
		Status:      domain.FailedRecordStatusFailed,
		Message:     failureMessage(outcome),
		CreatedAt:   time.Now(),
	}
	if !outcome.Set.CreatedBib {
		row.MmsID = ""
	}

	if err := w.repo.Add(ctx, row); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	w.logger.Warn("record queued for retry",
		"libris_id", row.LibrisID,
		"type", row.RecordType,
		"step", outcome.Step,
		"error", outcome.Err)
	return nil
}

// Start runs the retry loop until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Initial cycle
	w.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// RunCycle replays every row in failed status once.
func (w *Worker) RunCycle(ctx context.Context) error {
	rows, err := w.repo.ListFailed(ctx)
	if err != nil {
		return fmt.Errorf("retry cycle: list failed records: %w", err)
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if row.Attempts >= w.maxAttempts {
			w.exhaust(ctx, row)
			continue
		}
		w.replay(ctx, row)
	}

	metrics.RetryCycles.Inc()
	if depth, err := w.repo.CountFailed(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	return nil
}

func (w *Worker) runCycle(ctx context.Context) {
	if err := w.RunCycle(ctx); err != nil {
		w.logger.Error("retry cycle failed", "error", err)
	}
}

// replay runs one queued row through the engine again.
func (w *Worker) replay(ctx context.Context, row *domain.FailedRecord) {
	if w.locker != nil {
		ok, err := w.locker.AcquireRecordLock(ctx, row.LibrisID)
		if err != nil {
			w.logger.Error("record lock failed", "libris_id", row.LibrisID, "error", err)
			return
		}
		if !ok {
			// Another process holds the record; next cycle picks it up.
			return
		}
		defer func() {
			if err := w.locker.ReleaseRecordLock(ctx, row.LibrisID); err != nil {
				w.logger.Error("record unlock failed", "libris_id", row.LibrisID, "error", err)
			}
		}()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	rec, err := domain.ParseRecord([]byte(row.Record))
	if err != nil {
		// Stored payload is unparseable; retrying cannot fix it.
		if err := w.repo.MarkRetryFailed(ctx, row.ID, fmt.Sprintf("parse: %v", err), ""); err != nil {
			w.logger.Error("mark retry failed", "id", row.ID, "error", err)
		}
		return
	}

	prior := domain.TargetRecordSet{MmsID: row.MmsID, CreatedBib: row.MmsID != ""}
	outcome := w.engine.Process(ctx, rec, prior)

	if outcome.Status == reconcile.OutcomeFailed {
		mmsID := ""
		if outcome.Set.CreatedBib {
			mmsID = outcome.Set.MmsID
		}
		if err := w.repo.MarkRetryFailed(ctx, row.ID, failureMessage(outcome), mmsID); err != nil {
			w.logger.Error("mark retry failed", "id", row.ID, "error", err)
		}
		w.logger.Warn("retry attempt failed",
			"libris_id", row.LibrisID,
			"attempt", row.Attempts+1,
			"step", outcome.Step,
			"error", outcome.Err)
		return
	}

	if err := w.repo.MarkSuccess(ctx, row.ID); err != nil {
		w.logger.Error("mark success failed", "id", row.ID, "error", err)
		return
	}
	w.logger.Info("retry succeeded",
		"libris_id", row.LibrisID,
		"attempts", row.Attempts+1,
		"status", outcome.Status)
}

// exhaust retires a row that has used up its attempts. The alert mail rides on
// the failed-to-max_attempts transition, so it goes out at most once per row.
// If the send fails the row stays in failed status and the next cycle tries
// the mail again.
func (w *Worker) exhaust(ctx context.Context, row *domain.FailedRecord) {
	if !row.MailSent && w.mailer != nil && w.mailer.Enabled() {
		if err := w.mailer.SendMaxAttemptsAlert(ctx, row); err != nil {
			w.logger.Error("alert mail failed", "libris_id", row.LibrisID, "error", err)
			return
		}
		metrics.AlertsSent.Inc()
	}

	if err := w.repo.MarkExhausted(ctx, row.ID); err != nil {
		w.logger.Error("mark exhausted failed", "id", row.ID, "error", err)
		return
	}
	w.logger.Warn("record exhausted retry attempts",
		"libris_id", row.LibrisID,
		"attempts", row.Attempts)
}

func failureMessage(outcome reconcile.Outcome) string {
	if outcome.Err == nil {
		return outcome.Step
	}
	return fmt.Sprintf("%s: %v", outcome.Step, outcome.Err)
}
