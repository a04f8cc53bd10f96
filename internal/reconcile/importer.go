package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile/metrics"
)

// ExportFeed delivers the incremental MARC export for a time window.
type ExportFeed interface {
	Updates(ctx context.Context, from, to time.Time) ([]byte, error)
}

// FailureSink receives records whose live reconciliation failed.
type FailureSink interface {
	RecordFailure(ctx context.Context, rec *domain.MarcRecord, raw []byte, outcome Outcome) error
}

// RecordLocker serializes work on a single Libris record across processes.
type RecordLocker interface {
	AcquireRecordLock(ctx context.Context, librisID string) (bool, error)
	ReleaseRecordLock(ctx context.Context, librisID string) error
}

type processor interface {
	Process(ctx context.Context, rec *domain.MarcRecord, prior domain.TargetRecordSet) Outcome
}

// Importer harvests the Libris export feed on an interval and runs every
// delivered record through the reconciliation engine. The harvest cursor only
// advances after a batch has been fully walked; failed records land in the
// retry queue rather than holding the cursor back.
type Importer struct {
	feed   ExportFeed
	engine processor
	cursor storage.CursorRepository
	sink   FailureSink
	locker RecordLocker // nil when redis is not configured

	// mu is shared with the retry worker: at most one reconciliation runs
	// in this process at a time.
	mu *sync.Mutex

	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewImporter creates an importer. locker may be nil.
func NewImporter(
	feed ExportFeed,
	engine *Engine,
	cursor storage.CursorRepository,
	sink FailureSink,
	locker RecordLocker,
	mu *sync.Mutex,
	interval time.Duration,
	logger *slog.Logger,
) *Importer {
	return &Importer{
		feed:     feed,
		engine:   engine,
		cursor:   cursor,
		sink:     sink,
		locker:   locker,
		mu:       mu,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the import loop until the context is cancelled.
func (i *Importer) Start(ctx context.Context) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	// Initial harvest
	i.runBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.runBatch(ctx)
		}
	}
}

// RunBatch harvests one window of the export feed and reconciles every record
// in it. The cursor moves to the window end even when individual records
// failed; those are queued durably and retried independently.
func (i *Importer) RunBatch(ctx context.Context) error {
	to := i.now()
	from, err := i.cursor.Get(ctx)
	if err != nil {
		metrics.ImportBatches.WithLabelValues("error").Inc()
		return fmt.Errorf("import batch: read cursor: %w", err)
	}
	if from.IsZero() {
		// First run ever: harvest one interval back, not all of history.
		from = to.Add(-i.interval)
	}

	data, err := i.feed.Updates(ctx, from, to)
	if err != nil {
		metrics.ImportBatches.WithLabelValues("error").Inc()
		return fmt.Errorf("import batch: fetch updates: %w", err)
	}

	// A quiet window comes back as an empty body, not an empty collection.
	var records []*domain.MarcRecord
	if len(bytes.TrimSpace(data)) > 0 {
		records, err = domain.ParseCollection(data)
		if err != nil {
			metrics.ImportBatches.WithLabelValues("error").Inc()
			return fmt.Errorf("import batch: parse export: %w", err)
		}
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.processRecord(ctx, rec)
	}

	if err := i.cursor.Set(ctx, to); err != nil {
		metrics.ImportBatches.WithLabelValues("error").Inc()
		return fmt.Errorf("import batch: advance cursor: %w", err)
	}

	metrics.ImportBatches.WithLabelValues("ok").Inc()
	if len(records) > 0 {
		i.logger.Info("import batch done",
			"records", len(records),
			"from", from,
			"to", to)
	}
	return nil
}

func (i *Importer) runBatch(ctx context.Context) {
	if err := i.RunBatch(ctx); err != nil {
		i.logger.Error("import batch failed", "error", err)
	}
}

func (i *Importer) processRecord(ctx context.Context, rec *domain.MarcRecord) {
	librisID := rec.BibID()

	if i.locker != nil {
		ok, err := i.locker.AcquireRecordLock(ctx, librisID)
		if err != nil {
			i.logger.Error("record lock failed", "libris_id", librisID, "error", err)
			return
		}
		if !ok {
			// Another process is working the record right now. It will
			// reappear in the feed until its marker is cleared.
			i.logger.Warn("record locked elsewhere, skipping", "libris_id", librisID)
			return
		}
		defer func() {
			if err := i.locker.ReleaseRecordLock(ctx, librisID); err != nil {
				i.logger.Error("record unlock failed", "libris_id", librisID, "error", err)
			}
		}()
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	outcome := i.engine.Process(ctx, rec, domain.TargetRecordSet{})
	switch outcome.Status {
	case OutcomeDone:
		i.logger.Info("record reconciled",
			"libris_id", librisID,
			"mms_id", outcome.Set.MmsID,
			"created", outcome.Set.CreatedBib)
	case OutcomeSkippedNoHoldings, OutcomeSkippedNotEligible:
		i.logger.Debug("record skipped", "libris_id", librisID, "reason", outcome.Status)
	case OutcomeFailed:
		raw, merr := domain.MarshalRecordXML(rec)
		if merr != nil {
			i.logger.Error("cannot queue failed record",
				"libris_id", librisID,
				"error", merr)
			return
		}
		if err := i.sink.RecordFailure(ctx, rec, raw, outcome); err != nil {
			i.logger.Error("queueing failed record failed",
				"libris_id", librisID,
				"error", err)
		}
	}
}
