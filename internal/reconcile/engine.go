package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/alma"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/libris"
	"github.com/kth-biblioteket/almatools-tasks/internal/mapping"
	"github.com/kth-biblioteket/almatools-tasks/internal/reconcile/metrics"
)

// AlmaAPI is the record-write surface of Alma the engine needs.
type AlmaAPI interface {
	CreateBib(ctx context.Context, record []byte) (string, error)
	UpdateBib(ctx context.Context, mmsID string, record []byte) error
	CreateHolding(ctx context.Context, mmsID string, h *alma.Holding) (string, error)
	UpdateHolding(ctx context.Context, mmsID, holdingID string, h *alma.Holding) error
	CreateItem(ctx context.Context, mmsID, holdingID string, item *alma.Item) (string, error)
	CreatePOLine(ctx context.Context, pol *alma.POLine) (*alma.POLineResult, error)
}

// SearchAPI answers the does-this-record-already-exist question.
type SearchAPI interface {
	Search(ctx context.Context, externalID string) (count int, mmsID string, err error)
}

// SourceAPI is the Libris write-back surface used to clear the import marker
// once a record has landed in Alma.
type SourceAPI interface {
	Token(ctx context.Context) (string, error)
	FindHolding(ctx context.Context, bibID string) (string, error)
	GetHolding(ctx context.Context, holdingURI string) ([]byte, string, error)
	PutHolding(ctx context.Context, token, holdingURI string, graph []byte, etag string) error
}

// OutcomeStatus is the terminal state of one reconciliation attempt.
type OutcomeStatus string

const (
	// Done: the record is reconciled; the set carries the Alma identifiers.
	OutcomeDone OutcomeStatus = "done"
	// SkippedNoHoldings: the record carries no 852 field at all.
	OutcomeSkippedNoHoldings OutcomeStatus = "skipped_no_holdings"
	// SkippedNotEligible: the record is neither a thesis nor a marked book.
	OutcomeSkippedNotEligible OutcomeStatus = "skipped_not_eligible"
	// Failed: a step errored; Step and Err say which and why.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is the result of running one record through the engine. On failure
// the Set still carries whatever was created before the failing step, so the
// caller can persist the partial state for the retry to resume from.
type Outcome struct {
	Status OutcomeStatus
	Step   string
	Err    error
	Set    domain.TargetRecordSet
}

// Engine runs the per-record reconciliation state machine:
// classify, check existence, create or update the bib, provision the
// type-specific record set, and for freshly created book bibs clear the
// Libris import marker.
type Engine struct {
	alma   AlmaAPI
	search SearchAPI
	libris SourceAPI
	sigel  string
	marker string
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a reconciliation engine.
func NewEngine(almaAPI AlmaAPI, search SearchAPI, libris SourceAPI, sigel, marker string, logger *slog.Logger) *Engine {
	return &Engine{
		alma:   almaAPI,
		search: search,
		libris: libris,
		sigel:  sigel,
		marker: marker,
		logger: logger,
		now:    time.Now,
	}
}

// Process reconciles one record. prior is the identifier set left behind by an
// earlier failed attempt for the same record; a prior MmsID forces the update
// branch so a lagging search index cannot produce a duplicate bib.
func (e *Engine) Process(ctx context.Context, rec *domain.MarcRecord, prior domain.TargetRecordSet) Outcome {
	holding := mapping.HoldingsPayload(rec)
	if holding == nil {
		metrics.RecordsProcessed.WithLabelValues("none", string(OutcomeSkippedNoHoldings)).Inc()
		return Outcome{Status: OutcomeSkippedNoHoldings, Set: prior}
	}

	recordType := domain.Classify(rec)
	if recordType == domain.RecordTypeUnknown {
		metrics.RecordsProcessed.WithLabelValues(string(recordType), string(OutcomeSkippedNotEligible)).Inc()
		return Outcome{Status: OutcomeSkippedNotEligible, Set: prior}
	}

	record, err := domain.MarshalRecordXML(rec)
	if err != nil {
		return e.fail(recordType, "marshal", err, prior)
	}

	set := prior
	if set.MmsID == "" {
		externalID := rec.ExternalID()
		count, mmsID, err := e.search.Search(ctx, externalID)
		if err != nil {
			return e.fail(recordType, "search", err, set)
		}
		if count == 1 {
			// Record already in Alma: refresh the bib content, nothing
			// else to provision.
			if err := e.alma.UpdateBib(ctx, mmsID, record); err != nil {
				return e.fail(recordType, "update_bib", err, set)
			}
			set.MmsID = mmsID
			metrics.RecordsProcessed.WithLabelValues(string(recordType), "updated").Inc()
			return Outcome{Status: OutcomeDone, Set: set}
		}
		if count > 1 {
			e.logger.Warn("ambiguous existence check, treating as new record",
				"libris_id", rec.BibID(),
				"external_id", externalID,
				"matches", count)
		}

		mmsID, err = e.alma.CreateBib(ctx, record)
		if err != nil {
			return e.fail(recordType, "create_bib", err, set)
		}
		set.MmsID = mmsID
		set.CreatedBib = true
	} else {
		// Resuming a previous failed attempt that got as far as creating
		// the bib: push the current record content and carry on.
		set.CreatedBib = true
		if err := e.alma.UpdateBib(ctx, set.MmsID, record); err != nil {
			return e.fail(recordType, "update_bib", err, set)
		}
	}

	switch recordType {
	case domain.RecordTypeThesis:
		if out, ok := e.provisionThesis(ctx, holding, &set); !ok {
			return out
		}
	case domain.RecordTypeBook:
		if out, ok := e.provisionBook(ctx, rec, holding, &set); !ok {
			return out
		}
		// Books come back through the export feed until the cataloger's
		// marker is gone; theses are exported once and need no write-back.
		if out, ok := e.clearImportMarker(ctx, rec, recordType, set); !ok {
			return out
		}
	}

	metrics.RecordsProcessed.WithLabelValues(string(recordType), "created").Inc()
	return Outcome{Status: OutcomeDone, Set: set}
}

// provisionThesis attaches a holdings record and a template item to a freshly
// created thesis bib.
func (e *Engine) provisionThesis(ctx context.Context, holding *alma.Holding, set *domain.TargetRecordSet) (Outcome, bool) {
	if set.HoldingID == "" {
		holdingID, err := e.alma.CreateHolding(ctx, set.MmsID, holding)
		if err != nil {
			return e.fail(domain.RecordTypeThesis, "create_holding", err, *set), false
		}
		set.HoldingID = holdingID
	}

	if set.ItemID == "" {
		itemID, err := e.alma.CreateItem(ctx, set.MmsID, set.HoldingID, mapping.ItemPayload(e.now()))
		if err != nil {
			return e.fail(domain.RecordTypeThesis, "create_item", err, *set), false
		}
		set.ItemID = itemID
	}
	return Outcome{}, true
}

// provisionBook orders a purchase-order line for a freshly created book bib,
// then rewrites the holdings record Alma provisioned for the order with the
// mapped shelving data.
func (e *Engine) provisionBook(ctx context.Context, rec *domain.MarcRecord, holding *alma.Holding, set *domain.TargetRecordSet) (Outcome, bool) {
	if set.POLineID == "" {
		pol := mapping.POLinePayload(rec, e.sigel, e.now())
		pol.ResourceMetadata.MmsID = set.MmsID
		result, err := e.alma.CreatePOLine(ctx, pol)
		if err != nil {
			return e.fail(domain.RecordTypeBook, "create_po_line", err, *set), false
		}
		set.POLineID = result.Number
		set.HoldingID = result.HoldingID
	}

	if set.HoldingID == "" {
		err := fmt.Errorf("po-line %s carried no holding for bib %s", set.POLineID, set.MmsID)
		return e.fail(domain.RecordTypeBook, "update_holding", err, *set), false
	}

	if err := e.alma.UpdateHolding(ctx, set.MmsID, set.HoldingID, holding); err != nil {
		return e.fail(domain.RecordTypeBook, "update_holding", err, *set), false
	}
	return Outcome{}, true
}

// clearImportMarker removes the export marker from the Libris holding so the
// record stops reappearing in the incremental feed. It only runs for bibs this
// reconciliation created; matched records never carried the marker this way.
func (e *Engine) clearImportMarker(ctx context.Context, rec *domain.MarcRecord, recordType domain.RecordType, set domain.TargetRecordSet) (Outcome, bool) {
	if !set.CreatedBib {
		return Outcome{}, true
	}

	holdingURI, err := e.libris.FindHolding(ctx, rec.BibID())
	if err != nil {
		return e.fail(recordType, "find_holding", err, set), false
	}
	if holdingURI == "" {
		e.logger.Warn("no unique holding for record, leaving import marker",
			"libris_id", rec.BibID(),
			"sigel", e.sigel)
		return Outcome{}, true
	}

	graph, etag, err := e.libris.GetHolding(ctx, holdingURI)
	if err != nil {
		return e.fail(recordType, "get_holding", err, set), false
	}

	stripped, changed, err := libris.StripImportMarker(graph, e.marker)
	if err != nil {
		return e.fail(recordType, "strip_marker", err, set), false
	}
	if !changed {
		return Outcome{}, true
	}

	token, err := e.libris.Token(ctx)
	if err != nil {
		return e.fail(recordType, "token", err, set), false
	}
	if err := e.libris.PutHolding(ctx, token, holdingURI, stripped, etag); err != nil {
		return e.fail(recordType, "put_holding", err, set), false
	}
	return Outcome{}, true
}

func (e *Engine) fail(recordType domain.RecordType, step string, err error, set domain.TargetRecordSet) Outcome {
	metrics.RecordsProcessed.WithLabelValues(string(recordType), string(OutcomeFailed)).Inc()
	return Outcome{Status: OutcomeFailed, Step: step, Err: err, Set: set}
}
