package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/alma"
)

// =============================================================================
// Mocks
// =============================================================================

type mockAlma struct {
	calls []string

	bibID           string
	poLineNumber    string
	poLineHoldingID string
	holdingID       string
	itemID          string

	createBibErr     error
	updateBibErr     error
	createHoldingErr error
	updateHoldingErr error
	createItemErr    error
	createPOLineErr  error

	updatedBibID   string
	updatedHolding *alma.Holding
}

func (m *mockAlma) CreateBib(ctx context.Context, record []byte) (string, error) {
	m.calls = append(m.calls, "create_bib")
	if m.createBibErr != nil {
		return "", m.createBibErr
	}
	return m.bibID, nil
}

func (m *mockAlma) UpdateBib(ctx context.Context, mmsID string, record []byte) error {
	m.calls = append(m.calls, "update_bib")
	m.updatedBibID = mmsID
	return m.updateBibErr
}

func (m *mockAlma) CreateHolding(ctx context.Context, mmsID string, h *alma.Holding) (string, error) {
	m.calls = append(m.calls, "create_holding")
	if m.createHoldingErr != nil {
		return "", m.createHoldingErr
	}
	return m.holdingID, nil
}

func (m *mockAlma) UpdateHolding(ctx context.Context, mmsID, holdingID string, h *alma.Holding) error {
	m.calls = append(m.calls, "update_holding")
	m.updatedHolding = h
	return m.updateHoldingErr
}

func (m *mockAlma) CreateItem(ctx context.Context, mmsID, holdingID string, item *alma.Item) (string, error) {
	m.calls = append(m.calls, "create_item")
	if m.createItemErr != nil {
		return "", m.createItemErr
	}
	return m.itemID, nil
}

func (m *mockAlma) CreatePOLine(ctx context.Context, pol *alma.POLine) (*alma.POLineResult, error) {
	m.calls = append(m.calls, "create_po_line")
	if m.createPOLineErr != nil {
		return nil, m.createPOLineErr
	}
	return &alma.POLineResult{Number: m.poLineNumber, HoldingID: m.poLineHoldingID}, nil
}

type mockSearch struct {
	count int
	mmsID string
	err   error
	calls int
}

func (m *mockSearch) Search(ctx context.Context, externalID string) (int, string, error) {
	m.calls++
	return m.count, m.mmsID, m.err
}

type mockLibris struct {
	calls []string

	holdingURI string
	graph      string
	etag       string
	token      string

	findErr  error
	getErr   error
	tokenErr error
	putErr   error

	putGraph string
	putEtag  string
	putToken string
}

func (m *mockLibris) Token(ctx context.Context) (string, error) {
	m.calls = append(m.calls, "token")
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	return m.token, nil
}

func (m *mockLibris) FindHolding(ctx context.Context, bibID string) (string, error) {
	m.calls = append(m.calls, "find_holding")
	return m.holdingURI, m.findErr
}

func (m *mockLibris) GetHolding(ctx context.Context, holdingURI string) ([]byte, string, error) {
	m.calls = append(m.calls, "get_holding")
	if m.getErr != nil {
		return nil, "", m.getErr
	}
	return []byte(m.graph), m.etag, nil
}

func (m *mockLibris) PutHolding(ctx context.Context, token, holdingURI string, graph []byte, etag string) error {
	m.calls = append(m.calls, "put_holding")
	m.putToken = token
	m.putGraph = string(graph)
	m.putEtag = etag
	return m.putErr
}

// =============================================================================
// Fixtures
// =============================================================================

func thesisRecord() *domain.MarcRecord {
	return &domain.MarcRecord{
		Leader: "01234nam a2200289 a 4500",
		ControlFields: []domain.ControlField{
			{Tag: "001", Value: "kz9fs3gt1h4pxr0"},
			{Tag: "008", Value: "761206s1976    sw ||||||m|||00||0swe|c"},
		},
		DataFields: []domain.DataField{
			{Tag: "852", Ind1: " ", Ind2: " ", Subfields: []domain.Subfield{
				{Code: "b", Value: "T"},
				{Code: "h", Value: "Trita-diss. 5012"},
			}},
		},
	}
}

func bookRecord() *domain.MarcRecord {
	return &domain.MarcRecord{
		Leader: "01234nam a2200289 a 4500",
		ControlFields: []domain.ControlField{
			{Tag: "001", Value: "wf7mw1942c2bxnl"},
			{Tag: "008", Value: "200131s2020    sw |||||||||||000|0|eng|c"},
		},
		DataFields: []domain.DataField{
			{Tag: "040", Ind1: " ", Ind2: " ", Subfields: []domain.Subfield{
				{Code: "a", Value: "T"},
				{Code: "d", Value: "T"},
			}},
			{Tag: "852", Ind1: " ", Ind2: " ", Subfields: []domain.Subfield{
				{Code: "b", Value: "T"},
				{Code: "h", Value: "512.3 Alg"},
				{Code: "x", Value: "1"},
			}},
		},
	}
}

const markerGraph = `{"@graph":[{"@id":"https://libris.kb.se/k1bxp0fl2c3d4e5#it","heldBy":{"@id":"https://libris.kb.se/library/T"},"bibliography":[{"@id":"https://libris.kb.se/library/EXPORT"}]}]}`

func newTestEngine(a *mockAlma, s *mockSearch, l *mockLibris) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(a, s, l, "T", "EXPORT", logger)
}

// =============================================================================
// Tests
// =============================================================================

func TestEngine_NoHoldingsSkipped(t *testing.T) {
	rec := thesisRecord()
	rec.DataFields = nil

	almaMock := &mockAlma{}
	searchMock := &mockSearch{}
	engine := newTestEngine(almaMock, searchMock, &mockLibris{})

	out := engine.Process(context.Background(), rec, domain.TargetRecordSet{})
	if out.Status != OutcomeSkippedNoHoldings {
		t.Fatalf("expected skipped_no_holdings, got %s", out.Status)
	}
	if len(almaMock.calls) != 0 || searchMock.calls != 0 {
		t.Error("no remote calls expected for a record without holdings")
	}
}

func TestEngine_NotEligibleSkipped(t *testing.T) {
	rec := bookRecord()
	// Drop the book marker: still has an 852, but no $x and no thesis 008.
	rec.DataFields[1].Subfields = rec.DataFields[1].Subfields[:2]

	almaMock := &mockAlma{}
	engine := newTestEngine(almaMock, &mockSearch{}, &mockLibris{})

	out := engine.Process(context.Background(), rec, domain.TargetRecordSet{})
	if out.Status != OutcomeSkippedNotEligible {
		t.Fatalf("expected skipped_not_eligible, got %s", out.Status)
	}
	if len(almaMock.calls) != 0 {
		t.Error("no Alma calls expected for an ineligible record")
	}
}

func TestEngine_ExistingRecordUpdatesBibOnly(t *testing.T) {
	almaMock := &mockAlma{}
	searchMock := &mockSearch{count: 1, mmsID: "991234567890"}
	librisMock := &mockLibris{}
	engine := newTestEngine(almaMock, searchMock, librisMock)

	out := engine.Process(context.Background(), thesisRecord(), domain.TargetRecordSet{})
	if out.Status != OutcomeDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}
	if out.Set.MmsID != "991234567890" {
		t.Errorf("expected matched mms id, got %q", out.Set.MmsID)
	}
	if out.Set.CreatedBib {
		t.Error("matched record must not be flagged as created")
	}
	if len(almaMock.calls) != 1 || almaMock.calls[0] != "update_bib" {
		t.Errorf("expected only update_bib, got %v", almaMock.calls)
	}
	if len(librisMock.calls) != 0 {
		t.Errorf("no Libris write-back for matched records, got %v", librisMock.calls)
	}
}

func TestEngine_ThesisCreateFlow(t *testing.T) {
	almaMock := &mockAlma{bibID: "991111", holdingID: "221111", itemID: "231111"}
	librisMock := &mockLibris{}
	engine := newTestEngine(almaMock, &mockSearch{count: 0}, librisMock)

	out := engine.Process(context.Background(), thesisRecord(), domain.TargetRecordSet{})
	if out.Status != OutcomeDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}

	want := []string{"create_bib", "create_holding", "create_item"}
	if len(almaMock.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, almaMock.calls)
	}
	for i, call := range want {
		if almaMock.calls[i] != call {
			t.Fatalf("expected calls %v, got %v", want, almaMock.calls)
		}
	}

	if out.Set.MmsID != "991111" || out.Set.HoldingID != "221111" || out.Set.ItemID != "231111" {
		t.Errorf("unexpected record set: %+v", out.Set)
	}
	if !out.Set.CreatedBib {
		t.Error("created bib must be flagged")
	}
	// The write-back is a book concern; theses never touch Libris.
	if len(librisMock.calls) != 0 {
		t.Errorf("expected no Libris calls for a thesis, got %v", librisMock.calls)
	}
}

func TestEngine_BookCreateFlowClearsMarker(t *testing.T) {
	almaMock := &mockAlma{bibID: "992222", poLineNumber: "POL-1", poLineHoldingID: "222222"}
	librisMock := &mockLibris{
		holdingURI: "https://libris.kb.se/k1bxp0fl2c3d4e5",
		graph:      markerGraph,
		etag:       "W/\"20\"",
		token:      "tok123",
	}
	engine := newTestEngine(almaMock, &mockSearch{count: 0}, librisMock)

	out := engine.Process(context.Background(), bookRecord(), domain.TargetRecordSet{})
	if out.Status != OutcomeDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}

	want := []string{"create_bib", "create_po_line", "update_holding"}
	for i, call := range want {
		if i >= len(almaMock.calls) || almaMock.calls[i] != call {
			t.Fatalf("expected calls %v, got %v", want, almaMock.calls)
		}
	}
	if out.Set.POLineID != "POL-1" || out.Set.HoldingID != "222222" {
		t.Errorf("unexpected record set: %+v", out.Set)
	}

	if librisMock.putGraph == "" {
		t.Fatal("expected a Libris put")
	}
	if strings.Contains(librisMock.putGraph, "library/EXPORT") {
		t.Error("import marker survived the write-back")
	}
	if librisMock.putEtag != "W/\"20\"" {
		t.Errorf("put must carry the ETag read with the graph, got %q", librisMock.putEtag)
	}
	if librisMock.putToken != "tok123" {
		t.Errorf("put must carry the bearer token, got %q", librisMock.putToken)
	}
}

func TestEngine_AmbiguousMatchCreates(t *testing.T) {
	almaMock := &mockAlma{bibID: "993333", holdingID: "h", itemID: "i"}
	engine := newTestEngine(almaMock, &mockSearch{count: 3}, &mockLibris{})

	out := engine.Process(context.Background(), thesisRecord(), domain.TargetRecordSet{})
	if out.Status != OutcomeDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}
	if almaMock.calls[0] != "create_bib" {
		t.Errorf("ambiguous match must create, got %v", almaMock.calls)
	}
}

func TestEngine_FailureCarriesPartialSet(t *testing.T) {
	wantErr := errors.New("po-line rejected")
	almaMock := &mockAlma{bibID: "994444", createPOLineErr: wantErr}
	engine := newTestEngine(almaMock, &mockSearch{count: 0}, &mockLibris{})

	out := engine.Process(context.Background(), bookRecord(), domain.TargetRecordSet{})
	if out.Status != OutcomeFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if out.Step != "create_po_line" {
		t.Errorf("expected step create_po_line, got %q", out.Step)
	}
	if !errors.Is(out.Err, wantErr) {
		t.Errorf("expected wrapped cause, got %v", out.Err)
	}
	if out.Set.MmsID != "994444" || !out.Set.CreatedBib {
		t.Errorf("partial set must carry the created bib, got %+v", out.Set)
	}
}

func TestEngine_POLineWithoutHoldingFails(t *testing.T) {
	almaMock := &mockAlma{bibID: "996666", poLineNumber: "POL-2", poLineHoldingID: ""}
	engine := newTestEngine(almaMock, &mockSearch{count: 0}, &mockLibris{})

	out := engine.Process(context.Background(), bookRecord(), domain.TargetRecordSet{})
	if out.Status != OutcomeFailed {
		t.Fatalf("missing holding must not complete the record, got %s", out.Status)
	}
	if out.Step != "update_holding" {
		t.Errorf("expected step update_holding, got %q", out.Step)
	}
	if out.Set.MmsID != "996666" || out.Set.POLineID != "POL-2" {
		t.Errorf("partial set must carry the bib and po-line, got %+v", out.Set)
	}
}

func TestEngine_ResumeSkipsSearch(t *testing.T) {
	almaMock := &mockAlma{poLineNumber: "POL-9", poLineHoldingID: "225555"}
	searchMock := &mockSearch{count: 1, mmsID: "wrong-if-used"}
	librisMock := &mockLibris{holdingURI: ""}
	engine := newTestEngine(almaMock, searchMock, librisMock)

	prior := domain.TargetRecordSet{MmsID: "995555", CreatedBib: true}
	out := engine.Process(context.Background(), bookRecord(), prior)
	if out.Status != OutcomeDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}
	if searchMock.calls != 0 {
		t.Error("resume must not hit the search index")
	}
	if almaMock.updatedBibID != "995555" {
		t.Errorf("resume must update the stored bib, got %q", almaMock.updatedBibID)
	}
	if !out.Set.CreatedBib {
		t.Error("resumed attempt still counts as a created bib")
	}
	// Write-back ran again: the marker may still be set from the failed run.
	if len(librisMock.calls) == 0 || librisMock.calls[0] != "find_holding" {
		t.Errorf("expected write-back attempt, got %v", librisMock.calls)
	}
}
