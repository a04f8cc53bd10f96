package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage/memory"
)

type mockFeed struct {
	data []byte
	err  error
	from time.Time
	to   time.Time
}

func (m *mockFeed) Updates(ctx context.Context, from, to time.Time) ([]byte, error) {
	m.from, m.to = from, to
	return m.data, m.err
}

type mockProcessor struct {
	outcomes map[string]Outcome // keyed by libris id
	seen     []string
}

func (m *mockProcessor) Process(ctx context.Context, rec *domain.MarcRecord, prior domain.TargetRecordSet) Outcome {
	m.seen = append(m.seen, rec.BibID())
	return m.outcomes[rec.BibID()]
}

type mockSink struct {
	failures []Outcome
	ids      []string
}

func (m *mockSink) RecordFailure(ctx context.Context, rec *domain.MarcRecord, raw []byte, outcome Outcome) error {
	m.failures = append(m.failures, outcome)
	m.ids = append(m.ids, rec.BibID())
	return nil
}

type busyLocker struct{}

func (busyLocker) AcquireRecordLock(ctx context.Context, librisID string) (bool, error) {
	return false, nil
}
func (busyLocker) ReleaseRecordLock(ctx context.Context, librisID string) error { return nil }

func collectionOf(t *testing.T, recs ...*domain.MarcRecord) []byte {
	t.Helper()
	out := []byte("<collection>")
	for _, rec := range recs {
		raw, err := domain.MarshalRecordXML(rec)
		if err != nil {
			t.Fatalf("marshal fixture: %v", err)
		}
		out = append(out, raw...)
	}
	return append(out, []byte("</collection>")...)
}

func newTestImporter(feed ExportFeed, engine processor, cursor *memory.CursorRepo, sink FailureSink, locker RecordLocker, now time.Time) *Importer {
	return &Importer{
		feed:     feed,
		engine:   engine,
		cursor:   cursor,
		sink:     sink,
		locker:   locker,
		mu:       &sync.Mutex{},
		interval: 30 * time.Minute,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      func() time.Time { return now },
	}
}

func TestImporter_FirstRunWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := memory.NewMemoryStorage()
	cursor := memory.NewCursorRepo(store)
	feed := &mockFeed{data: []byte("<collection></collection>")}

	imp := newTestImporter(feed, &mockProcessor{}, cursor, &mockSink{}, nil, now)
	if err := imp.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if want := now.Add(-30 * time.Minute); !feed.from.Equal(want) {
		t.Errorf("first run must harvest one interval back, got from=%v", feed.from)
	}
	if !feed.to.Equal(now) {
		t.Errorf("window must end now, got to=%v", feed.to)
	}

	got, _ := cursor.Get(context.Background())
	if !got.Equal(now) {
		t.Errorf("cursor must advance to window end, got %v", got)
	}
}

func TestImporter_EmptyFeedBody(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	store := memory.NewMemoryStorage()
	cursor := memory.NewCursorRepo(store)
	feed := &mockFeed{data: []byte("")}

	imp := newTestImporter(feed, &mockProcessor{}, cursor, &mockSink{}, nil, now)
	if err := imp.RunBatch(context.Background()); err != nil {
		t.Fatalf("an empty body is a valid quiet window: %v", err)
	}

	got, _ := cursor.Get(context.Background())
	if !got.Equal(now) {
		t.Error("cursor must advance past a quiet window")
	}
}

func TestImporter_ResumesFromCursor(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)

	store := memory.NewMemoryStorage()
	cursor := memory.NewCursorRepo(store)
	if err := cursor.Set(context.Background(), last); err != nil {
		t.Fatal(err)
	}
	feed := &mockFeed{data: []byte("<collection></collection>")}

	imp := newTestImporter(feed, &mockProcessor{}, cursor, &mockSink{}, nil, now)
	if err := imp.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if !feed.from.Equal(last) {
		t.Errorf("window must start at the stored cursor, got %v", feed.from)
	}
}

func TestImporter_QueuesFailuresAndAdvances(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	goodRec := thesisRecord()
	badRec := bookRecord()

	store := memory.NewMemoryStorage()
	cursor := memory.NewCursorRepo(store)
	feed := &mockFeed{data: collectionOf(t, goodRec, badRec)}
	engine := &mockProcessor{outcomes: map[string]Outcome{
		goodRec.BibID(): {Status: OutcomeDone},
		badRec.BibID():  {Status: OutcomeFailed, Step: "create_bib", Err: errors.New("boom")},
	}}
	sink := &mockSink{}

	imp := newTestImporter(feed, engine, cursor, sink, nil, now)
	if err := imp.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if len(engine.seen) != 2 {
		t.Fatalf("expected 2 records processed, got %v", engine.seen)
	}
	if len(sink.failures) != 1 || sink.ids[0] != badRec.BibID() {
		t.Fatalf("expected the failing record queued, got %v", sink.ids)
	}

	got, _ := cursor.Get(context.Background())
	if !got.Equal(now) {
		t.Error("a queued failure must not hold the cursor back")
	}
}

func TestImporter_FetchErrorKeepsCursor(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Hour)

	store := memory.NewMemoryStorage()
	cursor := memory.NewCursorRepo(store)
	if err := cursor.Set(context.Background(), last); err != nil {
		t.Fatal(err)
	}
	feed := &mockFeed{err: errors.New("feed down")}

	imp := newTestImporter(feed, &mockProcessor{}, cursor, &mockSink{}, nil, now)
	if err := imp.RunBatch(context.Background()); err == nil {
		t.Fatal("expected an error")
	}

	got, _ := cursor.Get(context.Background())
	if !got.Equal(last) {
		t.Errorf("cursor must not move on a failed fetch, got %v", got)
	}
}

func TestImporter_LockedRecordSkipped(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rec := thesisRecord()

	store := memory.NewMemoryStorage()
	cursor := memory.NewCursorRepo(store)
	feed := &mockFeed{data: collectionOf(t, rec)}
	engine := &mockProcessor{outcomes: map[string]Outcome{}}

	imp := newTestImporter(feed, engine, cursor, &mockSink{}, busyLocker{}, now)
	if err := imp.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if len(engine.seen) != 0 {
		t.Errorf("locked record must not be processed, got %v", engine.seen)
	}
}
