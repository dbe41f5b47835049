package upload

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
	"github.com/roman-kulish/signal-logger/internal/storage"
)

// fakeTransport records batch sizes and fails the configured call numbers
type fakeTransport struct {
	mu     sync.Mutex
	calls  int
	sizes  []int
	failAt map[int]bool
}

func (f *fakeTransport) Send(_ context.Context, p *Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.sizes = append(f.sizes, len(p.Records))
	if f.failAt[f.calls] {
		return errors.New("connection reset")
	}
	return nil
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = nil
}

func newStoreWithSession(t *testing.T, id string, start time.Time, n int, closed bool) *storage.SqliteStore {
	t.Helper()
	s := storage.NewSqliteStore(filepath.Join(t.TempDir(), "sync.db"))
	t.Cleanup(func() { _ = s.Close() })
	addSession(t, s, id, start, n, closed)
	return s
}

func addSession(t *testing.T, s storage.Store, id string, start time.Time, n int, closed bool) {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateSession(ctx, id, id, "device-1", start); err != nil {
		t.Fatalf("creating session: %v", err)
	}

	records := make([]measurement.Record, n)
	for i := range records {
		records[i] = measurement.Record{
			Timestamp:      start.Add(time.Duration(i) * time.Second),
			SessionID:      id,
			SubscriptionID: 1,
			Latitude:       1,
			Longitude:      2,
			NetworkType:    radio.NetworkLTE,
			RSRP:           -90,
		}
	}
	if err := s.InsertRecords(ctx, records); err != nil {
		t.Fatalf("inserting records: %v", err)
	}

	if closed {
		if err := s.CloseSession(ctx, id, start.Add(time.Hour)); err != nil {
			t.Fatalf("closing session: %v", err)
		}
	}
}

func TestUploader_BatchesAndRetry(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithSession(t, "s1", time.Now().Add(-time.Hour), 120, true)
	transport := &fakeTransport{failAt: map[int]bool{2: true}}

	u := NewUploader("device-1", store, transport)

	res := u.Run(ctx)
	if res.Status != StatusRetry {
		t.Fatalf("expected retry, got %s", res.Status)
	}
	if res.Pending != 120 {
		t.Errorf("expected 120 pending records, got %d", res.Pending)
	}
	if res.Message() != "pending 120 records" {
		t.Errorf("unexpected message %q", res.Message())
	}
	if sess, _ := store.Session(ctx, "s1"); sess.Synced {
		t.Fatal("session must stay unsynced after a failed batch")
	}
	if len(transport.sizes) != 2 {
		t.Errorf("run must stop at the first failed batch, sent %v", transport.sizes)
	}

	transport.reset()
	res = u.Run(ctx)
	if res.Status != StatusSuccess || res.SessionsSynced != 1 {
		t.Fatalf("expected success, got %+v", res)
	}

	want := []int{50, 50, 20}
	if len(transport.sizes) != len(want) {
		t.Fatalf("expected batches %v, got %v", want, transport.sizes)
	}
	for i := range want {
		if transport.sizes[i] != want[i] {
			t.Fatalf("expected batches %v, got %v", want, transport.sizes)
		}
	}

	if sess, _ := store.Session(ctx, "s1"); !sess.Synced {
		t.Error("session must be synced after all batches succeeded")
	}

	transport.reset()
	if res = u.Run(ctx); res.Status != StatusSuccess || len(transport.sizes) != 0 {
		t.Errorf("synced sessions must not be uploaded again, sent %v", transport.sizes)
	}
}

func TestUploader_EmptyAndOpenSessions(t *testing.T) {
	ctx := context.Background()
	start := time.Now().Add(-2 * time.Hour)

	store := newStoreWithSession(t, "empty", start, 0, true)
	addSession(t, store, "open", start.Add(time.Minute), 10, false)

	transport := &fakeTransport{}
	res := NewUploader("device-1", store, transport).Run(ctx)

	if res.Status != StatusSuccess || res.SessionsSynced != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if transport.calls != 0 {
		t.Errorf("no batches expected, got %d", transport.calls)
	}
	if sess, _ := store.Session(ctx, "empty"); !sess.Synced {
		t.Error("session without records must be marked synced")
	}
	if sess, _ := store.Session(ctx, "open"); sess.Synced {
		t.Error("open session must not be synced")
	}
}

func TestUploader_SessionOrder(t *testing.T) {
	ctx := context.Background()
	start := time.Now().Add(-3 * time.Hour)

	store := newStoreWithSession(t, "later", start.Add(time.Hour), 5, true)
	addSession(t, store, "earlier", start, 5, true)

	transport := &fakeTransport{failAt: map[int]bool{1: true}}
	res := NewUploader("device-1", store, transport, WithBatchSize(10)).Run(ctx)

	if res.Status != StatusRetry {
		t.Fatalf("expected retry, got %s", res.Status)
	}
	if res.Pending != 10 {
		t.Errorf("both sessions must be pending, got %d", res.Pending)
	}
	if !strings.Contains(res.Err.Error(), "earlier") {
		t.Errorf("oldest session must be uploaded first: %v", res.Err)
	}
}

func TestPayload(t *testing.T) {
	speed := 1.5
	p := NewPayload("dev", "sess", []measurement.Record{
		{Timestamp: time.UnixMilli(1000), Speed: &speed, RSRP: -80},
		{Timestamp: time.UnixMilli(3000), RSRP: -81},
	})

	if p.Records[0].Timestamp != 1000 || *p.Records[0].Speed != 1.5 || p.Records[1].Speed != nil {
		t.Errorf("unexpected payload %+v", p)
	}
	if id := p.DeduplicationID(); id != "dev/sess/1000-3000" {
		t.Errorf("unexpected deduplication id %q", id)
	}
}
