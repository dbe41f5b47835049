package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/signal-logger/internal/export"
	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
	"github.com/roman-kulish/signal-logger/internal/storage"
)

func TestResolveDeviceID(t *testing.T) {
	dir := t.TempDir()

	id, err := resolveDeviceID("configured", dir)
	if err != nil || id != "configured" {
		t.Fatalf("expected configured id, got %q, %v", id, err)
	}
	if _, err = os.Stat(filepath.Join(dir, deviceIDFile)); !os.IsNotExist(err) {
		t.Error("configured id must not be persisted")
	}

	first, err := resolveDeviceID("", dir)
	if err != nil {
		t.Fatalf("generating id: %v", err)
	}
	second, err := resolveDeviceID("", dir)
	if err != nil {
		t.Fatalf("reading id: %v", err)
	}
	if first == "" || first != second {
		t.Errorf("expected a stable generated id, got %q and %q", first, second)
	}
}

func TestRecoverSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := storage.NewSqliteStore(filepath.Join(dir, "test.db"))
	defer store.Close()
	writer := export.NewWriter(filepath.Join(dir, "exports"))

	start := time.UnixMilli(1714557600000).UTC()
	if err := store.CreateSession(ctx, "crashed", "drive1", "device-1", start); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if err := store.CreateSession(ctx, "empty", "drive2", "device-1", start.Add(time.Hour)); err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if err := writer.Open("drive1"); err != nil {
		t.Fatalf("opening writer: %v", err)
	}
	var last time.Time
	for i := range 3 {
		r := measurement.Record{
			Timestamp:      start.Add(time.Duration(i) * time.Second),
			SessionID:      "crashed",
			SubscriptionID: 1,
			Latitude:       1,
			Longitude:      2,
			NetworkType:    radio.NetworkLTE,
			RSRP:           -90,
			CellID:         256,
		}
		if err := writer.Append(r); err != nil {
			t.Fatalf("appending: %v", err)
		}
		if err := store.InsertRecord(ctx, r); err != nil {
			t.Fatalf("inserting: %v", err)
		}
		last = r.Timestamp
	}

	// Simulate a crash: the GPX footer is never written.
	_, gpxPath := writer.Paths("drive1")
	crashed := export.NewWriter(filepath.Join(dir, "exports"))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	if err := recoverSessions(ctx, store, crashed, logger); err != nil {
		t.Fatalf("recovering: %v", err)
	}

	sess, err := store.Session(ctx, "crashed")
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if sess.IsOpen() || !sess.EndTime.Equal(last) {
		t.Errorf("expected session closed at %v, got %+v", last, sess)
	}

	empty, err := store.Session(ctx, "empty")
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if empty.IsOpen() || !empty.EndTime.Equal(empty.StartTime) {
		t.Errorf("expected empty session closed at its start, got %+v", empty)
	}

	data, err := os.ReadFile(gpxPath)
	if err != nil {
		t.Fatalf("reading gpx: %v", err)
	}
	if !strings.HasSuffix(string(data), "</gpx>\n") {
		t.Errorf("expected a finalized gpx document, got %s", data)
	}
	if !strings.Contains(logs.String(), "recovered interrupted session") {
		t.Errorf("expected recovery to be logged, got %s", logs.String())
	}
}
