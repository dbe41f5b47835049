package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(b)
}

func TestWriter_Session(t *testing.T) {
	w := NewWriter(t.TempDir())

	if err := w.Open("drive1"); err != nil {
		t.Fatalf("opening: %v", err)
	}
	if err := w.Append(sampleRecord(0)); err != nil {
		t.Fatalf("appending: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing twice must be a no-op: %v", err)
	}

	csvPath, gpxPath := w.Paths("drive1")

	lines := strings.Split(strings.TrimSpace(readFile(t, csvPath)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and 1 row, got %d lines", len(lines))
	}

	gpx := readFile(t, gpxPath)
	if !strings.HasSuffix(gpx, gpxFooter) {
		t.Errorf("track must end with the closing block:\n%s", gpx)
	}
	if strings.Count(gpx, "<trkpt") != 1 {
		t.Errorf("expected 1 track point:\n%s", gpx)
	}
	if !strings.Contains(gpx, "<sig:rsrp>-85</sig:rsrp>") {
		t.Errorf("track point must carry the signal fields:\n%s", gpx)
	}

	records, err := Parse(strings.NewReader(readFile(t, csvPath)))
	if err != nil {
		t.Fatalf("parsing written csv: %v", err)
	}
	if records[0].RSRP != -85 {
		t.Errorf("unexpected rsrp %d", records[0].RSRP)
	}
}

func TestWriter_ReopenKeepsSingleHeader(t *testing.T) {
	dir := t.TempDir()

	for i := range 2 {
		// A new Writer per iteration stands in for a process restart.
		w := NewWriter(dir)
		if err := w.Open("drive1"); err != nil {
			t.Fatalf("opening: %v", err)
		}
		if err := w.Append(sampleRecord(i)); err != nil {
			t.Fatalf("appending: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("closing: %v", err)
		}
	}

	csvPath, gpxPath := NewWriter(dir).Paths("drive1")

	content := readFile(t, csvPath)
	if n := strings.Count(content, "timestamp,session_id"); n != 1 {
		t.Errorf("expected exactly one header, got %d", n)
	}

	gpx := readFile(t, gpxPath)
	if strings.Count(gpx, "<gpx") != 1 || strings.Count(gpx, "</gpx>") != 1 {
		t.Errorf("reopened track must stay a single document:\n%s", gpx)
	}
	if strings.Count(gpx, "<trkpt") != 2 {
		t.Errorf("expected 2 track points:\n%s", gpx)
	}
	if !strings.HasSuffix(gpx, gpxFooter) {
		t.Error("track must end with the closing block")
	}
}

func TestWriter_ReopenBaseSchemaFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	csvPath, _ := w.Paths("legacy")

	var buf bytes.Buffer
	if err := EncodeCSV(&buf, measurement.SchemaBase, []measurement.Record{sampleRecord(0)}); err != nil {
		t.Fatalf("encoding: %v", err)
	}
	if err := os.WriteFile(csvPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing: %v", err)
	}

	if err := w.Open("legacy"); err != nil {
		t.Fatalf("opening: %v", err)
	}
	if err := w.Append(sampleRecord(1)); err != nil {
		t.Fatalf("appending: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	records, err := Parse(strings.NewReader(readFile(t, csvPath)))
	if err != nil {
		t.Fatalf("rows appended to a base schema file must keep its column count: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}

func TestWriter_FinalizeRecoversTrack(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	_, gpxPath := w.Paths("crashed")

	var buf bytes.Buffer
	buf.Write(gpxHeader("crashed"))
	pt, err := encodePoint(sampleRecord(0))
	if err != nil {
		t.Fatalf("encoding point: %v", err)
	}
	buf.Write(pt)
	if err = os.WriteFile(gpxPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing: %v", err)
	}

	if err = w.Finalize("crashed"); err != nil {
		t.Fatalf("finalizing: %v", err)
	}
	once := readFile(t, gpxPath)
	if !strings.HasSuffix(once, gpxFooter) {
		t.Fatalf("finalize must append the closing block:\n%s", once)
	}

	if err = w.Finalize("crashed"); err != nil {
		t.Fatalf("finalizing twice: %v", err)
	}
	if twice := readFile(t, gpxPath); twice != once {
		t.Errorf("finalize must be idempotent:\nonce:\n%s\ntwice:\n%s", once, twice)
	}
}

func TestWriter_FinalizeOpenSession(t *testing.T) {
	w := NewWriter(t.TempDir())
	if err := w.Open("drive2"); err != nil {
		t.Fatalf("opening: %v", err)
	}
	if err := w.Finalize("drive2"); err != nil {
		t.Fatalf("finalizing: %v", err)
	}
	if w.Current() != "" {
		t.Error("finalizing the open session must close it")
	}
	if err := w.Append(sampleRecord(0)); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
	if err := w.Finalize("missing"); err != nil {
		t.Errorf("finalizing a missing file must not fail: %v", err)
	}
}

func TestWriter_ConcurrentAppends(t *testing.T) {
	w := NewWriter(t.TempDir())
	if err := w.Open("busy"); err != nil {
		t.Fatalf("opening: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Append(sampleRecord(i)); err != nil {
				t.Errorf("appending: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := w.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	csvPath, _ := w.Paths("busy")
	records, err := Parse(strings.NewReader(readFile(t, csvPath)))
	if err != nil {
		t.Fatalf("concurrent appends must not interleave rows: %v", err)
	}
	if len(records) != 20 {
		t.Errorf("expected 20 records, got %d", len(records))
	}
}

func TestWriter_InvalidFilename(t *testing.T) {
	w := NewWriter(t.TempDir())
	for _, name := range []string{"", "..", filepath.Join("a", "b")} {
		if err := w.Open(name); err == nil {
			t.Errorf("expected error for filename %q", name)
		}
	}
}

func TestEncodeTrack(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeTrack(&buf, "a<b", []measurement.Record{sampleRecord(0), sampleRecord(1)}); err != nil {
		t.Fatalf("encoding: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<name>a&lt;b</name>") {
		t.Errorf("track name must be escaped:\n%s", out)
	}
	if strings.Count(out, "<trkpt") != 2 || !strings.HasSuffix(out, gpxFooter) {
		t.Errorf("unexpected track:\n%s", out)
	}
	if !strings.Contains(out, `lat="-33.8688"`) {
		t.Errorf("expected latitude attribute:\n%s", out)
	}
}
