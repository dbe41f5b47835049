package app

import (
	"context"
	"flag"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/signal-logger/internal/geo"
	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
	"github.com/roman-kulish/signal-logger/internal/storage"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("coverage", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1>>8 == r2>>8 && g1>>8 == g2>>8 && b1>>8 == b2>>8 && a1>>8 == a2>>8
}

func TestParseConfig(t *testing.T) {
	config, err := parseConfig(newFlagSet(), []string{"-db", "a.db", "-s", "sess", "-o", "out", "-f", "JPEG", "-max-rsrp", "-70"})
	if err != nil {
		t.Fatalf("parsing config: %v", err)
	}

	if config.OutputFile != "out.jpeg" || config.Format != ImageJPEG {
		t.Errorf("unexpected output %s %s", config.OutputFile, config.Format)
	}
	if config.Level != geo.DefaultLevel || config.Theme != SignalTheme {
		t.Errorf("unexpected defaults level=%d theme=%s", config.Level, config.Theme)
	}
	if config.MinRSRP != nil || config.MaxRSRP == nil || *config.MaxRSRP != -70 {
		t.Errorf("unexpected rsrp bounds %v %v", config.MinRSRP, config.MaxRSRP)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"missing db", []string{"-s", "sess", "-o", "out"}},
		{"missing session", []string{"-db", "a.db", "-o", "out"}},
		{"missing output", []string{"-db", "a.db", "-s", "sess"}},
		{"bad format", []string{"-db", "a.db", "-s", "sess", "-o", "out", "-f", "gif"}},
		{"bad level", []string{"-db", "a.db", "-s", "sess", "-o", "out", "-level", "31"}},
		{"bad theme", []string{"-db", "a.db", "-s", "sess", "-o", "out", "-theme", "neon"}},
		{"inverted bounds", []string{"-db", "a.db", "-s", "sess", "-o", "out", "-min-rsrp", "-60", "-max-rsrp", "-90"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseConfig(newFlagSet(), tt.args); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestColorMapper(t *testing.T) {
	for _, theme := range []ColorTheme{SignalTheme, ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme} {
		t.Run(string(theme), func(t *testing.T) {
			cm := NewColorMapper(64, theme, RSRPBounds{Min: -120, Max: -60})

			if !sameColor(cm.Color(-200), cm.Color(-120)) {
				t.Error("values below the range must clamp to the lowest color")
			}
			if !sameColor(cm.Color(0), cm.Color(-60)) {
				t.Error("values above the range must clamp to the highest color")
			}
			if sameColor(cm.Color(-120), cm.Color(-60)) {
				t.Error("the ends of the ramp must differ")
			}
		})
	}
}

func testRecords() []measurement.Record {
	base := time.UnixMilli(1714557600000).UTC()
	points := []struct {
		lat, lon float64
		rsrp     int
	}{
		{-33.8700, 151.2000, -115},
		{-33.8700, 151.2000, -113},
		{-33.8600, 151.2100, -70},
		{-33.8600, 151.2100, -72},
	}

	records := make([]measurement.Record, len(points))
	for i, p := range points {
		records[i] = measurement.Record{
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			SessionID:      "drive",
			SubscriptionID: 1,
			Latitude:       p.lat,
			Longitude:      p.lon,
			NetworkType:    radio.NetworkLTE,
			RSRP:           p.rsrp,
			CellID:         256,
		}
	}
	return records
}

func TestCoverageRenderer(t *testing.T) {
	data := NewCoverageData(nil, testRecords(), 14)
	if len(data.Cells) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(data.Cells))
	}

	renderer, err := NewCoverageRenderer(RenderConfig{Width: 400, NoAnnotations: true})
	if err != nil {
		t.Fatalf("creating renderer: %v", err)
	}

	img, mapper, err := renderer.Render(data)
	if err != nil {
		t.Fatalf("rendering: %v", err)
	}

	border := renderer.config.BorderConfig
	area := image.Rect(border.Left, border.Top, border.Left+400, border.Top+mapHeight(data.Bounds, 400))
	if img.Bounds().Dx() != 400+border.Left+border.Right || img.Bounds().Dy() != area.Max.Y+border.Bottom {
		t.Fatalf("unexpected image size %v", img.Bounds())
	}

	proj := projection{bounds: data.Bounds, area: area}
	for _, cell := range data.Cells {
		rect := proj.rect(geo.CellBounds(cell.ID))
		// Sample a corner of the cell away from the track dots at its center.
		got := img.At(rect.Min.X+1, rect.Min.Y+1)
		if want := mapper.Color(cell.MeanRSRP); !sameColor(got, want) {
			t.Errorf("cell %s: expected %v, got %v", cell.Token, want, got)
		}
	}

	if !sameColor(img.At(0, 0), color.White) {
		t.Error("expected a white border")
	}
}

func TestRenderCoverage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := storage.NewSqliteStore(filepath.Join(dir, "test.db"))
	defer store.Close()

	records := testRecords()
	if err := store.CreateSession(ctx, "drive", "drive1", "device-1", records[0].Timestamp); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if err := store.InsertRecords(ctx, records); err != nil {
		t.Fatalf("inserting records: %v", err)
	}
	if err := store.CloseSession(ctx, "drive", records[len(records)-1].Timestamp); err != nil {
		t.Fatalf("closing session: %v", err)
	}

	config := NewConfig()
	config.SessionID = "drive"
	config.OutputFile = filepath.Join(dir, "coverage.png")
	config.Theme = SignalTheme
	config.Width = 300

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := renderCoverage(ctx, store, config, logger); err != nil {
		t.Fatalf("rendering coverage: %v", err)
	}

	f, err := os.Open(config.OutputFile)
	if err != nil {
		t.Fatalf("opening image: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding image: %v", err)
	}
	if img.Bounds().Dx() != 300+defaultLeftBorder+defaultRightBorder {
		t.Errorf("unexpected image width %d", img.Bounds().Dx())
	}

	config.SessionID = "missing"
	if err = renderCoverage(ctx, store, config, logger); err == nil {
		t.Error("expected an error for a missing session")
	}
}
