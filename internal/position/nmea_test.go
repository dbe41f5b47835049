package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func withChecksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestNMEAParser_RMC(t *testing.T) {
	var p NMEAParser

	sample, ok, err := p.Parse(withChecksum("GPRMC,123519.50,A,4807.038,N,01131.000,W,022.4,084.4,230394,003.1,W"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a sample")
	}

	if !almostEqual(sample.Latitude, 48+7.038/60) {
		t.Errorf("latitude: got %f", sample.Latitude)
	}
	if !almostEqual(sample.Longitude, -(11 + 31.0/60)) {
		t.Errorf("longitude: got %f", sample.Longitude)
	}

	want := time.Date(1994, time.March, 23, 12, 35, 19, 500_000_000, time.UTC)
	if !sample.Timestamp.Equal(want) {
		t.Errorf("timestamp: expected %s, got %s", want, sample.Timestamp)
	}

	if sample.Speed == nil || !almostEqual(*sample.Speed, 22.4*knotsToMetersPerSecond) {
		t.Errorf("speed: got %v", sample.Speed)
	}
	if sample.Bearing == nil || !almostEqual(*sample.Bearing, 84.4) {
		t.Errorf("bearing: got %v", sample.Bearing)
	}
	if sample.Altitude != nil || sample.Accuracy != nil {
		t.Error("altitude and accuracy must be absent without GGA/GST")
	}
}

func TestNMEAParser_GGAAndGST(t *testing.T) {
	var p NMEAParser

	lines := []string{
		withChecksum("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"),
		withChecksum("GNGST,123519,1.2,3.0,2.0,45.0,3.0,4.0,5.0"),
	}
	for _, line := range lines {
		if _, ok, err := p.Parse(line); err != nil || ok {
			t.Fatalf("line %q: ok=%v err=%v", line, ok, err)
		}
	}

	sample, ok, err := p.Parse(withChecksum("GNRMC,123520,A,4807.038,N,01131.000,E,,,230394,,"))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	if sample.Altitude == nil || !almostEqual(*sample.Altitude, 545.4) {
		t.Errorf("altitude: got %v", sample.Altitude)
	}
	if sample.Accuracy == nil || !almostEqual(*sample.Accuracy, 5) {
		t.Errorf("accuracy: got %v", sample.Accuracy)
	}
	if sample.Speed != nil || sample.Bearing != nil {
		t.Error("empty speed and course must stay absent")
	}
}

func TestNMEAParser_Errors(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want error
	}{
		{"bad checksum", "$GPRMC,123519,A,4807.038,N,01131.000,E,,,230394,,*00", ErrChecksum},
		{"void fix", withChecksum("GPRMC,123519,V,,,,,,,230394,,"), ErrNoFix},
		{"not nmea", "hello", nil},
		{"bad latitude", withChecksum("GPRMC,123519,A,48x7.038,N,01131.000,E,,,230394,,"), nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var p NMEAParser
			_, ok, err := p.Parse(tc.line)
			if err == nil {
				t.Fatal("expected error")
			}
			if ok {
				t.Error("no sample expected on error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNMEAParser_IgnoresOtherSentences(t *testing.T) {
	var p NMEAParser
	_, ok, err := p.Parse(withChecksum("GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00"))
	if err != nil || ok {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestCommandSource(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}

	lines := []string{
		withChecksum("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"),
		withChecksum("GPRMC,123519,A,4807.038,N,01131.000,E,,,230394,,"),
		withChecksum("GPRMC,123520,A,4807.038,N,01131.000,E,,,230394,,"),
	}
	script := "printf '%s\\n' '" + strings.Join(lines, "' '") + "'"

	src, err := NewCommandSource([]string{"sh", "-c", script})
	if err != nil {
		t.Fatalf("creating source: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	samples, err := src.Positions(ctx)
	if err != nil {
		t.Fatalf("starting source: %v", err)
	}

	var got []Sample
	for s := range samples {
		got = append(got, s)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[1].Altitude == nil || *got[1].Altitude != 545.4 {
		t.Errorf("altitude must carry over from GGA, got %v", got[1].Altitude)
	}
}

func TestNewCommandSource_Empty(t *testing.T) {
	if _, err := NewCommandSource(nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestTracker(t *testing.T) {
	var tr Tracker
	if _, ok := tr.Latest(); ok {
		t.Fatal("new tracker must be empty")
	}

	tr.Update(Sample{Latitude: 1, Longitude: 2})
	s, ok := tr.Latest()
	if !ok || s.Latitude != 1 || s.Longitude != 2 {
		t.Errorf("unexpected latest sample %+v (ok=%v)", s, ok)
	}

	tr.Reset()
	if _, ok := tr.Latest(); ok {
		t.Error("reset tracker must be empty")
	}
}
