package geo

import (
	"math"
	"testing"

	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
)

func TestDistance(t *testing.T) {
	// One degree of latitude is about 111.2 km.
	d := Distance(0, 0, 1, 0)
	if math.Abs(d-111195) > 100 {
		t.Errorf("unexpected distance %f", d)
	}

	records := []measurement.Record{
		{Latitude: 0, Longitude: 0},
		{Latitude: 1, Longitude: 0},
		{Latitude: 2, Longitude: 0},
	}
	if l := PathLength(records); math.Abs(l-2*d) > 1 {
		t.Errorf("unexpected path length %f", l)
	}
	if l := PathLength(records[:1]); l != 0 {
		t.Errorf("single point path must be 0, got %f", l)
	}
}

func TestCoverage(t *testing.T) {
	records := []measurement.Record{
		{Latitude: -33.8688, Longitude: 151.2093, NetworkType: radio.NetworkLTE, RSRP: -80},
		{Latitude: -33.86881, Longitude: 151.20931, NetworkType: radio.NetworkLTE, RSRP: -90},
		{Latitude: 51.5072, Longitude: -0.1276, NetworkType: radio.NetworkNR, RSRP: -100},
		{Latitude: 51.5072, Longitude: -0.1276, NetworkType: radio.NetworkUnknown},
	}

	stats := Coverage(records, DefaultLevel)
	if len(stats) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(stats))
	}

	var sydney *CellStat
	for i := range stats {
		if stats[i].Count == 2 {
			sydney = &stats[i]
		}
	}
	if sydney == nil {
		t.Fatalf("expected a cell with 2 records: %+v", stats)
	}
	if sydney.MeanRSRP != -85 || sydney.MinRSRP != -90 || sydney.MaxRSRP != -80 {
		t.Errorf("unexpected stats %+v", sydney)
	}

	b := CellBounds(sydney.ID)
	if sydney.Lat < b.MinLat || sydney.Lat > b.MaxLat || sydney.Lon < b.MinLon || sydney.Lon > b.MaxLon {
		t.Errorf("cell center %f,%f outside bounds %+v", sydney.Lat, sydney.Lon, b)
	}
}
