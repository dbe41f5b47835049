package geo

import (
	"slices"

	"github.com/golang/geo/s2"

	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
)

// CellStat summarizes the records that fall into one s2 cell
type CellStat struct {
	ID       s2.CellID `json:"-"`
	Token    string    `json:"cell"`
	Lat      float64   `json:"lat"` // Cell center
	Lon      float64   `json:"lon"`
	Count    int       `json:"count"`
	MeanRSRP float64   `json:"meanRsrp"`
	MinRSRP  int       `json:"minRsrp"`
	MaxRSRP  int       `json:"maxRsrp"`
}

// Coverage groups records into s2 cells of the given level and computes the
// signal statistics per cell. Records without a serving cell are ignored.
// Cells are returned in cell id order.
func Coverage(records []measurement.Record, level int) []CellStat {
	cells := make(map[s2.CellID]*CellStat)
	sums := make(map[s2.CellID]int)

	for _, r := range records {
		if r.NetworkType == radio.NetworkUnknown || r.RSRP == 0 {
			continue
		}

		id := CellID(r.Latitude, r.Longitude, level)
		stat, ok := cells[id]
		if !ok {
			center := id.LatLng()
			stat = &CellStat{
				ID:      id,
				Token:   id.ToToken(),
				Lat:     center.Lat.Degrees(),
				Lon:     center.Lng.Degrees(),
				MinRSRP: r.RSRP,
				MaxRSRP: r.RSRP,
			}
			cells[id] = stat
		}

		stat.Count++
		stat.MinRSRP = min(stat.MinRSRP, r.RSRP)
		stat.MaxRSRP = max(stat.MaxRSRP, r.RSRP)
		sums[id] += r.RSRP
	}

	out := make([]CellStat, 0, len(cells))
	for id, stat := range cells {
		stat.MeanRSRP = float64(sums[id]) / float64(stat.Count)
		out = append(out, *stat)
	}

	slices.SortFunc(out, func(a, b CellStat) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return out
}
