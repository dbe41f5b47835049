package measurement

import (
	"time"

	"github.com/roman-kulish/signal-logger/internal/position"
	"github.com/roman-kulish/signal-logger/internal/radio"
)

// Schema is the record schema version. Extended records carry the
// dual-connectivity and NR CSI/SS fields.
type Schema int

const (
	SchemaBase Schema = iota + 1
	SchemaExtended
)

// Record is one fused position and signal observation. Records are values:
// once assembled they are never modified.
//
// Secondary signal metrics use 0 for "not reported". Optional position and
// extended radio fields are nil when absent.
type Record struct {
	Timestamp      time.Time // Millisecond precision
	SessionID      string
	SubscriptionID int // radio.UnknownSubscription for legacy single-radio data

	Latitude  float64  // Degrees
	Longitude float64  // Degrees
	Altitude  float64  // Meters, 0 when not reported
	Speed     *float64 // m/s
	Bearing   *float64 // Degrees, 0..360
	Accuracy  *float64 // Meters, horizontal

	RSRP          int // dBm, primary strength
	RSSI          int // dBm
	RSRQ          int // dB
	SNR           int // dB
	CQI           int
	TimingAdvance int
	NetworkType   string

	CellID    int64
	NodeBID   int64 // eNodeB or gNodeB
	TAC       int
	PCI       int
	EARFCN    int
	NRARFCN   int
	Bandwidth int // kHz

	SlotIndex    int
	MCC          string
	MNC          string
	CarrierName  string
	Embedded     bool
	Roaming      *bool
	DataState    string
	DataActivity string
	SIMState     string

	ENDCAvailable       *bool
	NRState             *string
	OverrideNetworkType *string
	CSIRSRP             *int
	CSISINR             *int
	SSRSRP              *int
	SSSINR              *int
}

// Schema reports the lowest schema version able to carry every field of r.
func (r Record) Schema() Schema {
	if r.ENDCAvailable != nil || r.NRState != nil || r.OverrideNetworkType != nil ||
		r.CSIRSRP != nil || r.CSISINR != nil || r.SSRSRP != nil || r.SSSINR != nil {
		return SchemaExtended
	}
	return SchemaBase
}

// Assemble joins a position sample and a signal snapshot into a Record. The
// session id is left for the caller to set.
func Assemble(p position.Sample, s radio.Snapshot, meta radio.Profile) Record {
	r := Record{
		Timestamp:      s.Timestamp.Truncate(time.Millisecond),
		SubscriptionID: s.SubscriptionID,

		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Speed:     copyPtr(p.Speed),
		Bearing:   copyPtr(p.Bearing),
		Accuracy:  copyPtr(p.Accuracy),

		NetworkType: s.NetworkType,

		SlotIndex:    meta.SlotIndex,
		MCC:          meta.MCC,
		MNC:          meta.MNC,
		CarrierName:  meta.DisplayName,
		Embedded:     meta.Embedded,
		Roaming:      copyPtr(s.Roaming),
		DataState:    s.DataState,
		DataActivity: s.DataActivity,
		SIMState:     s.SIMState,

		ENDCAvailable:       copyPtr(s.ENDCAvailable),
		NRState:             copyPtr(s.NRState),
		OverrideNetworkType: copyPtr(s.OverrideNetworkType),
	}

	if p.Altitude != nil {
		r.Altitude = *p.Altitude
	}

	switch c := s.Cell.(type) {
	case radio.LTE:
		r.RSRP = c.RSRP
		r.RSSI = c.RSSI
		r.RSRQ = c.RSRQ
		r.SNR = c.SNR
		r.CQI = c.CQI
		r.TimingAdvance = c.TimingAdvance
		r.CellID = c.CI
		r.NodeBID = c.ENodeBID()
		r.TAC = c.TAC
		r.PCI = c.PCI
		r.EARFCN = c.EARFCN
		r.Bandwidth = c.Bandwidth
		if r.NetworkType == "" {
			r.NetworkType = radio.NetworkLTE
		}

	case radio.NR:
		r.RSRP = c.SSRSRP
		r.RSRQ = c.SSRSRQ
		if c.SSSINR != nil {
			r.SNR = *c.SSSINR
		}
		r.CellID = c.NCI
		r.NodeBID = c.GNodeBID()
		r.TAC = c.TAC
		r.PCI = c.PCI
		r.NRARFCN = c.NRARFCN
		r.CSIRSRP = copyPtr(c.CSIRSRP)
		r.CSISINR = copyPtr(c.CSISINR)
		r.SSRSRP = &c.SSRSRP
		r.SSSINR = copyPtr(c.SSSINR)
		if r.NetworkType == "" {
			r.NetworkType = radio.NetworkNR
		}

	default:
		r.NetworkType = radio.NetworkUnknown
	}

	if r.NetworkType == "" {
		r.NetworkType = radio.NetworkUnknown
	}

	return r
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
