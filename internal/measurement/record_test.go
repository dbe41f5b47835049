package measurement

import (
	"context"
	"testing"
	"time"

	"github.com/roman-kulish/signal-logger/internal/position"
	"github.com/roman-kulish/signal-logger/internal/radio"
)

func ptr[T any](v T) *T {
	return &v
}

func TestAssemble_LTE(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	p := position.Sample{Timestamp: now, Latitude: 1.0, Longitude: 2.0}
	s := radio.Snapshot{
		SubscriptionID: 10,
		Timestamp:      now,
		NetworkType:    radio.NetworkLTE,
		Cell:           radio.LTE{RSRP: -85, RSRQ: -11, CI: 0x0A0B0C0D, TAC: 7, PCI: 301, EARFCN: 1300, Bandwidth: 20000},
	}
	meta := radio.Profile{SubscriptionID: 10, SlotIndex: 1, MCC: "505", MNC: "01", DisplayName: "Telstra"}

	r := Assemble(p, s, meta)

	if r.Latitude != 1.0 || r.Longitude != 2.0 {
		t.Errorf("unexpected position %f,%f", r.Latitude, r.Longitude)
	}
	if r.RSRP != -85 || r.SubscriptionID != 10 {
		t.Errorf("unexpected signal rsrp=%d subscription=%d", r.RSRP, r.SubscriptionID)
	}
	if r.CellID != 0x0A0B0C0D || r.NodeBID != 0x0A0B0C {
		t.Errorf("unexpected cell identity %d / %d", r.CellID, r.NodeBID)
	}
	if r.Timestamp.Nanosecond() != 123000000 {
		t.Errorf("timestamp must be truncated to milliseconds, got %v", r.Timestamp)
	}
	if r.CarrierName != "Telstra" || r.SlotIndex != 1 {
		t.Errorf("profile metadata not denormalized: %+v", r)
	}
	if r.Schema() != SchemaBase {
		t.Errorf("expected base schema, got %d", r.Schema())
	}
}

func TestAssemble_AbsentFieldsStayAbsent(t *testing.T) {
	p := position.Sample{Latitude: 1, Longitude: 2}
	s := radio.Snapshot{Cell: radio.LTE{RSRP: -90}}

	r := Assemble(p, s, radio.Profile{})

	if r.Speed != nil || r.Bearing != nil || r.Accuracy != nil {
		t.Errorf("absent position fields must stay nil: speed=%v bearing=%v accuracy=%v", r.Speed, r.Bearing, r.Accuracy)
	}
	if r.Roaming != nil || r.ENDCAvailable != nil || r.CSIRSRP != nil {
		t.Error("absent radio fields must stay nil")
	}
	if r.Altitude != 0 {
		t.Errorf("missing altitude defaults to 0, got %f", r.Altitude)
	}
}

func TestAssemble_PresentZeroIsKept(t *testing.T) {
	p := position.Sample{Latitude: 1, Longitude: 2, Speed: ptr(0.0), Bearing: ptr(359.5)}

	r := Assemble(p, radio.Snapshot{Cell: radio.LTE{}}, radio.Profile{})
	if r.Speed == nil || *r.Speed != 0 {
		t.Errorf("stationary speed must be kept as 0, got %v", r.Speed)
	}

	*p.Bearing = 10
	if *r.Bearing != 359.5 {
		t.Error("record must not alias the sample")
	}
}

func TestAssemble_NR(t *testing.T) {
	s := radio.Snapshot{
		Cell:          radio.NR{SSRSRP: -95, SSSINR: ptr(12), CSIRSRP: ptr(-97), NCI: 0x123456789, NRARFCN: 632628},
		ENDCAvailable: ptr(true),
	}

	r := Assemble(position.Sample{}, s, radio.Profile{})

	if r.NetworkType != radio.NetworkNR {
		t.Errorf("expected network type %q, got %q", radio.NetworkNR, r.NetworkType)
	}
	if r.RSRP != -95 || r.SSRSRP == nil || *r.SSRSRP != -95 {
		t.Errorf("SS-RSRP must be the primary strength, got %d", r.RSRP)
	}
	if r.NodeBID != 0x123456789>>12 {
		t.Errorf("unexpected gNodeB id %d", r.NodeBID)
	}
	if r.CSISINR != nil {
		t.Error("unreported CSI SINR must stay nil")
	}
	if r.SNR != 12 || r.SSSINR == nil || *r.SSSINR != 12 {
		t.Errorf("expected SS-SINR 12, got snr %d ss-sinr %v", r.SNR, r.SSSINR)
	}
	if r.Schema() != SchemaExtended {
		t.Errorf("expected extended schema, got %d", r.Schema())
	}
}

func TestAssemble_NRWithoutSINR(t *testing.T) {
	s := radio.Snapshot{Cell: radio.NR{SSRSRP: -101, NCI: 8192}}

	r := Assemble(position.Sample{}, s, radio.Profile{})

	if r.SSSINR != nil {
		t.Errorf("unreported SS-SINR must stay absent, got %d", *r.SSSINR)
	}
	if r.SNR != 0 {
		t.Errorf("expected snr 0, got %d", r.SNR)
	}
	if r.SSRSRP == nil || *r.SSRSRP != -101 {
		t.Errorf("expected SS-RSRP -101, got %v", r.SSRSRP)
	}
}

func TestAssemble_Unavailable(t *testing.T) {
	s := radio.UnavailableSnapshot(radio.Identity{SubscriptionID: 2}, time.Now(), "no permission")

	r := Assemble(position.Sample{Latitude: 5, Longitude: 6}, s, s.Profile)

	if r.NetworkType != radio.NetworkUnknown || r.RSRP != 0 || r.CellID != 0 {
		t.Errorf("unavailable snapshot must map to Unknown with zero metrics: %+v", r)
	}
	if r.SubscriptionID != 2 {
		t.Errorf("expected subscription 2, got %d", r.SubscriptionID)
	}
}

func TestLog(t *testing.T) {
	l := NewLog()

	for i := range 5 {
		if idx := l.Append(Record{RSRP: -80 - i}); idx != i {
			t.Fatalf("expected index %d, got %d", i, idx)
		}
	}

	if l.Len() != 5 {
		t.Fatalf("expected 5 records, got %d", l.Len())
	}

	since := l.Since(3)
	if len(since) != 2 || since[0].RSRP != -83 {
		t.Errorf("unexpected Since(3): %+v", since)
	}
	since[0].RSRP = 0
	if l.Since(3)[0].RSRP != -83 {
		t.Error("Since must return a copy")
	}

	tail := l.Tail(10)
	if len(tail) != 5 || tail[4].RSRP != -84 {
		t.Errorf("unexpected Tail(10): %+v", tail)
	}

	l.Reset()
	if l.Len() != 0 || l.Since(0) != nil {
		t.Error("log must be empty after Reset")
	}
}

func TestLog_Subscribe(t *testing.T) {
	l := NewLog()
	for range 3 {
		l.Append(Record{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	views := l.Subscribe(ctx, 5*time.Millisecond, 2)

	select {
	case v := <-views:
		if v.Total != 3 || len(v.Records) != 2 {
			t.Errorf("unexpected view total=%d records=%d", v.Total, len(v.Records))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for view")
	}

	cancel()
	for range views {
		// drain until closed
	}
}
