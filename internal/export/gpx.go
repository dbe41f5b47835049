package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

// SignalNamespace is the GPX extension namespace of the per-point signal fields
const SignalNamespace = "https://github.com/roman-kulish/signal-logger/xmlschemas/signal/v1"

const gpxFooter = "</trkseg>\n</trk>\n</gpx>\n"

// gpxHeader returns the opening block of a track document
func gpxHeader(name string) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, "<gpx version=\"1.1\" creator=\"signal-logger\" xmlns=\"http://www.topografix.com/GPX/1/1\" xmlns:sig=%q>\n", SignalNamespace)
	b.WriteString("<trk>\n<name>")
	_ = xml.EscapeText(&b, []byte(name))
	b.WriteString("</name>\n<trkseg>\n")
	return b.Bytes()
}

type trackPoint struct {
	XMLName   xml.Name `xml:"trkpt"`
	Latitude  float64  `xml:"lat,attr"`
	Longitude float64  `xml:"lon,attr"`
	Elevation float64  `xml:"ele"`
	Time      string   `xml:"time"`
	Signal    signal   `xml:"extensions>sig:signal"`
}

type signal struct {
	Session       string   `xml:"sig:session,omitempty"`
	Subscription  int      `xml:"sig:subscription"`
	Speed         *float64 `xml:"sig:speed,omitempty"`
	Bearing       *float64 `xml:"sig:bearing,omitempty"`
	Accuracy      *float64 `xml:"sig:accuracy,omitempty"`
	NetworkType   string   `xml:"sig:network"`
	RSRP          int      `xml:"sig:rsrp"`
	RSSI          int      `xml:"sig:rssi,omitempty"`
	RSRQ          int      `xml:"sig:rsrq,omitempty"`
	SNR           int      `xml:"sig:snr,omitempty"`
	CQI           int      `xml:"sig:cqi,omitempty"`
	TimingAdvance int      `xml:"sig:ta,omitempty"`
	CellID        int64    `xml:"sig:cell"`
	NodeBID       int64    `xml:"sig:nodeb,omitempty"`
	TAC           int      `xml:"sig:tac,omitempty"`
	PCI           int      `xml:"sig:pci,omitempty"`
	EARFCN        int      `xml:"sig:earfcn,omitempty"`
	NRARFCN       int      `xml:"sig:nrarfcn,omitempty"`
	Bandwidth     int      `xml:"sig:bandwidth,omitempty"`
	MCC           string   `xml:"sig:mcc,omitempty"`
	MNC           string   `xml:"sig:mnc,omitempty"`
	Carrier       string   `xml:"sig:carrier,omitempty"`
	Roaming       *bool    `xml:"sig:roaming,omitempty"`
	ENDCAvailable *bool    `xml:"sig:endc,omitempty"`
	NRState       *string  `xml:"sig:nrState,omitempty"`
	CSIRSRP       *int     `xml:"sig:csiRsrp,omitempty"`
	CSISINR       *int     `xml:"sig:csiSinr,omitempty"`
	SSRSRP        *int     `xml:"sig:ssRsrp,omitempty"`
	SSSINR        *int     `xml:"sig:ssSinr,omitempty"`
}

// encodePoint renders r as one <trkpt> fragment followed by a newline
func encodePoint(r measurement.Record) ([]byte, error) {
	pt := trackPoint{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Elevation: r.Altitude,
		Time:      r.Timestamp.UTC().Format(time.RFC3339Nano),
		Signal: signal{
			Session:       r.SessionID,
			Subscription:  r.SubscriptionID,
			Speed:         r.Speed,
			Bearing:       r.Bearing,
			Accuracy:      r.Accuracy,
			NetworkType:   r.NetworkType,
			RSRP:          r.RSRP,
			RSSI:          r.RSSI,
			RSRQ:          r.RSRQ,
			SNR:           r.SNR,
			CQI:           r.CQI,
			TimingAdvance: r.TimingAdvance,
			CellID:        r.CellID,
			NodeBID:       r.NodeBID,
			TAC:           r.TAC,
			PCI:           r.PCI,
			EARFCN:        r.EARFCN,
			NRARFCN:       r.NRARFCN,
			Bandwidth:     r.Bandwidth,
			MCC:           r.MCC,
			MNC:           r.MNC,
			Carrier:       r.CarrierName,
			Roaming:       r.Roaming,
			ENDCAvailable: r.ENDCAvailable,
			NRState:       r.NRState,
			CSIRSRP:       r.CSIRSRP,
			CSISINR:       r.CSISINR,
			SSRSRP:        r.SSRSRP,
			SSSINR:        r.SSSINR,
		},
	}

	b, err := xml.Marshal(pt)
	if err != nil {
		return nil, fmt.Errorf("encoding track point: %w", err)
	}
	return append(b, '\n'), nil
}

// EncodeTrack writes a complete track document named name.
func EncodeTrack(w io.Writer, name string, records []measurement.Record) error {
	if _, err := w.Write(gpxHeader(name)); err != nil {
		return fmt.Errorf("writing track header: %w", err)
	}

	for _, r := range records {
		b, err := encodePoint(r)
		if err != nil {
			return err
		}
		if _, err = w.Write(b); err != nil {
			return fmt.Errorf("writing track point: %w", err)
		}
	}

	if _, err := io.WriteString(w, gpxFooter); err != nil {
		return fmt.Errorf("writing track footer: %w", err)
	}
	return nil
}

// hasFooter reports whether tail, the end of a track document, ends with
// the closing block.
func hasFooter(tail []byte) bool {
	return bytes.HasSuffix(bytes.TrimRight(tail, " \t\r\n"), []byte("</gpx>"))
}

// footerOffset returns the offset in tail where the closing block starts,
// or -1.
func footerOffset(tail []byte) int {
	if !hasFooter(tail) {
		return -1
	}
	return bytes.LastIndex(tail, []byte("</trkseg>"))
}
