package upload

import (
	"fmt"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

// Payload is one uploaded batch of a session
type Payload struct {
	DeviceID  string          `json:"deviceId"`
	SessionID string          `json:"sessionId"`
	Records   []RecordPayload `json:"records"`
}

// RecordPayload is a record with the collector's field names
type RecordPayload struct {
	Timestamp      int64    `json:"timestamp"` // epoch milliseconds
	SubscriptionID int      `json:"subscriptionId"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Altitude       float64  `json:"altitude"`
	Speed          *float64 `json:"speed,omitempty"`
	Bearing        *float64 `json:"bearing,omitempty"`
	Accuracy       *float64 `json:"accuracy,omitempty"`

	NetworkType   string `json:"networkType"`
	RSRP          int    `json:"rsrp"`
	RSSI          int    `json:"rssi,omitempty"`
	RSRQ          int    `json:"rsrq,omitempty"`
	SNR           int    `json:"snr,omitempty"`
	CQI           int    `json:"cqi,omitempty"`
	TimingAdvance int    `json:"timingAdvance,omitempty"`
	CellID        int64  `json:"cellId"`
	NodeBID       int64  `json:"nodeBId,omitempty"`
	TAC           int    `json:"tac,omitempty"`
	PCI           int    `json:"pci,omitempty"`
	EARFCN        int    `json:"earfcn,omitempty"`
	NRARFCN       int    `json:"nrarfcn,omitempty"`
	Bandwidth     int    `json:"bandwidth,omitempty"`

	SlotIndex    int    `json:"slotIndex"`
	MCC          string `json:"mcc,omitempty"`
	MNC          string `json:"mnc,omitempty"`
	CarrierName  string `json:"carrierName,omitempty"`
	Embedded     bool   `json:"embedded"`
	Roaming      *bool  `json:"roaming,omitempty"`
	DataState    string `json:"dataState,omitempty"`
	DataActivity string `json:"dataActivity,omitempty"`
	SIMState     string `json:"simState,omitempty"`

	ENDCAvailable       *bool   `json:"endcAvailable,omitempty"`
	NRState             *string `json:"nrState,omitempty"`
	OverrideNetworkType *string `json:"overrideNetworkType,omitempty"`
	CSIRSRP             *int    `json:"csiRsrp,omitempty"`
	CSISINR             *int    `json:"csiSinr,omitempty"`
	SSRSRP              *int    `json:"ssRsrp,omitempty"`
	SSSINR              *int    `json:"ssSinr,omitempty"`
}

// NewPayload builds the payload of one batch
func NewPayload(deviceID, sessionID string, records []measurement.Record) *Payload {
	p := Payload{
		DeviceID:  deviceID,
		SessionID: sessionID,
		Records:   make([]RecordPayload, len(records)),
	}

	for i, r := range records {
		p.Records[i] = RecordPayload{
			Timestamp:      r.Timestamp.UnixMilli(),
			SubscriptionID: r.SubscriptionID,
			Latitude:       r.Latitude,
			Longitude:      r.Longitude,
			Altitude:       r.Altitude,
			Speed:          r.Speed,
			Bearing:        r.Bearing,
			Accuracy:       r.Accuracy,

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

			SlotIndex:    r.SlotIndex,
			MCC:          r.MCC,
			MNC:          r.MNC,
			CarrierName:  r.CarrierName,
			Embedded:     r.Embedded,
			Roaming:      r.Roaming,
			DataState:    r.DataState,
			DataActivity: r.DataActivity,
			SIMState:     r.SIMState,

			ENDCAvailable:       r.ENDCAvailable,
			NRState:             r.NRState,
			OverrideNetworkType: r.OverrideNetworkType,
			CSIRSRP:             r.CSIRSRP,
			CSISINR:             r.CSISINR,
			SSRSRP:              r.SSRSRP,
			SSSINR:              r.SSSINR,
		}
	}

	return &p
}

// DeduplicationID identifies a batch by device, session and the timestamps
// of its first and last record, which is what the collector de-duplicates
// on.
func (p *Payload) DeduplicationID() string {
	if len(p.Records) == 0 {
		return fmt.Sprintf("%s/%s", p.DeviceID, p.SessionID)
	}
	return fmt.Sprintf("%s/%s/%d-%d", p.DeviceID, p.SessionID,
		p.Records[0].Timestamp, p.Records[len(p.Records)-1].Timestamp)
}
