package radio

import "time"

// UnknownSubscription identifies records produced by legacy single-radio
// devices where no subscription information is available.
const UnknownSubscription = -1

const (
	NetworkLTE     = "LTE"
	NetworkNR      = "5G"
	NetworkUnknown = "Unknown"
)

// Identity is one active radio module (SIM) on the device.
type Identity struct {
	SubscriptionID int `json:"subscriptionId"`
	SlotIndex      int `json:"slotIndex"`
}

// Profile is the slowly-changing metadata of a radio identity.
type Profile struct {
	SubscriptionID int    `json:"subscriptionId"`
	SlotIndex      int    `json:"slotIndex"`
	MCC            string `json:"mcc,omitempty"`
	MNC            string `json:"mnc,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	Embedded       bool   `json:"embedded"`
}

// Cell is the generation-specific part of a signal snapshot. It is one of
// LTE, NR or Unavailable.
type Cell interface {
	cell()
}

// LTE carries the measurements valid for an LTE serving cell. Secondary
// metrics use 0 for "not reported".
type LTE struct {
	RSRP          int   `json:"rsrp"`          // dBm
	RSSI          int   `json:"rssi"`          // dBm
	RSRQ          int   `json:"rsrq"`          // dB
	SNR           int   `json:"snr"`           // dB
	CQI           int   `json:"cqi"`           // Channel quality indicator
	TimingAdvance int   `json:"timingAdvance"` // Timing advance
	CI            int64 `json:"ci"`            // 28-bit E-UTRAN cell identity
	TAC           int   `json:"tac"`           // Tracking area code
	PCI           int   `json:"pci"`           // Physical cell id
	EARFCN        int   `json:"earfcn"`        // Absolute radio frequency channel number
	Bandwidth     int   `json:"bandwidth"`     // kHz
}

// NR carries the measurements valid for a 5G NR serving cell.
type NR struct {
	SSRSRP  int   `json:"ssRsrp"`  // dBm
	SSRSRQ  int   `json:"ssRsrq"`  // dB
	SSSINR  *int  `json:"ssSinr"`  // dB
	CSIRSRP *int  `json:"csiRsrp"` // dBm
	CSISINR *int  `json:"csiSinr"` // dB
	NCI     int64 `json:"nci"`     // 36-bit NR cell identity
	TAC     int   `json:"tac"`     // Tracking area code
	PCI     int   `json:"pci"`     // Physical cell id
	NRARFCN int   `json:"nrarfcn"` // NR absolute radio frequency channel number
}

// Unavailable marks a snapshot for which no serving cell could be read.
type Unavailable struct {
	Reason string `json:"reason,omitempty"`
}

func (LTE) cell()         {}
func (NR) cell()          {}
func (Unavailable) cell() {}

// ENodeBID derives the eNodeB id from the 28-bit cell identity.
func (c LTE) ENodeBID() int64 {
	return c.CI >> 8
}

// GNodeBID derives the gNodeB id from the 36-bit NR cell identity assuming
// the common 24-bit gNodeB id length.
func (c NR) GNodeBID() int64 {
	return c.NCI >> 12
}

// Snapshot is the point-in-time signal and network state of one identity.
type Snapshot struct {
	SubscriptionID int
	Timestamp      time.Time
	Cell           Cell
	NetworkType    string

	Roaming      *bool
	DataState    string
	DataActivity string
	SIMState     string

	ENDCAvailable       *bool
	NRState             *string
	OverrideNetworkType *string

	Profile Profile
}

// Stale returns a copy of s restamped at t; it stands in for a failed read.
func (s Snapshot) Stale(t time.Time) Snapshot {
	s.Timestamp = t
	return s
}

// UnavailableSnapshot builds a snapshot for an identity that could not be read.
func UnavailableSnapshot(id Identity, t time.Time, reason string) Snapshot {
	return Snapshot{
		SubscriptionID: id.SubscriptionID,
		Timestamp:      t,
		Cell:           Unavailable{Reason: reason},
		NetworkType:    NetworkUnknown,
		Profile:        Profile{SubscriptionID: id.SubscriptionID, SlotIndex: id.SlotIndex},
	}
}
