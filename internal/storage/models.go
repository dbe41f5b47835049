package storage

import (
	"database/sql"
	"time"
)

// Session is one continuous logging activity
type Session struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	DeviceID  string     `json:"deviceId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"` // nil while the session is open
	Synced    bool       `json:"synced"`
}

// IsOpen reports whether the session is still recording
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

type sessionData struct {
	ID        string
	Filename  string
	DeviceID  string
	StartTime int64
	EndTime   sql.NullInt64
	Synced    bool
}

type recordData struct {
	SessionID           string
	Timestamp           int64
	SubscriptionID      int
	Latitude            float64
	Longitude           float64
	Altitude            float64
	Speed               sql.NullFloat64
	Bearing             sql.NullFloat64
	Accuracy            sql.NullFloat64
	NetworkType         string
	RSRP                int
	RSSI                int
	RSRQ                int
	SNR                 int
	CQI                 int
	TimingAdvance       int
	CellID              int64
	NodeBID             int64
	TAC                 int
	PCI                 int
	EARFCN              int
	NRARFCN             int
	Bandwidth           int
	Roaming             sql.NullBool
	DataState           string
	DataActivity        string
	SIMState            string
	ENDCAvailable       sql.NullBool
	NRState             sql.NullString
	OverrideNetworkType sql.NullString
	CSIRSRP             sql.NullInt64
	CSISINR             sql.NullInt64
	SSRSRP              sql.NullInt64
	SSSINR              sql.NullInt64
}

// profileData holds the joined profile columns, all NULL when the
// subscription has no stored profile.
type profileData struct {
	SlotIndex   sql.NullInt64
	MCC         sql.NullString
	MNC         sql.NullString
	DisplayName sql.NullString
	Embedded    sql.NullBool
}
