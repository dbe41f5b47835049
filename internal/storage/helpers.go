package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && cErr != sql.ErrTxDone && *err == nil {
		*err = cErr
	}
}

func toRecordData(r *measurement.Record) *recordData {
	return &recordData{
		SessionID:      r.SessionID,
		Timestamp:      r.Timestamp.UnixMilli(),
		SubscriptionID: r.SubscriptionID,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Altitude:       r.Altitude,

		Speed: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.Speed),
			Valid:   r.Speed != nil,
		},
		Bearing: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.Bearing),
			Valid:   r.Bearing != nil,
		},
		Accuracy: sql.NullFloat64{
			Float64: toSQLNullType[float64](r.Accuracy),
			Valid:   r.Accuracy != nil,
		},

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

		Roaming:      toNullBool(r.Roaming),
		DataState:    r.DataState,
		DataActivity: r.DataActivity,
		SIMState:     r.SIMState,

		ENDCAvailable:       toNullBool(r.ENDCAvailable),
		NRState:             toNullString(r.NRState),
		OverrideNetworkType: toNullString(r.OverrideNetworkType),

		CSIRSRP: sql.NullInt64{
			Int64: toSQLNullType[int64](r.CSIRSRP),
			Valid: r.CSIRSRP != nil,
		},
		CSISINR: sql.NullInt64{
			Int64: toSQLNullType[int64](r.CSISINR),
			Valid: r.CSISINR != nil,
		},
		SSRSRP: sql.NullInt64{
			Int64: toSQLNullType[int64](r.SSRSRP),
			Valid: r.SSRSRP != nil,
		},
		SSSINR: sql.NullInt64{
			Int64: toSQLNullType[int64](r.SSSINR),
			Valid: r.SSSINR != nil,
		},
	}
}

func (d *recordData) values() []any {
	return []any{
		d.SessionID,
		d.Timestamp,
		d.SubscriptionID,
		d.Latitude,
		d.Longitude,
		d.Altitude,
		d.Speed,
		d.Bearing,
		d.Accuracy,
		d.NetworkType,
		d.RSRP,
		d.RSSI,
		d.RSRQ,
		d.SNR,
		d.CQI,
		d.TimingAdvance,
		d.CellID,
		d.NodeBID,
		d.TAC,
		d.PCI,
		d.EARFCN,
		d.NRARFCN,
		d.Bandwidth,
		d.Roaming,
		d.DataState,
		d.DataActivity,
		d.SIMState,
		d.ENDCAvailable,
		d.NRState,
		d.OverrideNetworkType,
		d.CSIRSRP,
		d.CSISINR,
		d.SSRSRP,
		d.SSSINR,
	}
}

// scanTargets returns the destinations matching the column order of
// selectRecordsSQL.
func (d *recordData) scanTargets(p *profileData) []any {
	return []any{
		&d.Timestamp,
		&d.SessionID,
		&d.SubscriptionID,
		&d.Latitude,
		&d.Longitude,
		&d.Altitude,
		&d.Speed,
		&d.Bearing,
		&d.Accuracy,
		&d.NetworkType,
		&d.RSRP,
		&d.RSSI,
		&d.RSRQ,
		&d.SNR,
		&d.CQI,
		&d.TimingAdvance,
		&d.CellID,
		&d.NodeBID,
		&d.TAC,
		&d.PCI,
		&d.EARFCN,
		&d.NRARFCN,
		&d.Bandwidth,
		&d.Roaming,
		&d.DataState,
		&d.DataActivity,
		&d.SIMState,
		&d.ENDCAvailable,
		&d.NRState,
		&d.OverrideNetworkType,
		&d.CSIRSRP,
		&d.CSISINR,
		&d.SSRSRP,
		&d.SSSINR,
		&p.SlotIndex,
		&p.MCC,
		&p.MNC,
		&p.DisplayName,
		&p.Embedded,
	}
}

func (d *recordData) toRecord(p *profileData) measurement.Record {
	return measurement.Record{
		Timestamp:      time.UnixMilli(d.Timestamp).UTC(),
		SessionID:      d.SessionID,
		SubscriptionID: d.SubscriptionID,
		Latitude:       d.Latitude,
		Longitude:      d.Longitude,
		Altitude:       d.Altitude,
		Speed:          fromNullFloat(d.Speed),
		Bearing:        fromNullFloat(d.Bearing),
		Accuracy:       fromNullFloat(d.Accuracy),

		NetworkType:   d.NetworkType,
		RSRP:          d.RSRP,
		RSSI:          d.RSSI,
		RSRQ:          d.RSRQ,
		SNR:           d.SNR,
		CQI:           d.CQI,
		TimingAdvance: d.TimingAdvance,
		CellID:        d.CellID,
		NodeBID:       d.NodeBID,
		TAC:           d.TAC,
		PCI:           d.PCI,
		EARFCN:        d.EARFCN,
		NRARFCN:       d.NRARFCN,
		Bandwidth:     d.Bandwidth,

		SlotIndex:    int(p.SlotIndex.Int64),
		MCC:          p.MCC.String,
		MNC:          p.MNC.String,
		CarrierName:  p.DisplayName.String,
		Embedded:     p.Embedded.Bool,
		Roaming:      fromNullBool(d.Roaming),
		DataState:    d.DataState,
		DataActivity: d.DataActivity,
		SIMState:     d.SIMState,

		ENDCAvailable:       fromNullBool(d.ENDCAvailable),
		NRState:             fromNullString(d.NRState),
		OverrideNetworkType: fromNullString(d.OverrideNetworkType),
		CSIRSRP:             fromNullInt(d.CSIRSRP),
		CSISINR:             fromNullInt(d.CSISINR),
		SSRSRP:              fromNullInt(d.SSRSRP),
		SSSINR:              fromNullInt(d.SSSINR),
	}
}

func (d *sessionData) toSession() *Session {
	s := Session{
		ID:        d.ID,
		Filename:  d.Filename,
		DeviceID:  d.DeviceID,
		StartTime: time.UnixMilli(d.StartTime).UTC(),
		Synced:    d.Synced,
	}
	if d.EndTime.Valid {
		end := time.UnixMilli(d.EndTime.Int64).UTC()
		s.EndTime = &end
	}
	return &s
}

func toSQLNullType[T float64 | int64, Y float64 | int | int64](f *Y) T {
	if f == nil {
		return 0
	}
	return T(*f)
}

func toNullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func toNullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func fromNullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
