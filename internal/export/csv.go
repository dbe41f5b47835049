package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

// Base schema columns. The extended schema appends extendedColumns.
var baseColumns = []string{
	"timestamp",
	"session_id",
	"subscription_id",
	"latitude",
	"longitude",
	"altitude",
	"speed",
	"bearing",
	"accuracy",
	"network_type",
	"rsrp",
	"rssi",
	"rsrq",
	"snr",
	"cqi",
	"timing_advance",
	"cell_id",
	"enb_id",
	"tac",
	"pci",
	"earfcn",
	"nrarfcn",
	"bandwidth",
	"slot_index",
	"mcc",
	"mnc",
	"carrier_name",
	"is_embedded",
	"is_roaming",
	"data_state",
	"data_activity",
	"sim_state",
}

var extendedColumns = []string{
	"endc_available",
	"nr_state",
	"override_network_type",
	"csi_rsrp",
	"csi_sinr",
	"ss_rsrp",
	"ss_sinr",
}

// Header returns the column names of the schema
func Header(schema measurement.Schema) []string {
	header := make([]string, 0, len(baseColumns)+len(extendedColumns))
	header = append(header, baseColumns...)
	if schema == measurement.SchemaExtended {
		header = append(header, extendedColumns...)
	}
	return header
}

// schemaForColumns maps a header column count to its schema.
func schemaForColumns(n int) (measurement.Schema, bool) {
	switch n {
	case len(baseColumns):
		return measurement.SchemaBase, true
	case len(baseColumns) + len(extendedColumns):
		return measurement.SchemaExtended, true
	default:
		return 0, false
	}
}

// EncodeRow renders r as the fields of one row. Absent values render as
// empty fields. Extended fields are dropped for the base schema.
func EncodeRow(r measurement.Record, schema measurement.Schema) []string {
	row := []string{
		strconv.FormatInt(r.Timestamp.UnixMilli(), 10),
		r.SessionID,
		strconv.Itoa(r.SubscriptionID),
		formatFloat(r.Latitude),
		formatFloat(r.Longitude),
		formatFloat(r.Altitude),
		formatFloatPtr(r.Speed),
		formatFloatPtr(r.Bearing),
		formatFloatPtr(r.Accuracy),
		r.NetworkType,
		strconv.Itoa(r.RSRP),
		strconv.Itoa(r.RSSI),
		strconv.Itoa(r.RSRQ),
		strconv.Itoa(r.SNR),
		strconv.Itoa(r.CQI),
		strconv.Itoa(r.TimingAdvance),
		strconv.FormatInt(r.CellID, 10),
		strconv.FormatInt(r.NodeBID, 10),
		strconv.Itoa(r.TAC),
		strconv.Itoa(r.PCI),
		strconv.Itoa(r.EARFCN),
		strconv.Itoa(r.NRARFCN),
		strconv.Itoa(r.Bandwidth),
		strconv.Itoa(r.SlotIndex),
		r.MCC,
		r.MNC,
		r.CarrierName,
		strconv.FormatBool(r.Embedded),
		formatBoolPtr(r.Roaming),
		r.DataState,
		r.DataActivity,
		r.SIMState,
	}

	if schema != measurement.SchemaExtended {
		return row
	}

	return append(row,
		formatBoolPtr(r.ENDCAvailable),
		formatStringPtr(r.NRState),
		formatStringPtr(r.OverrideNetworkType),
		formatIntPtr(r.CSIRSRP),
		formatIntPtr(r.CSISINR),
		formatIntPtr(r.SSRSRP),
		formatIntPtr(r.SSSINR),
	)
}

// Encoder writes records as CSV rows. Fields containing the delimiter,
// quotes or line breaks are quoted.
type Encoder struct {
	w      *csv.Writer
	schema measurement.Schema
}

// NewEncoder creates an Encoder writing rows of the given schema to w
func NewEncoder(w io.Writer, schema measurement.Schema) *Encoder {
	return &Encoder{w: csv.NewWriter(w), schema: schema}
}

// WriteHeader writes the header row
func (e *Encoder) WriteHeader() error {
	if err := e.w.Write(Header(e.schema)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return nil
}

// Encode writes one record. Rows are buffered until Flush.
func (e *Encoder) Encode(r measurement.Record) error {
	if err := e.w.Write(EncodeRow(r, e.schema)); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	return nil
}

// Flush writes buffered rows to the underlying writer
func (e *Encoder) Flush() error {
	e.w.Flush()
	return e.w.Error()
}

// EncodeCSV writes a complete document: header followed by records.
func EncodeCSV(w io.Writer, schema measurement.Schema, records []measurement.Record) error {
	enc := NewEncoder(w, schema)
	if err := enc.WriteHeader(); err != nil {
		return err
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return enc.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func formatStringPtr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
