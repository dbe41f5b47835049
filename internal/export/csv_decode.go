package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/radio"
)

var (
	// ErrEmptyInput is returned when the input has no header row
	ErrEmptyInput = errors.New("empty input")

	// ErrNoRecords is returned when the input has a header but no data rows
	ErrNoRecords = errors.New("no data rows")
)

// ParseError reports the first malformed row of a CSV document.
type ParseError struct {
	Line   int    // 1-based line number
	Column string // Column name, empty for row-level errors
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("line %d: column %q: %s", e.Line, e.Column, e.Err.Error())
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes a CSV document produced by Encoder. The header must have the
// column count of the base or the extended schema and start with the base
// column names in any letter case. Rows are returned in document order.
//
// Malformed required fields (timestamp, latitude, longitude, rsrp, cell_id)
// abort the whole decode with a *ParseError. Malformed optional fields fall
// back to defaults: 0 for metrics, absent for optional values, "Unknown" for
// the network type and -1 for the subscription id.
func Parse(in io.Reader) ([]measurement.Record, error) {
	cr := csv.NewReader(in)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, csvError(err)
	}

	schema, err := checkHeader(header)
	if err != nil {
		return nil, &ParseError{Line: 1, Err: err}
	}

	var records []measurement.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}

		line, _ := cr.FieldPos(0)
		r, perr := decodeRow(row, schema)
		if perr != nil {
			perr.Line = line
			return nil, perr
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

func checkHeader(header []string) (measurement.Schema, error) {
	schema, ok := schemaForColumns(len(header))
	if !ok {
		return 0, fmt.Errorf("unexpected column count %d, expected %d or %d",
			len(header), len(baseColumns), len(baseColumns)+len(extendedColumns))
	}

	for i, name := range baseColumns {
		got := strings.TrimSpace(header[i])
		if i == 0 {
			got = strings.TrimPrefix(got, "\ufeff")
		}
		if !strings.EqualFold(got, name) {
			return 0, fmt.Errorf("column %d is %q, expected %q", i+1, header[i], name)
		}
	}

	return schema, nil
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		line := pe.StartLine
		if line == 0 {
			line = pe.Line
		}
		return &ParseError{Line: line, Err: pe.Err}
	}
	return fmt.Errorf("reading csv: %w", err)
}

// rowDecoder reads typed fields of one row, recording the first failure of
// a required field.
type rowDecoder struct {
	row []string
	err *ParseError
}

func (d *rowDecoder) field(i int) string {
	return strings.TrimSpace(d.row[i])
}

func (d *rowDecoder) fail(i int, err error) {
	if d.err == nil {
		d.err = &ParseError{Column: Header(measurement.SchemaExtended)[i], Err: err}
	}
}

func (d *rowDecoder) requiredInt64(i int) int64 {
	v, err := strconv.ParseInt(d.field(i), 10, 64)
	if err != nil {
		d.fail(i, fmt.Errorf("invalid integer %q", d.row[i]))
	}
	return v
}

func (d *rowDecoder) requiredFloat(i int) float64 {
	v, err := strconv.ParseFloat(d.field(i), 64)
	if err != nil {
		d.fail(i, fmt.Errorf("invalid number %q", d.row[i]))
	}
	return v
}

func (d *rowDecoder) intOr(i int, def int) int {
	v, err := strconv.Atoi(d.field(i))
	if err != nil {
		return def
	}
	return v
}

func (d *rowDecoder) int64OrZero(i int) int64 {
	v, err := strconv.ParseInt(d.field(i), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (d *rowDecoder) floatOrZero(i int) float64 {
	v, err := strconv.ParseFloat(d.field(i), 64)
	if err != nil {
		return 0
	}
	return v
}

func (d *rowDecoder) floatPtr(i int) *float64 {
	v, err := strconv.ParseFloat(d.field(i), 64)
	if err != nil {
		return nil
	}
	return &v
}

func (d *rowDecoder) intPtr(i int) *int {
	v, err := strconv.Atoi(d.field(i))
	if err != nil {
		return nil
	}
	return &v
}

func (d *rowDecoder) boolOrFalse(i int) bool {
	v, _ := strconv.ParseBool(d.field(i))
	return v
}

func (d *rowDecoder) boolPtr(i int) *bool {
	v, err := strconv.ParseBool(d.field(i))
	if err != nil {
		return nil
	}
	return &v
}

func (d *rowDecoder) stringPtr(i int) *string {
	if v := d.row[i]; v != "" {
		return &v
	}
	return nil
}

func decodeRow(row []string, schema measurement.Schema) (measurement.Record, *ParseError) {
	d := rowDecoder{row: row}

	r := measurement.Record{
		Timestamp:      time.UnixMilli(d.requiredInt64(0)).UTC(),
		SessionID:      row[1],
		SubscriptionID: d.intOr(2, radio.UnknownSubscription),

		Latitude:  d.requiredFloat(3),
		Longitude: d.requiredFloat(4),
		Altitude:  d.floatOrZero(5),
		Speed:     d.floatPtr(6),
		Bearing:   d.floatPtr(7),
		Accuracy:  d.floatPtr(8),

		NetworkType:   d.field(9),
		RSRP:          int(d.requiredInt64(10)),
		RSSI:          d.intOr(11, 0),
		RSRQ:          d.intOr(12, 0),
		SNR:           d.intOr(13, 0),
		CQI:           d.intOr(14, 0),
		TimingAdvance: d.intOr(15, 0),

		CellID:    d.requiredInt64(16),
		NodeBID:   d.int64OrZero(17),
		TAC:       d.intOr(18, 0),
		PCI:       d.intOr(19, 0),
		EARFCN:    d.intOr(20, 0),
		NRARFCN:   d.intOr(21, 0),
		Bandwidth: d.intOr(22, 0),

		SlotIndex:    d.intOr(23, 0),
		MCC:          row[24],
		MNC:          row[25],
		CarrierName:  row[26],
		Embedded:     d.boolOrFalse(27),
		Roaming:      d.boolPtr(28),
		DataState:    row[29],
		DataActivity: row[30],
		SIMState:     row[31],
	}

	if d.err != nil {
		return measurement.Record{}, d.err
	}

	if r.NetworkType == "" {
		r.NetworkType = radio.NetworkUnknown
	}

	if schema == measurement.SchemaExtended {
		r.ENDCAvailable = d.boolPtr(32)
		r.NRState = d.stringPtr(33)
		r.OverrideNetworkType = d.stringPtr(34)
		r.CSIRSRP = d.intPtr(35)
		r.CSISINR = d.intPtr(36)
		r.SSRSRP = d.intPtr(37)
		r.SSSINR = d.intPtr(38)
	}

	return r, nil
}
