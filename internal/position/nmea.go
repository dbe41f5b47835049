package position

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const knotsToMetersPerSecond = 0.514444

var (
	// ErrChecksum is returned when an NMEA sentence checksum does not match its content
	ErrChecksum = errors.New("nmea checksum mismatch")

	// ErrNoFix is returned for RMC sentences flagged as void
	ErrNoFix = errors.New("no position fix")
)

// NMEAParser turns a stream of NMEA 0183 sentences into position samples.
// RMC sentences produce samples; GGA and GST sentences update the altitude and
// horizontal accuracy attached to the following RMC sample. Sentences of
// other types are ignored. The parser is not safe for concurrent use.
type NMEAParser struct {
	altitude *float64
	accuracy *float64
}

// Parse consumes one sentence. It returns a sample and true when the sentence
// completed a fix.
func (p *NMEAParser) Parse(line string) (Sample, bool, error) {
	body, err := nmeaBody(line)
	if err != nil {
		return Sample{}, false, err
	}

	fields := strings.Split(body, ",")
	if len(fields[0]) < 5 {
		return Sample{}, false, fmt.Errorf("invalid sentence type %q", fields[0])
	}

	switch fields[0][len(fields[0])-3:] {
	case "RMC":
		return p.parseRMC(fields)

	case "GGA":
		return Sample{}, false, p.parseGGA(fields)

	case "GST":
		return Sample{}, false, p.parseGST(fields)
	}

	return Sample{}, false, nil
}

func (p *NMEAParser) parseRMC(fields []string) (Sample, bool, error) {
	if len(fields) < 10 {
		return Sample{}, false, fmt.Errorf("invalid RMC sentence: not enough fields")
	}
	if fields[2] != "A" {
		return Sample{}, false, ErrNoFix
	}

	lat, err := parseCoordinate(fields[3], fields[4])
	if err != nil {
		return Sample{}, false, fmt.Errorf("invalid latitude: %w", err)
	}

	lon, err := parseCoordinate(fields[5], fields[6])
	if err != nil {
		return Sample{}, false, fmt.Errorf("invalid longitude: %w", err)
	}

	timestamp, err := parseDateTime(fields[9], fields[1])
	if err != nil {
		return Sample{}, false, fmt.Errorf("invalid timestamp: %w", err)
	}

	sample := Sample{
		Timestamp: timestamp,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  p.altitude,
		Accuracy:  p.accuracy,
	}

	if v, err := strconv.ParseFloat(fields[7], 64); err == nil {
		speed := v * knotsToMetersPerSecond
		sample.Speed = &speed
	}
	if v, err := strconv.ParseFloat(fields[8], 64); err == nil {
		bearing := math.Mod(v, 360)
		sample.Bearing = &bearing
	}

	return sample, true, nil
}

func (p *NMEAParser) parseGGA(fields []string) error {
	if len(fields) < 10 {
		return fmt.Errorf("invalid GGA sentence: not enough fields")
	}
	if fields[6] == "" || fields[6] == "0" {
		p.altitude = nil
		return nil
	}

	v, err := strconv.ParseFloat(fields[9], 64)
	if err != nil {
		p.altitude = nil
		return nil // altitude is optional
	}

	p.altitude = &v
	return nil
}

func (p *NMEAParser) parseGST(fields []string) error {
	if len(fields) < 8 {
		return fmt.Errorf("invalid GST sentence: not enough fields")
	}

	latErr, err1 := strconv.ParseFloat(fields[6], 64)
	lonErr, err2 := strconv.ParseFloat(fields[7], 64)
	if err1 != nil || err2 != nil {
		p.accuracy = nil
		return nil
	}

	accuracy := math.Hypot(latErr, lonErr)
	p.accuracy = &accuracy
	return nil
}

// nmeaBody strips the leading '$' and trailing checksum, verifying the latter
// when present.
func nmeaBody(line string) (string, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") && !strings.HasPrefix(line, "!") {
		return "", fmt.Errorf("not an NMEA sentence: %q", line)
	}
	line = line[1:]

	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return line, nil
	}

	body, sum := line[:star], line[star+1:]
	want, err := strconv.ParseUint(sum, 16, 8)
	if err != nil {
		return "", fmt.Errorf("invalid checksum %q: %w", sum, err)
	}

	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if got != byte(want) {
		return "", ErrChecksum
	}

	return body, nil
}

// parseCoordinate converts "ddmm.mmmm" with a hemisphere letter to signed degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}
	if dot < 3 {
		return 0, fmt.Errorf("malformed coordinate %q", value)
	}

	degrees, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, err
	}

	result := degrees + minutes/60
	switch hemisphere {
	case "N", "E":
	case "S", "W":
		result = -result
	default:
		return 0, fmt.Errorf("invalid hemisphere %q", hemisphere)
	}

	return result, nil
}

func parseDateTime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, fmt.Errorf("malformed date/time %q %q", date, clock)
	}

	t, err := time.Parse("020106150405", date+clock[:6])
	if err != nil {
		return time.Time{}, err
	}

	if len(clock) > 7 && clock[6] == '.' {
		frac, err := strconv.ParseFloat("0"+clock[6:], 64)
		if err == nil {
			t = t.Add(time.Duration(frac * float64(time.Second)))
		}
	}

	return t.UTC(), nil
}
