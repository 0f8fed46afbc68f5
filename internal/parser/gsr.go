package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ingest-svr/internal/point"
)

// GSr cellular trackers send one comma-separated ASCII frame per fix:
//
//	GSr,<imei>,<sats>,<ddmmyy>,<hhmmss>,<lon>,<lat>,<alt>,<speed>,<hdop>,<battery>*<checksum>!
//
// The checksum is the XOR of every byte preceding '*', written as two hex
// digits. Coordinate format and speed unit differ per firmware subtype; the
// registry picks the right configuration.

const knotsToKmh = 1.609

// GSRConfig selects the firmware subtype behavior.
type GSRConfig struct {
	// Sexagesimal: coordinates as D{2,3}MM.MMMM with hemisphere suffix;
	// otherwise hemisphere-prefixed decimal degrees.
	Sexagesimal bool
	// SpeedKnots: ground speed reported in knots, converted to km/h.
	SpeedKnots bool
	// QualityGate: drop fixes with fewer than 3 satellites or HDOP >= 10.
	QualityGate bool
}

// GSR parses the GSr ASCII protocol. Stateless; one instance is shared by
// every connection of the same subtype.
type GSR struct {
	cfg GSRConfig
}

func NewGSR(cfg GSRConfig) *GSR {
	return &GSR{cfg: cfg}
}

// Validate checks the frame shell: prefix, trailing '!', '*' separator and
// the XOR checksum. Hex digits are accepted in either case.
func (g *GSR) Validate(f Frame) (Frame, error) {
	p := f.Payload
	if !bytes.HasPrefix(p, []byte("GSr,")) {
		return f, fmt.Errorf("%w: missing GSr prefix", ErrInvalidFrame)
	}
	if len(p) == 0 || p[len(p)-1] != '!' {
		return f, fmt.Errorf("%w: missing '!' terminator", ErrInvalidFrame)
	}
	star := bytes.LastIndexByte(p, '*')
	if star < 0 || len(p)-star != 4 {
		return f, fmt.Errorf("%w: missing '*' checksum separator", ErrInvalidFrame)
	}
	want, err := strconv.ParseUint(string(p[star+1:star+3]), 16, 8)
	if err != nil {
		return f, fmt.Errorf("%w: bad checksum digits: %v", ErrInvalidFrame, err)
	}
	if got := xorChecksum(p[:star]); got != byte(want) {
		return f, fmt.Errorf("%w: checksum mismatch: got %02X want %02X", ErrInvalidFrame, got, byte(want))
	}
	return f, nil
}

func xorChecksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

// Parse decodes one validated frame into at most one point.
func (g *GSR) Parse(f Frame) ([]point.Point, error) {
	p := f.Payload
	star := bytes.LastIndexByte(p, '*')
	if star < 0 {
		return nil, fmt.Errorf("%w: missing '*' checksum separator", ErrInvalidFrame)
	}
	fields := strings.Split(string(p[:star]), ",")
	if len(fields) < 10 {
		return nil, fmt.Errorf("%w: %d fields, want at least 10", ErrInvalidFrame, len(fields))
	}

	imei := fields[1]
	sats, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: satellites %q: %v", ErrInvalidFrame, fields[2], err)
	}
	ts, err := parseGSRTime(fields[3], fields[4])
	if err != nil {
		return nil, err
	}
	lon, err := g.parseCoord(fields[5], false)
	if err != nil {
		return nil, err
	}
	lat, err := g.parseCoord(fields[6], true)
	if err != nil {
		return nil, err
	}
	alt, err := strconv.ParseFloat(fields[7], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: altitude %q: %v", ErrInvalidFrame, fields[7], err)
	}
	speed, err := strconv.ParseFloat(fields[8], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: speed %q: %v", ErrInvalidFrame, fields[8], err)
	}
	hdop, err := strconv.ParseFloat(fields[9], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: hdop %q: %v", ErrInvalidFrame, fields[9], err)
	}

	if g.cfg.QualityGate && (sats < 3 || hdop >= 10) {
		return nil, fmt.Errorf("%w: sats=%d hdop=%.1f", ErrLowQuality, sats, hdop)
	}
	if g.cfg.SpeedKnots {
		speed *= knotsToKmh
	}

	pt := point.Point{
		DeviceID: imei,
		TS:       ts.Unix(),
		Lat:      point.Round6(lat),
		Lon:      point.Round6(lon),
		Alt:      int(alt),
		HSpeed:   speed,
	}
	if len(fields) > 10 && fields[10] != "" {
		if b, err := strconv.Atoi(fields[10]); err == nil {
			pt.WithBattery(b)
		}
	}
	return []point.Point{pt}, nil
}

// Ack: GSr devices expect no reply.
func (g *GSR) Ack(Frame) []byte { return nil }

func parseGSRTime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) != 6 {
		return time.Time{}, fmt.Errorf("%w: timestamp %q %q", ErrInvalidFrame, date, clock)
	}
	t, err := time.Parse("020106 150405", date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q %q: %v", ErrInvalidFrame, date, clock, err)
	}
	return t.UTC(), nil
}

// parseCoord handles both firmware coordinate encodings. isLat bounds the
// degree digits (2 for latitude, up to 3 for longitude) and the hemisphere
// alphabet.
func (g *GSR) parseCoord(s string, isLat bool) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty coordinate", ErrInvalidFrame)
	}
	if g.cfg.Sexagesimal {
		return parseSexagesimal(s, isLat)
	}
	hemi := s[0]
	sign, err := hemisphereSign(hemi, isLat)
	if err != nil {
		return 0, err
	}
	deg, err := strconv.ParseFloat(s[1:], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q: %v", ErrInvalidFrame, s, err)
	}
	return sign * deg, nil
}

func parseSexagesimal(s string, isLat bool) (float64, error) {
	hemi := s[len(s)-1]
	sign, err := hemisphereSign(hemi, isLat)
	if err != nil {
		return 0, err
	}
	body := s[:len(s)-1]
	dot := strings.IndexByte(body, '.')
	if dot < 3 {
		return 0, fmt.Errorf("%w: coordinate %q", ErrInvalidFrame, s)
	}
	deg, err := strconv.ParseFloat(body[:dot-2], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q: %v", ErrInvalidFrame, s, err)
	}
	min, err := strconv.ParseFloat(body[dot-2:], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q: %v", ErrInvalidFrame, s, err)
	}
	return sign * (deg + min/60), nil
}

func hemisphereSign(h byte, isLat bool) (float64, error) {
	switch {
	case isLat && h == 'N':
		return 1, nil
	case isLat && h == 'S':
		return -1, nil
	case !isLat && h == 'E':
		return 1, nil
	case !isLat && h == 'W':
		return -1, nil
	}
	return 0, fmt.Errorf("%w: hemisphere %q", ErrInvalidFrame, string(h))
}
