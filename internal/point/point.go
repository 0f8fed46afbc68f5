package point

import (
	"math"
	"time"
)

// Point is the normalized location sample every parser produces and the
// publisher consumes. Coordinates are decimal degrees rounded to 6 digits.
type Point struct {
	DeviceID string   `json:"device_id"`
	TS       int64    `json:"ts"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Alt      int      `json:"alt"`
	HSpeed   float64  `json:"h_speed"`
	VSpeed   *float64 `json:"v_speed,omitempty"`
	Battery  *int     `json:"battery,omitempty"`
}

// Round6 snaps a coordinate to 6 fractional digits.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Round1 snaps a value to 1 fractional digit (vertical speed in m/s).
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Valid reports whether the point satisfies the canonical-record invariants.
// Points failing Valid are discarded before publication.
func (p Point) Valid() bool {
	if p.DeviceID == "" || p.TS <= 0 {
		return false
	}
	if p.Lat < -90 || p.Lat > 90 {
		return false
	}
	if p.Lon < -180 || p.Lon > 180 {
		return false
	}
	if p.HSpeed < 0 {
		return false
	}
	return true
}

// Time returns the sample timestamp as UTC time.
func (p Point) Time() time.Time {
	return time.Unix(p.TS, 0).UTC()
}

// WithVSpeed sets the optional vertical speed, rounded to one decimal.
func (p *Point) WithVSpeed(ms float64) {
	v := Round1(ms)
	p.VSpeed = &v
}

// WithBattery sets the optional battery reading.
func (p *Point) WithBattery(b int) {
	p.Battery = &b
}
