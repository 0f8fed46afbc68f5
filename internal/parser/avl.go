package parser

import (
	"encoding/binary"
	"fmt"
	"math"

	"ingest-svr/internal/point"
)

// Compact binary cellular protocol. One packet carries a batch of AVL
// records behind a 15-digit IMEI. All integers big-endian.
//
// Packet layout:
//
//	[0:2]  declared length (bytes following this field)
//	[2:4]  packet id
//	[4]    codec id (0x0B)
//	[5]    AVL packet type (0x01)
//	[6:8]  IMEI length (15)
//	       IMEI, 15 ASCII digits
//	[+0]   codec byte
//	[+1]   record count
//	       records
//	[last] trailing record count, must equal the leading one
//
// Each record starts with a 4-byte timestamp whose top bit is reserved; the
// low 31 bits count seconds since 2007-01-01 00:00:00 UTC. A global mask
// byte then selects the sections present, walked LSB to MSB: bit 0 the GPS
// section, bits 1 and 2 the two I/O groups.

const (
	avlCodecID    = 0x0B
	avlPacketType = 0x01
	avlEpoch      = 1167609600 // 2007-01-01 00:00:00 UTC
	avlTSMask     = 0x7FFFFFFF

	avlMaskGPS = 1 << 0
	avlMaskIO1 = 1 << 1
	avlMaskIO2 = 1 << 2
)

// gpsFieldWidths: byte width per GPS-mask bit, LSB first. The cursor
// advances by the full width whether or not the value is consumed.
var gpsFieldWidths = [8]int{8, 2, 1, 1, 1, 4, 1, 4}

// avlIOWidths tabulates the value width per I/O id. An id absent from this
// table is fatal for its record only; the cursor still advances by the id's
// range width (ids 0x00-0x3F are 1 byte, 0x40-0x7F are 2, 0x80-0xBF are 4,
// 0xC0-0xFF are 8) so the outer loop can continue with the next record.
var avlIOWidths = map[byte]int{
	0x01: 1, // digital input state
	0x02: 1, // analog input level
	0x05: 1, // battery percent
	0x15: 1, // GSM signal
	0x42: 2, // external voltage, mV
	0x43: 2, // battery voltage, mV
	0x9D: 4, // odometer, m
}

const avlBatteryIO = 0x05

func avlIORangeWidth(id byte) int {
	switch {
	case id < 0x40:
		return 1
	case id < 0x80:
		return 2
	case id < 0xC0:
		return 4
	default:
		return 8
	}
}

// AVL parses the compact binary cellular protocol. Stateless.
type AVL struct{}

func NewAVL() *AVL { return &AVL{} }

// Validate checks the declared length against the actual byte count and the
// codec and packet-type identifiers.
func (a *AVL) Validate(f Frame) (Frame, error) {
	p := f.Payload
	if len(p) < 6 {
		return f, fmt.Errorf("%w: %d bytes, want at least 6", ErrInvalidFrame, len(p))
	}
	declared := int(binary.BigEndian.Uint16(p[0:2]))
	if declared != len(p)-2 {
		return f, fmt.Errorf("%w: declared length %d, actual %d", ErrInvalidFrame, declared, len(p)-2)
	}
	if p[4] != avlCodecID {
		return f, fmt.Errorf("%w: codec id %#02x, want %#02x", ErrInvalidFrame, p[4], avlCodecID)
	}
	if p[5] != avlPacketType {
		return f, fmt.Errorf("%w: packet type %#02x, want %#02x", ErrInvalidFrame, p[5], avlPacketType)
	}
	return f, nil
}

// Parse decodes the record batch. A record with an unknown I/O id is
// dropped; the remaining records in the packet are still decoded.
func (a *AVL) Parse(f Frame) ([]point.Point, error) {
	r := newByteReader(f.Payload)
	if err := r.skip(6); err != nil { // length, packet id, codec, type
		return nil, err
	}
	imeiLen, err := r.u16()
	if err != nil {
		return nil, err
	}
	if imeiLen != 15 {
		return nil, fmt.Errorf("%w: IMEI length %d, want 15", ErrMalformed, imeiLen)
	}
	imeiRaw, err := r.take(15)
	if err != nil {
		return nil, err
	}
	imei := string(imeiRaw)
	for _, c := range imei {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: IMEI %q is not numeric", ErrMalformed, imei)
		}
	}
	if err := r.skip(1); err != nil { // inner codec byte
		return nil, err
	}
	count, err := r.u8()
	if err != nil {
		return nil, err
	}

	points := make([]point.Point, 0, count)
	for i := 0; i < int(count); i++ {
		pt, ok, err := a.parseRecord(r, imei)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if ok {
			points = append(points, pt)
		}
	}

	trailing, err := r.u8()
	if err != nil {
		return nil, err
	}
	if trailing != count {
		return nil, fmt.Errorf("%w: trailing count %d, leading %d", ErrMalformed, trailing, count)
	}
	return points, nil
}

// parseRecord walks one record. ok is false when the record carried no fix
// or hit an unknown I/O id; the cursor is left at the next record either way.
func (a *AVL) parseRecord(r *byteReader, imei string) (point.Point, bool, error) {
	raw, err := r.u32()
	if err != nil {
		return point.Point{}, false, err
	}
	ts := int64(raw&avlTSMask) + avlEpoch

	mask, err := r.u8()
	if err != nil {
		return point.Point{}, false, err
	}

	pt := point.Point{DeviceID: imei, TS: ts}
	haveFix := false
	recordOK := true

	if mask&avlMaskGPS != 0 {
		haveFix, err = a.parseGPS(r, &pt)
		if err != nil {
			return point.Point{}, false, err
		}
	}
	for _, bit := range []byte{avlMaskIO1, avlMaskIO2} {
		if mask&bit == 0 {
			continue
		}
		ok, err := a.parseIO(r, &pt)
		if err != nil {
			return point.Point{}, false, err
		}
		if !ok {
			recordOK = false
		}
	}
	return pt, haveFix && recordOK, nil
}

func (a *AVL) parseGPS(r *byteReader, pt *point.Point) (bool, error) {
	mask, err := r.u8()
	if err != nil {
		return false, err
	}
	haveFix := false
	for bit := 0; bit < 8; bit++ {
		if mask&(1<<bit) == 0 {
			continue
		}
		b, err := r.take(gpsFieldWidths[bit])
		if err != nil {
			return false, err
		}
		switch bit {
		case 0:
			lat := math.Float32frombits(binary.BigEndian.Uint32(b[0:4]))
			lon := math.Float32frombits(binary.BigEndian.Uint32(b[4:8]))
			pt.Lat = point.Round6(float64(lat))
			pt.Lon = point.Round6(float64(lon))
			haveFix = true
		case 1:
			pt.Alt = int(int16(binary.BigEndian.Uint16(b)))
		case 3:
			pt.HSpeed = float64(b[0])
		}
		// bit 2 (course) and the reserved bits are skipped by width alone.
	}
	return haveFix, nil
}

// parseIO walks one I/O section. ok is false when an unknown id was seen;
// the section is still fully consumed.
func (a *AVL) parseIO(r *byteReader, pt *point.Point) (bool, error) {
	count, err := r.u8()
	if err != nil {
		return false, err
	}
	ok := true
	for i := 0; i < int(count); i++ {
		id, err := r.u8()
		if err != nil {
			return false, err
		}
		width, known := avlIOWidths[id]
		if !known {
			width = avlIORangeWidth(id)
			ok = false
		}
		val, err := r.take(width)
		if err != nil {
			return false, err
		}
		if known && id == avlBatteryIO {
			pt.WithBattery(int(val[0]))
		}
	}
	return ok, nil
}

// Ack is the fixed five-byte confirmation followed by the low byte of the
// received packet id and the record count. Pure in (packet id, count).
func (a *AVL) Ack(f Frame) []byte {
	p := f.Payload
	if len(p) < 6 {
		return nil
	}
	r := newByteReader(p)
	_ = r.skip(6)
	imeiLen, err := r.u16()
	if err != nil || imeiLen != 15 {
		return nil
	}
	if err := r.skip(16); err != nil { // IMEI + codec byte
		return nil
	}
	count, err := r.u8()
	if err != nil {
		return nil
	}
	return []byte{0x00, 0x05, 0x00, 0x02, 0x01, p[3], count}
}
