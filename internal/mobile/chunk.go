package mobile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ingest-svr/internal/point"
)

// PathChunk payload layout, all integers big-endian:
//
//	chunk_index   uint32
//	angle_divisor uint8   (k > 0; lat/lon deltas are divided by 2^k)
//	time_step     uint16  (default seconds between points)
//	base point:   ts uint32, lat int32 microdeg, lon int32 microdeg,
//	              presence mask uint8 {bit0 alt int16, bit1 h_speed uint16,
//	              bit2 v_speed int16 (km/h)}
//	delta points back to back until the payload ends.
//
// A delta point is one mask byte followed by zigzag varints for each set
// bit 0-5, in the order TS, LAT, LON, ALT, H_SPEED, V_SPEED. Mask bit 6
// means an absolute altitude (int16) precedes the varints and replaces the
// chunk's base altitude before the ALT delta is applied.

const (
	deltaTS = 1 << iota
	deltaLat
	deltaLon
	deltaAlt
	deltaHSpeed
	deltaVSpeed
	deltaAbsAlt

	baseHasAlt    = 1 << 0
	baseHasHSpeed = 1 << 1
	baseHasVSpeed = 1 << 2
)

var errTruncated = errors.New("truncated chunk")

// Chunk is one decoded PathChunk: the base point followed by the
// reconstructed deltas, in wire order. DeviceID is filled in by the caller
// from session state.
type Chunk struct {
	Index  uint32
	Points []point.Point
}

// DecodeMobileID reads the 16 raw UUID bytes of a MobileId payload.
func DecodeMobileID(payload []byte) (string, error) {
	id, err := uuid.FromBytes(payload)
	if err != nil {
		return "", fmt.Errorf("mobile id: %w", err)
	}
	return id.String(), nil
}

// EncodeConf builds the complete PathChunkConf frame for a chunk index.
func EncodeConf(index uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return AppendFrame(nil, TypePathChunkConf, payload)
}

// DecodeChunk decodes one PathChunk payload.
func DecodeChunk(payload []byte) (Chunk, error) {
	d := &chunkReader{buf: payload}

	index, err := d.u32()
	if err != nil {
		return Chunk{}, err
	}
	k, err := d.u8()
	if err != nil {
		return Chunk{}, err
	}
	if k == 0 {
		return Chunk{}, errors.New("angle divisor must be positive")
	}
	timeStep, err := d.u16()
	if err != nil {
		return Chunk{}, err
	}
	if timeStep == 0 {
		return Chunk{}, errors.New("time step must be positive")
	}

	base, err := d.basePoint()
	if err != nil {
		return Chunk{}, err
	}

	chunk := Chunk{Index: index, Points: []point.Point{base.pt}}
	scale := float64(int64(1) << k)

	cur := base.pt
	step := int64(timeStep)
	baseAlt := base.pt.Alt

	for d.remaining() > 0 {
		mask, err := d.u8()
		if err != nil {
			return Chunk{}, err
		}
		if mask&deltaAbsAlt != 0 {
			abs, err := d.i16()
			if err != nil {
				return Chunk{}, err
			}
			baseAlt = int(abs)
		}
		var vals [6]int64
		for bit := 0; bit < 6; bit++ {
			if mask&(1<<bit) == 0 {
				continue
			}
			v, err := d.varint()
			if err != nil {
				return Chunk{}, err
			}
			vals[bit] = v
		}

		if mask&deltaTS != 0 {
			step = vals[0]
		}
		cur.TS += step
		if mask&deltaLat != 0 {
			cur.Lat = point.Round6(base.lat + float64(vals[1])/scale)
		}
		if mask&deltaLon != 0 {
			cur.Lon = point.Round6(base.lon + float64(vals[2])/scale)
		}
		if mask&(deltaAlt|deltaAbsAlt) != 0 {
			cur.Alt = baseAlt + int(vals[3])
		}
		if mask&deltaHSpeed != 0 {
			cur.HSpeed = float64(vals[4])
		}
		if mask&deltaVSpeed != 0 {
			cur.WithVSpeed(float64(vals[5]) / 3.6)
		}
		chunk.Points = append(chunk.Points, cur)
	}
	return chunk, nil
}

type basePoint struct {
	pt       point.Point
	lat, lon float64 // unrounded, the delta reference
}

type chunkReader struct {
	buf []byte
	off int
}

func (d *chunkReader) remaining() int { return len(d.buf) - d.off }

func (d *chunkReader) take(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, errTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *chunkReader) u8() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *chunkReader) u16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *chunkReader) i16() (int16, error) {
	v, err := d.u16()
	return int16(v), err
}

func (d *chunkReader) u32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *chunkReader) varint() (int64, error) {
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		return 0, errTruncated
	}
	d.off += n
	return v, nil
}

func (d *chunkReader) basePoint() (basePoint, error) {
	ts, err := d.u32()
	if err != nil {
		return basePoint{}, err
	}
	latMicro, err := d.u32()
	if err != nil {
		return basePoint{}, err
	}
	lonMicro, err := d.u32()
	if err != nil {
		return basePoint{}, err
	}
	mask, err := d.u8()
	if err != nil {
		return basePoint{}, err
	}

	b := basePoint{
		lat: float64(int32(latMicro)) / 1e6,
		lon: float64(int32(lonMicro)) / 1e6,
	}
	b.pt = point.Point{
		TS:  int64(ts),
		Lat: point.Round6(b.lat),
		Lon: point.Round6(b.lon),
	}
	if mask&baseHasAlt != 0 {
		alt, err := d.i16()
		if err != nil {
			return basePoint{}, err
		}
		b.pt.Alt = int(alt)
	}
	if mask&baseHasHSpeed != 0 {
		hs, err := d.u16()
		if err != nil {
			return basePoint{}, err
		}
		b.pt.HSpeed = float64(hs)
	}
	if mask&baseHasVSpeed != 0 {
		vs, err := d.i16()
		if err != nil {
			return basePoint{}, err
		}
		b.pt.WithVSpeed(float64(vs) / 3.6)
	}
	return b, nil
}
