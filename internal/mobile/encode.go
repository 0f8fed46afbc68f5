package mobile

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"ingest-svr/internal/point"
)

// Encoding counterpart of chunk.go. The server never sends chunks; this
// exists for the device simulator used by the tests.

// ChunkEncoder builds one PathChunk payload.
type ChunkEncoder struct {
	Index       uint32
	AngleDiv    uint8
	TimeStep    uint16
	buf         []byte
	baseLat     float64
	baseLon     float64
	baseWritten bool
}

// Delta describes one delta point for the encoder. Nil fields are omitted
// from the presence mask.
type Delta struct {
	TS     *int64 // replaces the running time step
	Lat    *int64 // added to base lat after division by 2^k
	Lon    *int64
	Alt    *int64 // relative to the chunk's base altitude
	HSpeed *int64 // absolute, km/h
	VSpeed *int64 // absolute, km/h
	AbsAlt *int16 // replaces the base altitude for this and later points
}

// Base writes the chunk header and base point. Must be called exactly once,
// before AddDelta.
func (e *ChunkEncoder) Base(p point.Point) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, e.Index)
	e.buf = append(e.buf, e.AngleDiv)
	e.buf = binary.BigEndian.AppendUint16(e.buf, e.TimeStep)

	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(p.TS))
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(int32(math.Round(p.Lat*1e6))))
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(int32(math.Round(p.Lon*1e6))))

	var mask byte
	var tail []byte
	if p.Alt != 0 {
		mask |= baseHasAlt
		tail = binary.BigEndian.AppendUint16(tail, uint16(int16(p.Alt)))
	}
	if p.HSpeed != 0 {
		mask |= baseHasHSpeed
		tail = binary.BigEndian.AppendUint16(tail, uint16(p.HSpeed))
	}
	if p.VSpeed != nil {
		mask |= baseHasVSpeed
		tail = binary.BigEndian.AppendUint16(tail, uint16(int16(math.Round(*p.VSpeed*3.6))))
	}
	e.buf = append(e.buf, mask)
	e.buf = append(e.buf, tail...)
	e.baseLat = p.Lat
	e.baseLon = p.Lon
	e.baseWritten = true
}

// AddDelta appends one delta point.
func (e *ChunkEncoder) AddDelta(d Delta) {
	var mask byte
	if d.AbsAlt != nil {
		mask |= deltaAbsAlt
	}
	fields := []struct {
		bit byte
		val *int64
	}{
		{deltaTS, d.TS}, {deltaLat, d.Lat}, {deltaLon, d.Lon},
		{deltaAlt, d.Alt}, {deltaHSpeed, d.HSpeed}, {deltaVSpeed, d.VSpeed},
	}
	for _, f := range fields {
		if f.val != nil {
			mask |= f.bit
		}
	}
	e.buf = append(e.buf, mask)
	if d.AbsAlt != nil {
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(*d.AbsAlt))
	}
	var tmp [binary.MaxVarintLen64]byte
	for _, f := range fields {
		if f.val != nil {
			n := binary.PutVarint(tmp[:], *f.val)
			e.buf = append(e.buf, tmp[:n]...)
		}
	}
}

// Payload returns the encoded chunk payload.
func (e *ChunkEncoder) Payload() []byte { return e.buf }

// Frame returns the payload wrapped in a PathChunk frame.
func (e *ChunkEncoder) Frame() []byte {
	return AppendFrame(nil, TypePathChunk, e.buf)
}

// EncodeMobileID builds a complete MobileId frame for a device UUID.
func EncodeMobileID(id uuid.UUID) []byte {
	return AppendFrame(nil, TypeMobileID, id[:])
}
