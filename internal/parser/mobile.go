package parser

import (
	"errors"
	"fmt"

	"ingest-svr/internal/mobile"
	"ingest-svr/internal/point"
)

// Mobile adapts the mobile delta protocol to the parser contract. One
// instance per connection: it owns the session (device identity, last chunk
// index, reassembly buffer). Raw messages arriving here are arbitrary TCP
// read chunks, so framing is resolved inside Parse.
type Mobile struct {
	acc            mobile.Accumulator
	deviceID       string
	lastChunkIndex uint32
	pendingAcks    []uint32
}

func NewMobile() *Mobile { return &Mobile{} }

// Validate is the identity: frame boundaries are unknown until the
// reassembly buffer is consulted, and the buffer must not be touched by a
// pure operation. Framing violations surface from Parse as session-fatal.
func (m *Mobile) Validate(f Frame) (Frame, error) { return f, nil }

// Parse feeds one read chunk to the accumulator and decodes every complete
// frame it yields. A path frame before MobileId fails the session; a wrong
// magic byte is fatal for the connection.
func (m *Mobile) Parse(f Frame) ([]point.Point, error) {
	m.acc.Append(f.Payload)

	var points []point.Point
	for {
		fr, ok, err := m.acc.Next()
		if err != nil {
			if errors.Is(err, mobile.ErrBadMagic) {
				return points, fmt.Errorf("%w: %v", ErrSessionFatal, err)
			}
			return points, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !ok {
			return points, nil
		}
		pts, err := m.handleFrame(fr)
		if err != nil {
			return points, err
		}
		points = append(points, pts...)
	}
}

func (m *Mobile) handleFrame(fr mobile.Frame) ([]point.Point, error) {
	switch fr.Type {
	case mobile.TypeMobileID:
		id, err := mobile.DecodeMobileID(fr.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// Re-identification resets the session to the new device.
		m.deviceID = id
		return nil, nil

	case mobile.TypePathChunk:
		if m.deviceID == "" {
			return nil, fmt.Errorf("%w: path chunk before mobile id", ErrOrphanSession)
		}
		chunk, err := mobile.DecodeChunk(fr.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for i := range chunk.Points {
			chunk.Points[i].DeviceID = m.deviceID
		}
		m.lastChunkIndex = chunk.Index
		m.pendingAcks = append(m.pendingAcks, chunk.Index)
		return chunk.Points, nil

	case mobile.TypeRPC, mobile.TypeDebug, mobile.TypePathChunkConf:
		// Accepted, not decoded here.
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown frame type %#02x", ErrMalformed, fr.Type)
}

// Ack drains the PathChunkConf replies owed for the chunks decoded by the
// preceding Parse call. Each conf is a pure function of its chunk index.
func (m *Mobile) Ack(Frame) []byte {
	if len(m.pendingAcks) == 0 {
		return nil
	}
	var out []byte
	for _, idx := range m.pendingAcks {
		out = append(out, mobile.EncodeConf(idx)...)
	}
	m.pendingAcks = m.pendingAcks[:0]
	return out
}

// DeviceID returns the session identity, empty until MobileId arrives.
func (m *Mobile) DeviceID() string { return m.deviceID }
