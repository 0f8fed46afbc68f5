package parser

import (
	"encoding/binary"
	"fmt"

	"ingest-svr/internal/point"
)

// Satellite short-burst data. A thin TLV envelope wraps an opaque device
// payload; the payload carries mobile-protocol frames and the session is
// pre-identified by the IMEI from the envelope header.
//
// Envelope: protocol revision (0x01), 2-byte total length covering
// everything after the first three bytes, then (IEI, 2-byte length, value)
// elements. IEI 0x01 is the fixed header (cdr uint32, imei [15]byte,
// mo_status uint8, momsn uint16, mtmsn uint16, time uint32, big-endian);
// IEI 0x02 is the device payload.

const (
	sbdRevision   = 0x01
	sbdIEIHeader  = 0x01
	sbdIEIPayload = 0x02
	sbdIEIConfirm = 0x05

	sbdHeaderLen = 28
)

type sbdEnvelope struct {
	cdr     uint32
	imei    string
	time    uint32
	payload []byte
}

// SBD parses the satellite envelope. Each wire message is self-contained;
// no state survives between frames.
type SBD struct{}

func NewSBD() *SBD { return &SBD{} }

// Validate checks the revision byte and the declared total length.
func (s *SBD) Validate(f Frame) (Frame, error) {
	p := f.Payload
	if len(p) < 3 {
		return f, fmt.Errorf("%w: %d bytes, want at least 3", ErrInvalidFrame, len(p))
	}
	if p[0] != sbdRevision {
		return f, fmt.Errorf("%w: protocol revision %#02x", ErrInvalidFrame, p[0])
	}
	declared := int(binary.BigEndian.Uint16(p[1:3]))
	if declared != len(p)-3 {
		return f, fmt.Errorf("%w: declared length %d, actual %d", ErrInvalidFrame, declared, len(p)-3)
	}
	return f, nil
}

// Parse walks the TLVs, then decodes the inner payload as mobile-protocol
// frames with the session seeded from the envelope IMEI.
func (s *SBD) Parse(f Frame) ([]point.Point, error) {
	env, err := decodeEnvelope(f.Payload)
	if err != nil {
		return nil, err
	}
	if env.imei == "" {
		return nil, fmt.Errorf("%w: envelope has no header element", ErrMalformed)
	}
	if len(env.payload) == 0 {
		return nil, nil
	}

	inner := NewMobile()
	inner.deviceID = env.imei
	pts, err := inner.Parse(Frame{Payload: env.payload, Transport: f.Transport, Received: f.Received})
	if err != nil {
		return nil, err
	}
	if inner.acc.Pending() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in payload", ErrMalformed, inner.acc.Pending())
	}
	return pts, nil
}

// Ack is the delivery confirmation keyed to the envelope's call detail
// record reference.
func (s *SBD) Ack(f Frame) []byte {
	env, err := decodeEnvelope(f.Payload)
	if err != nil {
		return nil
	}
	body := make([]byte, 0, 7)
	body = append(body, sbdIEIConfirm, 0x00, 0x04)
	body = binary.BigEndian.AppendUint32(body, env.cdr)
	out := make([]byte, 0, 3+len(body))
	out = append(out, sbdRevision, byte(len(body)>>8), byte(len(body)))
	return append(out, body...)
}

func decodeEnvelope(p []byte) (sbdEnvelope, error) {
	var env sbdEnvelope
	r := newByteReader(p)
	if err := r.skip(3); err != nil {
		return env, err
	}
	for r.remaining() > 0 {
		iei, err := r.u8()
		if err != nil {
			return env, err
		}
		n, err := r.u16()
		if err != nil {
			return env, err
		}
		val, err := r.take(int(n))
		if err != nil {
			return env, err
		}
		switch iei {
		case sbdIEIHeader:
			if len(val) != sbdHeaderLen {
				return env, fmt.Errorf("%w: header element is %d bytes, want %d", ErrMalformed, len(val), sbdHeaderLen)
			}
			env.cdr = binary.BigEndian.Uint32(val[0:4])
			env.imei = string(val[4:19])
			// val[19] mo_status, val[20:22] momsn, val[22:24] mtmsn
			env.time = binary.BigEndian.Uint32(val[24:28])
		case sbdIEIPayload:
			env.payload = val
		default:
			// Unrecognized elements are skipped; the length walks past them.
		}
	}
	return env, nil
}
