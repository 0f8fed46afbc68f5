// Package mobile implements the wire protocol spoken by mobile-application
// clients: length-prefixed frames over TCP carrying a device UUID and
// delta-encoded path chunks. The same chunk payloads also arrive wrapped in
// satellite short-burst envelopes.
package mobile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame header: magic byte, frame-id byte, big-endian payload length.
const (
	Magic      = 0xAA
	HeaderSize = 4

	TypeMobileID      = 0x01
	TypePathChunk     = 0x02
	TypePathChunkConf = 0x03
	TypeRPC           = 0x04
	TypeDebug         = 0x05
)

// ErrBadMagic marks a framing-level violation. The session cannot recover:
// the byte stream offset is lost, so the connection must close.
var ErrBadMagic = errors.New("bad magic byte")

// Frame is one complete mobile-protocol message.
type Frame struct {
	Type    byte
	Payload []byte
}

// Accumulator reassembles frames from arbitrary TCP read chunks. Frames may
// span segments and a segment may carry several frames; the accumulator
// never loses or duplicates bytes.
type Accumulator struct {
	buf []byte
}

// Append adds one read chunk to the unconsumed buffer.
func (a *Accumulator) Append(b []byte) {
	a.buf = append(a.buf, b...)
}

// Next extracts the next complete frame. ok is false when header plus
// payload is not fully buffered yet. A wrong magic byte returns ErrBadMagic
// and leaves the accumulator unusable.
func (a *Accumulator) Next() (Frame, bool, error) {
	if len(a.buf) < HeaderSize {
		return Frame{}, false, nil
	}
	if a.buf[0] != Magic {
		return Frame{}, false, fmt.Errorf("%w: %#02x", ErrBadMagic, a.buf[0])
	}
	n := int(binary.BigEndian.Uint16(a.buf[2:4]))
	if len(a.buf) < HeaderSize+n {
		return Frame{}, false, nil
	}
	// The copy keeps the frame alive past the next Append; a zero-length
	// payload stays non-nil so callers see the same shape either way.
	f := Frame{Type: a.buf[1], Payload: append([]byte{}, a.buf[HeaderSize:HeaderSize+n]...)}
	a.buf = a.buf[HeaderSize+n:]
	return f, true, nil
}

// Pending returns the number of buffered, not yet consumed bytes.
func (a *Accumulator) Pending() int { return len(a.buf) }

// AppendFrame encodes one frame onto dst. Used for acks and by device
// simulators.
func AppendFrame(dst []byte, typ byte, payload []byte) []byte {
	dst = append(dst, Magic, typ, byte(len(payload)>>8), byte(len(payload)))
	return append(dst, payload...)
}
