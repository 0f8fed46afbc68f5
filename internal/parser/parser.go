// Package parser holds the per-device-family wire decoders and the registry
// that maps a device-type tag to a decoder constructor.
package parser

import (
	"errors"
	"time"

	"ingest-svr/internal/point"
)

// Error kinds. Callers classify with errors.Is; the receiver maps each kind
// to its audit/connection handling.
var (
	// ErrInvalidFrame: wire-level integrity failed (checksum, magic, length).
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrMalformed: frame passed validation but violates the protocol grammar.
	ErrMalformed = errors.New("malformed frame")
	// ErrOrphanSession: frame references session state that does not exist yet.
	ErrOrphanSession = errors.New("orphan session")
	// ErrLowQuality: quality gate tripped (satellites / HDOP); not an error
	// for the peer, the frame is dropped silently.
	ErrLowQuality = errors.New("low quality fix")
	// ErrSessionFatal: framing-level violation; the connection must close and
	// the session is discarded.
	ErrSessionFatal = errors.New("session fatal")
)

// Frame is one raw wire message plus its arrival metadata. Created on
// receipt, audited once, then handed to exactly one parser invocation.
type Frame struct {
	Received   time.Time
	Transport  string // "TCP" or "UDP"
	Payload    []byte
	RemoteAddr string
}

// Parser decodes one device family. Implementations must be re-entrant
// across independent sessions and must never mutate global state; the only
// allowed state is a per-connection session held by reference.
type Parser interface {
	// Validate verifies wire-level integrity of one message and returns the
	// frame unchanged on success. Must be pure.
	Validate(f Frame) (Frame, error)
	// Parse decodes a validated frame into zero or more points.
	Parse(f Frame) ([]point.Point, error)
	// Ack returns the exact reply the device expects for this frame, or nil
	// when the family requires none.
	Ack(f Frame) []byte
}

// Framing tells the TCP endpoint how to slice the byte stream before the
// receiver sees a message. UDP datagrams are always self-contained.
type Framing int

const (
	// FramingDelimited: ASCII frames with a terminator byte ('!' for GSr).
	FramingDelimited Framing = iota
	// FramingLengthPrefixed: binary frames carrying a declared length that
	// the endpoint uses to cut complete messages out of the stream.
	FramingLengthPrefixed
	// FramingStream: the parser reassembles frames itself from arbitrary
	// read chunks (mobile delta protocol).
	FramingStream
)
