package parser

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Entry describes one registered device family: how the endpoint frames the
// stream, which transports the family supports, and a constructor invoked
// once per connection (per endpoint for UDP). Stateless families may return
// a shared instance; session-holding families must return a fresh one.
type Entry struct {
	Framing    Framing
	Transports map[string]bool // "tcp", "udp"
	New        func() Parser

	// Length-prefixed families only: the endpoint reads HeaderLen bytes and
	// asks FrameLen for the total frame size including the header.
	HeaderLen int
	FrameLen  func(header []byte) int
}

// Registry maps device-type tags to parser entries. Immutable after startup.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry returns a registry pre-loaded with every supported device
// family.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Entry)}

	gsr := NewGSR(GSRConfig{Sexagesimal: false, SpeedKnots: false, QualityGate: true})
	r.register("gsr", Entry{
		Framing:    FramingDelimited,
		Transports: map[string]bool{"tcp": true, "udp": true},
		New:        func() Parser { return gsr },
	})

	// Replay/debug subtype: sexagesimal coordinates, knot speeds, no gate.
	gsrRaw := NewGSR(GSRConfig{Sexagesimal: true, SpeedKnots: true, QualityGate: false})
	r.register("gsr-nofilter", Entry{
		Framing:    FramingDelimited,
		Transports: map[string]bool{"tcp": true, "udp": true},
		New:        func() Parser { return gsrRaw },
	})

	avl := NewAVL()
	r.register("avl", Entry{
		Framing:    FramingLengthPrefixed,
		Transports: map[string]bool{"tcp": true, "udp": true},
		New:        func() Parser { return avl },
		HeaderLen:  2,
		FrameLen: func(h []byte) int {
			return int(binary.BigEndian.Uint16(h[0:2])) + 2
		},
	})

	sbd := NewSBD()
	r.register("sbd", Entry{
		Framing:    FramingLengthPrefixed,
		Transports: map[string]bool{"tcp": true, "udp": true},
		New:        func() Parser { return sbd },
		HeaderLen:  3,
		FrameLen: func(h []byte) int {
			return int(binary.BigEndian.Uint16(h[1:3])) + 3
		},
	})

	r.register("mobile", Entry{
		Framing:    FramingStream,
		Transports: map[string]bool{"tcp": true},
		New:        func() Parser { return NewMobile() },
	})

	return r
}

func (r *Registry) register(name string, e Entry) {
	r.entries[name] = e
}

// Lookup returns the entry for a device type and transport. Unknown device
// types and unsupported transports are startup errors, not silent no-ops.
func (r *Registry) Lookup(deviceType, transport string) (Entry, error) {
	e, ok := r.entries[deviceType]
	if !ok {
		return Entry{}, fmt.Errorf("unknown device type %q (supported: %v)", deviceType, r.DeviceTypes())
	}
	if !e.Transports[transport] {
		return Entry{}, fmt.Errorf("device type %q has no parser for transport %q", deviceType, transport)
	}
	return e, nil
}

// DeviceTypes lists the registered family tags, sorted.
func (r *Registry) DeviceTypes() []string {
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
