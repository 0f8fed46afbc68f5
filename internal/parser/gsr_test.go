package parser

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gsrFrame wraps a field string in the GSr shell with a correct checksum.
func gsrFrame(body string) []byte {
	return []byte(fmt.Sprintf("%s*%02X!", body, xorChecksum([]byte(body))))
}

func gsrTestFrame(payload []byte) Frame {
	return Frame{Received: time.Now(), Transport: "TCP", Payload: payload}
}

func TestGSRScenarioA(t *testing.T) {
	g := NewGSR(GSRConfig{QualityGate: true})
	f := gsrTestFrame([]byte("GSr,011412001275167,3,250713,212244,E024.705360,N42.648187,440,0,0.8,46*7e!"))

	out, err := g.Validate(f)
	require.NoError(t, err)
	assert.Equal(t, f.Payload, out.Payload)

	points, err := g.Parse(f)
	require.NoError(t, err)
	require.Len(t, points, 1)

	pt := points[0]
	assert.Equal(t, "011412001275167", pt.DeviceID)
	assert.Equal(t, int64(1374787364), pt.TS)
	assert.Equal(t, 42.648187, pt.Lat)
	assert.Equal(t, 24.705360, pt.Lon)
	assert.Equal(t, 440, pt.Alt)
	assert.Equal(t, 0.0, pt.HSpeed)
	require.NotNil(t, pt.Battery)
	assert.Equal(t, 46, *pt.Battery)
	assert.Nil(t, g.Ack(f))
}

func TestGSRScenarioBBadChecksum(t *testing.T) {
	g := NewGSR(GSRConfig{QualityGate: true})
	f := gsrTestFrame([]byte("GSr,011412001275167,3,250713,212244,E024.705360,N42.648187,440,0,0.8,46*e7!"))

	_, err := g.Validate(f)
	require.ErrorIs(t, err, ErrInvalidFrame)
}

// Every frame with a correct checksum validates and comes back unchanged;
// flipping any checksum digit fails.
func TestGSRChecksumLaw(t *testing.T) {
	g := NewGSR(GSRConfig{})
	bodies := []string{
		"GSr,123456789012345,5,010120,000000,E000.000001,N00.000001,0,12,1.1,99",
		"GSr,999999999999999,8,311299,235959,W179.999999,S89.999999,8848,300,0.5,1",
	}
	for _, body := range bodies {
		good := gsrTestFrame(gsrFrame(body))
		out, err := g.Validate(good)
		require.NoError(t, err, body)
		assert.Equal(t, good.Payload, out.Payload)

		bad := append([]byte(nil), good.Payload...)
		bad[len(bad)-2] ^= 0x01
		_, err = g.Validate(gsrTestFrame(bad))
		assert.ErrorIs(t, err, ErrInvalidFrame, body)
	}
}

func TestGSRValidateShell(t *testing.T) {
	g := NewGSR(GSRConfig{})
	cases := map[string][]byte{
		"no prefix":     []byte("XSr,1,2*00!"),
		"no terminator": []byte("GSr,1,2*00"),
		"no checksum":   []byte("GSr,1,2!"),
		"bad hex":       []byte("GSr,1,2*zz!"),
	}
	for name, payload := range cases {
		_, err := g.Validate(gsrTestFrame(payload))
		assert.ErrorIs(t, err, ErrInvalidFrame, name)
	}
}

func TestGSRQualityGate(t *testing.T) {
	gated := NewGSR(GSRConfig{QualityGate: true})
	open := NewGSR(GSRConfig{})

	cases := []struct {
		name string
		body string
	}{
		{"few satellites", "GSr,123456789012345,2,250713,212244,E024.705360,N42.648187,440,0,0.8,46"},
		{"high hdop", "GSr,123456789012345,6,250713,212244,E024.705360,N42.648187,440,0,10.0,46"},
	}
	for _, tc := range cases {
		f := gsrTestFrame(gsrFrame(tc.body))
		_, err := gated.Parse(f)
		assert.ErrorIs(t, err, ErrLowQuality, tc.name)

		points, err := open.Parse(f)
		require.NoError(t, err, tc.name)
		assert.Len(t, points, 1, tc.name)
	}
}

func TestGSRSexagesimalVariant(t *testing.T) {
	g := NewGSR(GSRConfig{Sexagesimal: true, SpeedKnots: true})
	// 4238.8913N = 42° 38.8913', 02442.3216E = 24° 42.3216'; 10 knots.
	f := gsrTestFrame(gsrFrame("GSr,123456789012345,7,250713,212244,02442.3216E,4238.8913N,440,10,0.8,46"))

	points, err := g.Parse(f)
	require.NoError(t, err)
	require.Len(t, points, 1)

	pt := points[0]
	assert.InDelta(t, 42.0+38.8913/60, pt.Lat, 1e-6)
	assert.InDelta(t, 24.0+42.3216/60, pt.Lon, 1e-6)
	assert.InDelta(t, 16.09, pt.HSpeed, 1e-9)
}

func TestGSRSouthWestNegative(t *testing.T) {
	g := NewGSR(GSRConfig{})
	f := gsrTestFrame(gsrFrame("GSr,123456789012345,7,250713,212244,W024.705360,S42.648187,440,0,0.8,46"))

	points, err := g.Parse(f)
	require.NoError(t, err)
	assert.Equal(t, -42.648187, points[0].Lat)
	assert.Equal(t, -24.705360, points[0].Lon)
}

func TestGSRBadHemisphere(t *testing.T) {
	g := NewGSR(GSRConfig{})
	f := gsrTestFrame(gsrFrame("GSr,123456789012345,7,250713,212244,X024.705360,N42.648187,440,0,0.8,46"))

	_, err := g.Parse(f)
	require.ErrorIs(t, err, ErrInvalidFrame)
}

func TestGSRBadNumericField(t *testing.T) {
	g := NewGSR(GSRConfig{})
	f := gsrTestFrame(gsrFrame("GSr,123456789012345,abc,250713,212244,E024.705360,N42.648187,440,0,0.8,46"))

	_, err := g.Parse(f)
	require.ErrorIs(t, err, ErrInvalidFrame)
}

// Parse is safe even when a caller skips Validate.
func TestGSRParseWithoutSeparator(t *testing.T) {
	g := NewGSR(GSRConfig{})

	_, err := g.Parse(Frame{Payload: []byte("GSr,123456789012345,7")})
	require.ErrorIs(t, err, ErrInvalidFrame)
}
