package mobile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest-svr/internal/point"
)

func i64(v int64) *int64 { return &v }

func TestDecodeChunkBaseOnly(t *testing.T) {
	enc := ChunkEncoder{Index: 7, AngleDiv: 20, TimeStep: 2}
	enc.Base(point.Point{TS: 1384341859, Lat: 52.260742, Lon: 7.211549, Alt: 120, HSpeed: 35})

	chunk, err := DecodeChunk(enc.Payload())
	require.NoError(t, err)
	assert.Equal(t, uint32(7), chunk.Index)
	require.Len(t, chunk.Points, 1)

	base := chunk.Points[0]
	assert.Equal(t, int64(1384341859), base.TS)
	assert.Equal(t, 52.260742, base.Lat)
	assert.Equal(t, 7.211549, base.Lon)
	assert.Equal(t, 120, base.Alt)
	assert.Equal(t, 35.0, base.HSpeed)
}

func TestDecodeChunkDeltaReconstruction(t *testing.T) {
	const k = 20
	enc := ChunkEncoder{Index: 1, AngleDiv: k, TimeStep: 2}
	enc.Base(point.Point{TS: 1000, Lat: 10.0, Lon: 20.0, Alt: 100})

	// lat += 4096/2^20, lon -= 2048/2^20, alt += 5
	enc.AddDelta(Delta{Lat: i64(4096), Lon: i64(-2048), Alt: i64(5)})
	// Explicit time delta switches the running step to 10.
	enc.AddDelta(Delta{TS: i64(10), Lat: i64(8192)})
	// The new step sticks for later points.
	enc.AddDelta(Delta{HSpeed: i64(42), VSpeed: i64(-18)})

	chunk, err := DecodeChunk(enc.Payload())
	require.NoError(t, err)
	require.Len(t, chunk.Points, 4)

	p1 := chunk.Points[1]
	assert.Equal(t, int64(1002), p1.TS)
	assert.Equal(t, point.Round6(10.0+4096.0/math.Pow(2, k)), p1.Lat)
	assert.Equal(t, point.Round6(20.0-2048.0/math.Pow(2, k)), p1.Lon)
	assert.Equal(t, 105, p1.Alt)

	p2 := chunk.Points[2]
	assert.Equal(t, int64(1012), p2.TS)
	assert.Equal(t, point.Round6(10.0+8192.0/math.Pow(2, k)), p2.Lat)
	// Lon carries over from the previous point.
	assert.Equal(t, p1.Lon, p2.Lon)

	p3 := chunk.Points[3]
	assert.Equal(t, int64(1022), p3.TS)
	assert.Equal(t, 42.0, p3.HSpeed)
	require.NotNil(t, p3.VSpeed)
	assert.Equal(t, point.Round1(-18.0/3.6), *p3.VSpeed)
}

func TestDecodeChunkAbsoluteAltitude(t *testing.T) {
	enc := ChunkEncoder{Index: 2, AngleDiv: 20, TimeStep: 1}
	enc.Base(point.Point{TS: 500, Lat: 1, Lon: 1, Alt: 100})

	abs := int16(900)
	enc.AddDelta(Delta{AbsAlt: &abs, Alt: i64(-10)})
	enc.AddDelta(Delta{Alt: i64(25)})

	chunk, err := DecodeChunk(enc.Payload())
	require.NoError(t, err)
	require.Len(t, chunk.Points, 3)
	// The absolute altitude replaces the base reference for this point and
	// the ones after it.
	assert.Equal(t, 890, chunk.Points[1].Alt)
	assert.Equal(t, 925, chunk.Points[2].Alt)
}

func TestDecodeChunkCoordinateRoundTrip(t *testing.T) {
	coords := []struct{ lat, lon float64 }{
		{52.260742, 7.211549},
		{-33.856784, 151.215297},
		{0.000001, -0.000001},
		{89.999999, 179.999999},
	}
	for _, c := range coords {
		enc := ChunkEncoder{Index: 1, AngleDiv: 20, TimeStep: 1}
		enc.Base(point.Point{TS: 1, Lat: c.lat, Lon: c.lon})
		chunk, err := DecodeChunk(enc.Payload())
		require.NoError(t, err)
		assert.Equal(t, c.lat, chunk.Points[0].Lat)
		assert.Equal(t, c.lon, chunk.Points[0].Lon)
	}
}

func TestDecodeChunkRejectsZeroDivisor(t *testing.T) {
	enc := ChunkEncoder{Index: 1, AngleDiv: 20, TimeStep: 2}
	enc.Base(point.Point{TS: 1, Lat: 1, Lon: 1})
	payload := enc.Payload()
	payload[4] = 0 // angle divisor byte

	_, err := DecodeChunk(payload)
	require.Error(t, err)
}

func TestDecodeChunkTruncated(t *testing.T) {
	enc := ChunkEncoder{Index: 1, AngleDiv: 20, TimeStep: 2}
	enc.Base(point.Point{TS: 1, Lat: 1, Lon: 1})
	payload := enc.Payload()

	for cut := 1; cut < len(payload); cut++ {
		_, err := DecodeChunk(payload[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
}

func TestEncodeConf(t *testing.T) {
	frame := EncodeConf(0x01020304)
	assert.Equal(t, []byte{Magic, TypePathChunkConf, 0x00, 0x04, 0x01, 0x02, 0x03, 0x04}, frame)
}
