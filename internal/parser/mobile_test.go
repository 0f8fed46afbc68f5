package parser

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest-svr/internal/mobile"
	"ingest-svr/internal/point"
)

func mobileFrame(payload []byte) Frame {
	return Frame{Received: time.Now(), Transport: "TCP", Payload: payload}
}

func TestMobileOrphanSession(t *testing.T) {
	m := NewMobile()
	enc := mobile.ChunkEncoder{Index: 1, AngleDiv: 20, TimeStep: 2}
	enc.Base(point.Point{TS: 1384341859, Lat: 52.260742, Lon: 7.211549})

	points, err := m.Parse(mobileFrame(enc.Frame()))
	require.ErrorIs(t, err, ErrOrphanSession)
	assert.Empty(t, points)
	assert.Nil(t, m.Ack(mobileFrame(nil)))
}

func TestMobileHappyPath(t *testing.T) {
	id := uuid.MustParse("8f9c36e4-7a10-4b6f-9d12-3c45e6a7b8c9")

	enc := mobile.ChunkEncoder{Index: 42, AngleDiv: 20, TimeStep: 2}
	enc.Base(point.Point{TS: 1384341859, Lat: 52.260742, Lon: 7.211549, Alt: 0})
	for i := 1; i <= 14; i++ {
		d := mobile.Delta{Lat: i64(int64(i * 100)), Lon: i64(int64(-i * 100))}
		if i%3 == 0 {
			d.HSpeed = i64(int64(i * 5))
		}
		enc.AddDelta(d)
	}

	stream := mobile.EncodeMobileID(id)
	stream = append(stream, enc.Frame()...)

	m := NewMobile()
	points, err := m.Parse(mobileFrame(stream))
	require.NoError(t, err)
	require.Len(t, points, 15)

	for i, pt := range points {
		assert.Equal(t, id.String(), pt.DeviceID, "point %d", i)
		assert.Equal(t, int64(1384341859+2*i), pt.TS, "point %d", i)
	}
	assert.Equal(t, 52.260742, points[0].Lat)
	assert.Equal(t, point.Round6(52.260742+1400.0/(1<<20)), points[14].Lat)

	ack := m.Ack(mobileFrame(nil))
	assert.Equal(t, mobile.EncodeConf(42), ack)
	// Acks are owed once.
	assert.Nil(t, m.Ack(mobileFrame(nil)))
}

// Frames may arrive in arbitrary TCP segmentation; each Parse call consumes
// whatever complete frames are buffered.
func TestMobileSegmentedStream(t *testing.T) {
	id := uuid.New()
	enc := mobile.ChunkEncoder{Index: 7, AngleDiv: 20, TimeStep: 2}
	enc.Base(point.Point{TS: 1000, Lat: 10, Lon: 10})
	enc.AddDelta(mobile.Delta{Lat: i64(50)})

	stream := mobile.EncodeMobileID(id)
	stream = append(stream, enc.Frame()...)

	m := NewMobile()
	var points []point.Point
	for _, b := range stream {
		pts, err := m.Parse(mobileFrame([]byte{b}))
		require.NoError(t, err)
		points = append(points, pts...)
	}
	require.Len(t, points, 2)
	assert.Equal(t, id.String(), points[0].DeviceID)
}

func TestMobileBadMagicIsFatal(t *testing.T) {
	m := NewMobile()
	_, err := m.Parse(mobileFrame([]byte{0x00, 0x01, 0x00, 0x00}))
	require.ErrorIs(t, err, ErrSessionFatal)
}

func TestMobileReidentify(t *testing.T) {
	first := uuid.New()
	second := uuid.New()

	m := NewMobile()
	_, err := m.Parse(mobileFrame(mobile.EncodeMobileID(first)))
	require.NoError(t, err)
	assert.Equal(t, first.String(), m.DeviceID())

	_, err = m.Parse(mobileFrame(mobile.EncodeMobileID(second)))
	require.NoError(t, err)
	assert.Equal(t, second.String(), m.DeviceID())

	enc := mobile.ChunkEncoder{Index: 1, AngleDiv: 20, TimeStep: 2}
	enc.Base(point.Point{TS: 1000, Lat: 1, Lon: 1})
	points, err := m.Parse(mobileFrame(enc.Frame()))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, second.String(), points[0].DeviceID)
}

func TestMobileIgnoresRPCAndDebug(t *testing.T) {
	m := NewMobile()
	stream := mobile.AppendFrame(nil, mobile.TypeRPC, []byte("call"))
	stream = mobile.AppendFrame(stream, mobile.TypeDebug, []byte("noise"))

	points, err := m.Parse(mobileFrame(stream))
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.Nil(t, m.Ack(mobileFrame(nil)))
}
