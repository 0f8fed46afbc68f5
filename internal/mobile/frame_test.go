package mobile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorSingleFrame(t *testing.T) {
	var acc Accumulator
	acc.Append(AppendFrame(nil, TypeMobileID, []byte{1, 2, 3}))

	f, ok, err := acc.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte(TypeMobileID), f.Type)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload)

	_, ok, err = acc.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, acc.Pending())
}

func TestAccumulatorPartialHeader(t *testing.T) {
	var acc Accumulator
	frame := AppendFrame(nil, TypeDebug, []byte("abc"))

	acc.Append(frame[:2])
	_, ok, err := acc.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	acc.Append(frame[2:])
	f, ok, err := acc.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), f.Payload)
}

func TestAccumulatorZeroLengthPayload(t *testing.T) {
	var acc Accumulator
	acc.Append(AppendFrame(nil, TypeRPC, nil))

	f, ok, err := acc.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, f.Payload)
	assert.Empty(t, f.Payload)
}

func TestAccumulatorBadMagic(t *testing.T) {
	var acc Accumulator
	acc.Append([]byte{0x00, TypeMobileID, 0x00, 0x00})

	_, _, err := acc.Next()
	require.ErrorIs(t, err, ErrBadMagic)
}

// Any split of a stream of complete frames must yield exactly those frames
// in order, with no loss or duplication.
func TestAccumulatorArbitrarySplits(t *testing.T) {
	var stream []byte
	var want [][]byte
	payloads := [][]byte{
		{},
		{0x01},
		[]byte("hello world"),
		make([]byte, 300),
		{0xFF, 0x00, 0xAA},
	}
	for _, p := range payloads {
		stream = AppendFrame(stream, TypePathChunk, p)
		want = append(want, p)
	}

	// Every two-piece split.
	for cut := 0; cut <= len(stream); cut++ {
		var acc Accumulator
		acc.Append(stream[:cut])
		got := drain(t, &acc)
		acc.Append(stream[cut:])
		got = append(got, drain(t, &acc)...)

		require.Len(t, got, len(want), "cut at %d", cut)
		for i := range want {
			assert.Equal(t, want[i], got[i], "cut at %d, frame %d", cut, i)
		}
		assert.Equal(t, 0, acc.Pending())
	}

	// Byte-by-byte.
	var acc Accumulator
	var got [][]byte
	for _, b := range stream {
		acc.Append([]byte{b})
		got = append(got, drain(t, &acc)...)
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i])
	}
}

func drain(t *testing.T, acc *Accumulator) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		f, ok, err := acc.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, f.Payload)
	}
}
