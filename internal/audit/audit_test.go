package audit

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	require.NoError(t, err)

	ts := time.Date(2013, 7, 25, 21, 22, 44, 0, time.UTC)
	l.Write(Entry{TS: ts, Transport: "TCP", Payload: []byte("GSr,raw")})
	l.Write(Entry{TS: ts.Add(time.Second), Transport: "UDP", Payload: []byte{0x00, 0x05}, Error: "invalid frame"})
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]string
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "TCP", lines[0]["transport"])
	assert.Equal(t, "2013-07-25T21:22:44Z", lines[0]["ts"])
	payload, err := base64.StdEncoding.DecodeString(lines[0]["payload"])
	require.NoError(t, err)
	assert.Equal(t, []byte("GSr,raw"), payload)
	_, hasErr := lines[0]["error"]
	assert.False(t, hasErr)

	assert.Equal(t, "UDP", lines[1]["transport"])
	assert.Equal(t, "invalid frame", lines[1]["error"])
}

func TestAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	for i := 0; i < 2; i++ {
		l, err := Open(path)
		require.NoError(t, err)
		l.Write(Entry{TS: time.Now(), Transport: "TCP", Payload: []byte{byte(i)}})
		require.NoError(t, l.Close())
	}

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(body))
}

// Connections can still be flushing frames when shutdown closes the log;
// late writes must be absorbed, not crash the process.
func TestWriteAfterCloseAbsorbed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	require.NoError(t, err)

	l.Write(Entry{TS: time.Now(), Transport: "TCP", Payload: []byte("before")})
	require.NoError(t, l.Close())

	assert.NotPanics(t, func() {
		l.Write(Entry{TS: time.Now(), Transport: "TCP", Payload: []byte("after")})
	})

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(body))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "audit.log"))
	require.Error(t, err)
}
