// Package audit is the authoritative append-only record of every frame the
// process received. A frame is written here before any parse result is
// trusted downstream.
package audit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one logical audit record: an arrival, or a parse failure for an
// arrival already recorded.
type Entry struct {
	TS        time.Time `json:"ts"`
	Transport string    `json:"transport"`
	Payload   []byte    `json:"-"`
	Error     string    `json:"error,omitempty"`
}

type wireEntry struct {
	TS        string `json:"ts"`
	Transport string `json:"transport"`
	Payload   string `json:"payload"`
	Error     string `json:"error,omitempty"`
}

// Log serializes entries from many connection tasks through a single writer
// goroutine. Write blocks when the queue is full: backpressure reaches the
// socket readers instead of losing arrivals.
type Log struct {
	f      *os.File
	ch     chan Entry
	failed chan error
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Open creates (or appends to) the audit file and starts the writer.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := &Log{
		f:      f,
		ch:     make(chan Entry, 256),
		failed: make(chan error, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Write queues one entry. Blocks when the writer is behind. Entries arriving
// after Close are absorbed: connections still draining during shutdown must
// not bring the process down by racing the sink.
func (l *Log) Write(e Entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	l.ch <- e
}

// Failed delivers the first unrecoverable sink error. The process is
// expected to shut down when this fires.
func (l *Log) Failed() <-chan error { return l.failed }

// Close waits out in-flight writes, drains queued entries, syncs and closes
// the file.
func (l *Log) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()
	<-l.done
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

func (l *Log) run() {
	defer close(l.done)
	for e := range l.ch {
		line, err := json.Marshal(wireEntry{
			TS:        e.TS.UTC().Format(time.RFC3339Nano),
			Transport: e.Transport,
			Payload:   base64.StdEncoding.EncodeToString(e.Payload),
			Error:     e.Error,
		})
		if err != nil {
			l.fail(err)
			return
		}
		if _, err := l.f.Write(append(line, '\n')); err != nil {
			l.fail(err)
			return
		}
	}
}

func (l *Log) fail(err error) {
	select {
	case l.failed <- err:
	default:
	}
	// Drain so writers never block on a dead sink.
	for range l.ch {
	}
}
