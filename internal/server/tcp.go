// Package server hosts the network endpoints. One endpoint per
// (device type, transport) pair; endpoints are device-homogeneous and hand
// every raw message to the receiver service together with its arrival
// metadata.
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"ingest-svr/internal/observability"
	"ingest-svr/internal/parser"
	"ingest-svr/internal/receiver"
)

const (
	keepAlivePeriod = 60 * time.Second
	idleTimeout     = 5 * time.Minute
	readChunkSize   = 2048
	maxFrameSize    = 64 * 1024
)

// TCP is one TCP listener for a single device family. Each accepted
// connection gets its own goroutine, its own parser instance (carrying the
// session for stateful families) and its own framing state.
type TCP struct {
	entry  parser.Entry
	svc    *receiver.Service
	logger *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

func NewTCP(entry parser.Entry, svc *receiver.Service, logger *slog.Logger) *TCP {
	return &TCP{entry: entry, svc: svc, logger: logger}
}

// Listen binds the endpoint. Serve must be called afterwards.
func (t *TCP) Listen(addr string) error {
	var err error
	t.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	t.logger.Info("tcp endpoint listening", "addr", t.listener.Addr().String())
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (t *TCP) Addr() net.Addr { return t.listener.Addr() }

// ListenAndServe accepts connections until ctx is cancelled, then stops
// accepting and waits for open connections to drain.
func (t *TCP) ListenAndServe(ctx context.Context, addr string) error {
	if err := t.Listen(addr); err != nil {
		return err
	}
	return t.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled.
func (t *TCP) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.listener.Close()
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			t.logger.Error("accept failed", "error", err)
			continue
		}
		observability.TCPConnections.Inc()
		t.wg.Add(1)
		go func(c net.Conn) {
			defer t.wg.Done()
			t.handleConn(ctx, c)
		}(conn)
	}

	t.wg.Wait()
	return nil
}

func (t *TCP) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Shutdown must not wait on silent devices: the context tears the
	// connection down and every read re-arms an idle deadline.
	unwatch := context.AfterFunc(ctx, func() { conn.Close() })
	defer unwatch()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
	}

	// The connection owns its parser: for session-holding families this is
	// where device identity and the reassembly buffer live.
	p := t.entry.New()
	remote := conn.RemoteAddr().String()
	reply := func(b []byte) error {
		_, err := conn.Write(b)
		return err
	}
	deliver := func(payload []byte) error {
		f := parser.Frame{
			Received:   time.Now().UTC(),
			Transport:  "TCP",
			Payload:    payload,
			RemoteAddr: remote,
		}
		return t.svc.Handle(ctx, f, p, reply)
	}

	r := deadlineReader{conn: conn, timeout: idleTimeout}
	var err error
	switch t.entry.Framing {
	case parser.FramingDelimited:
		err = t.serveDelimited(r, deliver)
	case parser.FramingLengthPrefixed:
		err = t.serveLengthPrefixed(r, deliver)
	default:
		err = t.serveStream(r, deliver)
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
		t.logger.Warn("connection closed", "remote", remote, "error", err)
	}
}

// deadlineReader arms the idle deadline before every read.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}

// serveDelimited cuts ASCII frames at their '!' terminator, tolerating
// CR/LF padding between frames.
func (t *TCP) serveDelimited(r io.Reader, deliver func([]byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, readChunkSize), maxFrameSize)
	sc.Split(scanBang)
	for sc.Scan() {
		frame := sc.Bytes()
		if len(frame) == 0 {
			continue
		}
		if err := deliver(append([]byte(nil), frame...)); err != nil {
			return err
		}
	}
	return sc.Err()
}

// scanBang is a bufio.SplitFunc yielding one frame per '!' inclusive.
func scanBang(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\r' || data[start] == '\n') {
		start++
	}
	if i := bytes.IndexByte(data[start:], '!'); i >= 0 {
		end := start + i + 1
		return end, data[start:end], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return start, nil, nil
}

// serveLengthPrefixed reads the family's fixed header, asks the registry
// entry for the total frame size, then reads the remainder.
func (t *TCP) serveLengthPrefixed(r io.Reader, deliver func([]byte) error) error {
	br := bufio.NewReader(r)
	header := make([]byte, t.entry.HeaderLen)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			return err
		}
		total := t.entry.FrameLen(header)
		if total < t.entry.HeaderLen || total > maxFrameSize {
			return fmt.Errorf("declared frame size %d out of range", total)
		}
		frame := make([]byte, total)
		copy(frame, header)
		if _, err := io.ReadFull(br, frame[t.entry.HeaderLen:]); err != nil {
			return err
		}
		if err := deliver(frame); err != nil {
			return err
		}
	}
}

// serveStream hands raw read chunks to the receiver; the parser reassembles
// frames itself.
func (t *TCP) serveStream(r io.Reader, deliver func([]byte) error) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if derr := deliver(append([]byte(nil), buf[:n]...)); derr != nil {
				return derr
			}
		}
		if err != nil {
			return err
		}
	}
}
