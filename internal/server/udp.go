package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"ingest-svr/internal/parser"
	"ingest-svr/internal/receiver"
)

const maxDatagram = 64 * 1024

// UDP is one UDP endpoint for a single device family. Every datagram is a
// self-contained message, so one task serves the whole endpoint and acks go
// back to the datagram's source address.
type UDP struct {
	entry  parser.Entry
	svc    *receiver.Service
	logger *slog.Logger
	conn   *net.UDPConn
}

func NewUDP(entry parser.Entry, svc *receiver.Service, logger *slog.Logger) *UDP {
	return &UDP{entry: entry, svc: svc, logger: logger}
}

// Listen binds the endpoint. Serve must be called afterwards.
func (u *UDP) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("udp resolve %s: %w", addr, err)
	}
	u.conn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", addr, err)
	}
	u.logger.Info("udp endpoint listening", "addr", u.conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (u *UDP) Addr() net.Addr { return u.conn.LocalAddr() }

// ListenAndServe reads datagrams until ctx is cancelled.
func (u *UDP) ListenAndServe(ctx context.Context, addr string) error {
	if err := u.Listen(addr); err != nil {
		return err
	}
	return u.Serve(ctx)
}

// Serve reads datagrams until ctx is cancelled.
func (u *UDP) Serve(ctx context.Context) error {
	conn := u.conn
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	p := u.entry.New()
	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			u.logger.Error("udp read failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		f := parser.Frame{
			Received:   time.Now().UTC(),
			Transport:  "UDP",
			Payload:    append([]byte(nil), buf[:n]...),
			RemoteAddr: remote.String(),
		}
		reply := func(b []byte) error {
			_, err := conn.WriteToUDP(b, remote)
			return err
		}
		// Datagram transports have no connection to close: a fatal session
		// error only discards this datagram.
		if err := u.svc.Handle(ctx, f, p, reply); err != nil {
			u.logger.Warn("datagram rejected", "remote", remote.String(), "error", err)
		}
	}
}
