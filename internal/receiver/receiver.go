// Package receiver ties the pipeline together: every raw message is
// audited, parsed, normalized, published and acknowledged, in that order.
// The audit write completes before any parser sees the bytes.
package receiver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ingest-svr/internal/audit"
	"ingest-svr/internal/observability"
	"ingest-svr/internal/parser"
	"ingest-svr/internal/point"
	"ingest-svr/internal/store"
)

// PointWriter is the downstream sink for normalized points. The broker
// publisher implements it; tests supply fakes.
type PointWriter interface {
	Write(point.Point) error
}

// AuditWriter records raw arrivals and parse failures. Implemented by
// *audit.Log.
type AuditWriter interface {
	Write(audit.Entry)
}

// Reply sends ack bytes back on the transport the frame arrived on.
type Reply func([]byte) error

// Service processes inbound raw messages. One Service is shared by all
// endpoints; per-connection state lives in the parser instances the
// endpoints construct.
type Service struct {
	audit     AuditWriter
	publisher PointWriter
	positions *store.Positions
	logger    *slog.Logger
}

func New(a AuditWriter, pub PointWriter, positions *store.Positions, logger *slog.Logger) *Service {
	return &Service{audit: a, publisher: pub, positions: positions, logger: logger}
}

// Handle runs one raw message through the pipeline. A non-nil return means
// the connection must close and its session be discarded; per-frame errors
// are absorbed here.
func (s *Service) Handle(ctx context.Context, f parser.Frame, p parser.Parser, reply Reply) error {
	start := time.Now()
	observability.FramesReceived.WithLabelValues(f.Transport).Inc()

	// Evidence first: the arrival is on record before any parse result is
	// trusted.
	s.audit.Write(audit.Entry{TS: f.Received, Transport: f.Transport, Payload: f.Payload})
	observability.AuditRecords.Inc()

	if _, err := p.Validate(f); err != nil {
		s.recordError(f, err)
		return nil
	}

	points, parseErr := p.Parse(f)
	observability.ObserveParseLatency(start)

	// Points decoded before a mid-stream failure are still good; publish
	// them in wire order before acting on the error.
	s.publish(ctx, points)

	if parseErr != nil {
		fatal := s.handleParseError(f, parseErr)
		if fatal {
			return parseErr
		}
		return nil
	}

	if ack := p.Ack(f); len(ack) > 0 && reply != nil {
		if err := reply(ack); err != nil {
			s.logger.Warn("ack send failed", "transport", f.Transport, "error", err)
		} else {
			observability.AcksSent.Inc()
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, points []point.Point) {
	for _, pt := range points {
		if !pt.Valid() {
			observability.PointsDiscarded.Inc()
			continue
		}
		if err := s.publisher.Write(pt); err != nil {
			s.logger.Warn("publish failed", "device", pt.DeviceID, "error", err)
			continue
		}
		if err := s.positions.Set(ctx, pt); err != nil {
			s.logger.Warn("position cache update failed", "device", pt.DeviceID, "error", err)
		}
	}
}

// handleParseError audits and classifies a parse failure. fatal=true closes
// the connection.
func (s *Service) handleParseError(f parser.Frame, err error) (fatal bool) {
	kind := errorKind(err)
	observability.ParseErrors.WithLabelValues(kind).Inc()

	if errors.Is(err, parser.ErrLowQuality) {
		// Quality-gated frames are dropped without an audit error entry.
		s.logger.Debug("low quality fix dropped", "transport", f.Transport, "error", err)
		return false
	}

	s.audit.Write(audit.Entry{
		TS:        f.Received,
		Transport: f.Transport,
		Payload:   f.Payload,
		Error:     err.Error(),
	})
	observability.AuditRecords.Inc()
	s.logger.Warn("frame rejected", "transport", f.Transport, "kind", kind, "error", err)

	return errors.Is(err, parser.ErrOrphanSession) || errors.Is(err, parser.ErrSessionFatal)
}

// recordError audits a validation failure. The connection is kept.
func (s *Service) recordError(f parser.Frame, err error) {
	observability.ParseErrors.WithLabelValues(errorKind(err)).Inc()
	s.audit.Write(audit.Entry{
		TS:        f.Received,
		Transport: f.Transport,
		Payload:   f.Payload,
		Error:     err.Error(),
	})
	observability.AuditRecords.Inc()
	s.logger.Warn("frame rejected", "transport", f.Transport, "error", err)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, parser.ErrInvalidFrame):
		return "invalid_frame"
	case errors.Is(err, parser.ErrMalformed):
		return "malformed"
	case errors.Is(err, parser.ErrOrphanSession):
		return "orphan_session"
	case errors.Is(err, parser.ErrLowQuality):
		return "low_quality"
	case errors.Is(err, parser.ErrSessionFatal):
		return "session_fatal"
	}
	return "other"
}
