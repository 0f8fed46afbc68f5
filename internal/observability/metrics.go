package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_tcp_connections_total",
		Help: "TCP connections accepted",
	})
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_frames_received_total",
		Help: "Raw frames received, by transport",
	}, []string{"transport"})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_parse_errors_total",
		Help: "Frames rejected, by error kind",
	}, []string{"kind"})
	PointsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_points_published_total",
		Help: "Normalized points handed to the broker exchange",
	})
	PointsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_points_discarded_total",
		Help: "Decoded points failing the canonical-record invariants",
	})
	PublisherDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_publisher_drops_total",
		Help: "Points dropped while the broker was unavailable",
	})
	AcksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_acks_sent_total",
		Help: "Acknowledgement frames sent back to devices",
	})
	AuditRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_audit_records_total",
		Help: "Records appended to the audit log",
	})
	ParseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_parse_latency_seconds",
		Help:    "Per-frame parse latency",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveParseLatency(start time.Time) {
	ParseLatency.Observe(time.Since(start).Seconds())
}

// StartMetricsServer exposes /metrics and /healthz on the given port.
func StartMetricsServer(port string) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	})
	_ = http.ListenAndServe(":"+port, nil)
}
