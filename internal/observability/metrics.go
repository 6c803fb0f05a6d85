package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serialgw",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "serialgw",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serialgw",
			Subsystem: "frames",
			Name:      "decoded_total",
			Help:      "Frames that passed every check and were dispatched.",
		},
		[]string{"framing"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serialgw",
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames dropped by kind of failure.",
		},
		[]string{"kind"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serialgw",
			Subsystem: "tcp",
			Name:      "connections_total",
			Help:      "Serial-bridge connection lifecycle events.",
		},
		[]string{"event"},
	)
	outboundBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "serialgw",
			Subsystem: "outbound",
			Name:      "bytes_total",
			Help:      "Bytes written from the outbound queue to the client.",
		},
	)
	egressMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serialgw",
			Subsystem: "egress",
			Name:      "messages_total",
			Help:      "Egress messages by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesDecoded,
			frameErrors,
			connections,
			outboundBytes,
			egressMessages,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameDecoded(framing string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(framing).Inc()
}

func RecordFrameDropped(kind string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(kind).Inc()
}

func RecordConnection(event string) {
	RegisterMetrics()
	connections.WithLabelValues(event).Inc()
}

func RecordOutboundWrite(n int) {
	RegisterMetrics()
	outboundBytes.Add(float64(n))
}

func RecordEgress(outcome string) {
	RegisterMetrics()
	egressMessages.WithLabelValues(outcome).Inc()
}
