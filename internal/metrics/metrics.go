package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_tcp_connections_total",
		Help: "Device connections accepted",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trackfeed_tcp_active_connections",
		Help: "Device connections currently open",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_frames_received_total",
		Help: "Frames read from device connections",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_decode_errors_total",
		Help: "Frames that failed to decode, each one aborted its connection",
	})
	EmptyFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_empty_frames_total",
		Help: "Frames that decoded to no record",
	})
	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_records_skipped_total",
		Help: "Decoded records dropped for lack of a device id",
	})
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_events_published_total",
		Help: "Position events published",
	})
	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_publish_errors_total",
		Help: "Position events the broadcast channel refused",
	})
	AuditErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_audit_errors_total",
		Help: "Raw frames that could not be written to the audit log",
	})
	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trackfeed_observers",
		Help: "Dashboard observers connected",
	})
	ObserverDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackfeed_observer_drops_total",
		Help: "Messages dropped because an observer buffer was full",
	})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackfeed_sink_errors_total",
		Help: "Position sink failures by sink",
	}, []string{"sink"})
	DecodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trackfeed_decode_latency_seconds",
		Help:    "Decoder latency per frame",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveDecodeLatency(start time.Time) {
	DecodeLatency.Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
