// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OpenStores = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_open_stores",
		Help: "Conversation stores currently open.",
	})

	RecordsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_records_written_total",
		Help: "Records persisted to conversation stores, by kind.",
	}, []string{"kind"})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_store_errors_total",
		Help: "Failed conversation store operations, by operation.",
	}, []string{"op"})

	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_ws_sessions",
		Help: "Connected websocket sessions.",
	})

	Broadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_broadcasts_total",
		Help: "Events emitted to websocket sessions, by event name.",
	}, []string{"event"})

	DroppedSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_ws_dropped_sessions_total",
		Help: "Sessions disconnected because their send buffer was full.",
	})

	UploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_upload_bytes_total",
		Help: "Bytes written to upload storage.",
	})
)

func init() {
	prometheus.MustRegister(OpenStores)
	prometheus.MustRegister(RecordsWritten)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(Sessions)
	prometheus.MustRegister(Broadcasts)
	prometheus.MustRegister(DroppedSessions)
	prometheus.MustRegister(UploadBytes)
}
