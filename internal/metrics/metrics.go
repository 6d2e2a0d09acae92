// Package metrics holds the process-wide Prometheus collectors, served by
// the web mirror under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transfer_active_sessions",
		Help: "Number of live file-transfer sessions.",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_bytes_sent_total",
		Help: "Total file payload bytes written to peers.",
	})

	FilesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_files_sent_total",
		Help: "Files fully delivered, including the ACK round-trip.",
	})

	RejectedAdmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfer_rejected_admissions_total",
		Help: "Connections closed by the admission check before any protocol bytes.",
	})

	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_chat_messages_total",
		Help: "Chat frames by direction.",
	}, []string{"direction"})
)
