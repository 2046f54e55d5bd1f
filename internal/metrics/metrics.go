package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of persisted messages by content type",
	}, []string{"content_type"})
	MediationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_mediation_duration_seconds",
		Help:    "Latency of mediation provider calls",
		Buckets: prometheus.DefBuckets,
	})
	AudioRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_audio_rejected_total",
		Help: "Audio submissions rejected as inaudible",
	})
	NotificationsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_notifications_sent_total",
		Help: "Push notifications handed to the provider",
	})
	NotificationsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_notifications_failed_total",
		Help: "Push notification deliveries reported failed",
	})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		MessagesTotal,
		MediationDuration,
		AudioRejectedTotal,
		NotificationsSentTotal,
		NotificationsFailedTotal,
	)
}
