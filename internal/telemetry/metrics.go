package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CRMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitrix_requests_total",
			Help: "Total number of outbound Bitrix24 API calls",
		},
		[]string{"method", "outcome"},
	)

	CRMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "bitrix_request_duration_seconds",
			Help: "Duration of outbound Bitrix24 API calls in seconds",
		},
		[]string{"method"},
	)

	CredStoreRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credstore_requests_total",
			Help: "Total number of credential store requests",
		},
		[]string{"operation", "outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversation_sessions_active",
			Help: "Number of conversation sessions currently open",
		},
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_messages_total",
			Help: "Total number of handled Telegram updates",
		},
		[]string{"kind"},
	)
)
