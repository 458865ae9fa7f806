// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MessagesIngested  prometheus.Counter
	DuplicateSends    prometheus.Counter
	MessagesBroadcast prometheus.Counter
	StatusUpdates     prometheus.Counter
	ValidationErrors  prometheus.Counter
	Connections       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_ingested_total",
			Help: "Messages appended to a conversation log.",
		}),
		DuplicateSends: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_duplicate_sends_total",
			Help: "message:send retries resolved by the idempotency index.",
		}),
		MessagesBroadcast: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_broadcast_total",
			Help: "message:new frames fanned out to rooms.",
		}),
		StatusUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_status_updates_total",
			Help: "Delivered/read transitions applied to stored rows.",
		}),
		ValidationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_validation_errors_total",
			Help: "Requests rejected for a missing or malformed field.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_websocket_connections",
			Help: "Currently open websocket sessions.",
		}),
	}
}
