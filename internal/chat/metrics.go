package chat

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe so tests and tools can run without a registry.
type Metrics struct {
	Mutations  *prometheus.CounterVec
	FeedEvents *prometheus.CounterVec
	WSClients  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smarttalk",
			Name:      "message_mutations_total",
			Help:      "Message mutations by operation and result.",
		}, []string{"op", "result"}),
		FeedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smarttalk",
			Name:      "feed_events_total",
			Help:      "Live feed events by direction and result.",
		}, []string{"direction", "result"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smarttalk",
			Name:      "ws_clients",
			Help:      "Connected websocket clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Mutations, m.FeedEvents, m.WSClients)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) feedEvent(direction, result string) {
	if m == nil {
		return
	}
	m.FeedEvents.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) clientJoined() {
	if m != nil {
		m.WSClients.Inc()
	}
}

func (m *Metrics) clientLeft() {
	if m != nil {
		m.WSClients.Dec()
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
