package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes of image messages.
const (
	OutcomeComplete = "complete"
	OutcomeFailed   = "failed"
	OutcomeReaped   = "reaped"
)

// Metrics holds the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent      *prometheus.CounterVec
	ImageUploads      *prometheus.CounterVec
	LiveSubscriptions prometheus.Gauge
	WebSocketClients  prometheus.Gauge
	ChangeEvents      *prometheus.CounterVec
	Resyncs           prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friendlychat",
			Name:      "messages_sent_total",
			Help:      "Messages written, by kind.",
		}, []string{"kind"}),
		ImageUploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friendlychat",
			Name:      "image_uploads_total",
			Help:      "Image uploads by final state.",
		}, []string{"outcome"}),
		LiveSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "friendlychat",
			Name:      "live_subscriptions",
			Help:      "Open live queries.",
		}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "friendlychat",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
		ChangeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friendlychat",
			Name:      "change_events_total",
			Help:      "Change events delivered to live queries, by type.",
		}, []string{"type"}),
		Resyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "friendlychat",
			Name:      "live_query_resyncs_total",
			Help:      "Live queries rebuilt from the store after falling behind.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
