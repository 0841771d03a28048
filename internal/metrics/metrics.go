// ABOUTME: Prometheus metrics for the collaboration gateway on a dedicated registry
// ABOUTME: Observes committed session events and implements the hub's Recorder

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/disco-collab/internal/collab"
)

const namespace = "collab"

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	EventsTotal       *prometheus.CounterVec
	UpdatesTotal      *prometheus.CounterVec
	LockDenials       prometheus.Counter
	EventsDropped     prometheus.Counter
	LedgerDropped     prometheus.Counter
	CommandsTotal     *prometheus.CounterVec
	RelayedTotal      *prometheus.CounterVec
}

// New registers the gateway collectors on a fresh registry. sessions is
// sampled on every scrape for the active session gauge.
func New(sessions func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live collaboration sessions",
	}, func() float64 { return float64(sessions()) })

	return &Metrics{
		registry: reg,
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open WebSocket connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "WebSocket connections accepted since start",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed collaboration events by type",
		}, []string{"type"}),
		UpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Applied content updates by outcome",
		}, []string{"outcome"}),
		LockDenials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_denials_total",
			Help:      "Lock requests refused because another user held the lock",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped for connections whose buffers were full",
		}),
		LedgerDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_dropped_total",
			Help:      "Events not written to the ledger because its queue was full",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Client commands handled by type and status",
		}, []string{"type", "status"}),
		RelayedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "System broadcasts exchanged with other instances",
		}, []string{"direction"}),
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

// Observe counts a committed session event.
func (m *Metrics) Observe(ev *collab.Event) {
	m.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	switch ev.Type {
	case collab.EventFileUpdated:
		m.UpdatesTotal.WithLabelValues("applied").Inc()
	case collab.EventConflictDetected:
		m.UpdatesTotal.WithLabelValues("conflict").Inc()
	case collab.EventLockFailed:
		m.LockDenials.Inc()
	}
}

// CommandHandled counts a client command.
func (m *Metrics) CommandHandled(commandType, status string) {
	m.CommandsTotal.WithLabelValues(commandType, status).Inc()
}

// ConnectionOpened tracks a new WebSocket connection.
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnectionClosed tracks a closed WebSocket connection.
func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// EventDropped counts an event lost to a slow connection.
func (m *Metrics) EventDropped(string, *collab.Event) {
	m.EventsDropped.Inc()
}
