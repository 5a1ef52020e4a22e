// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for one reactor context.

package control

import (
	"github.com/momentics/hioload-iocore/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "iocore"

// Metrics holds the collectors of a single reactor context. Every series
// carries a constant "context" label so several contexts can share one
// registerer.
type Metrics struct {
	events         *prometheus.CounterVec
	selects        prometheus.Counter
	dropped        prometheus.Counter
	registered     prometheus.Gauge
	acceptInflight prometheus.Gauge
	gatherer       prometheus.Gatherer
}

// NewMetrics registers the reactor collectors on reg. A nil reg gets a
// private registry, reachable through Gatherer.
func NewMetrics(reg prometheus.Registerer, contextID string) *Metrics {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"context": contextID}

	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "events_total",
			Help:        "Events returned by select, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),

		selects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "select_calls_total",
			Help:        "Number of select calls",
			ConstLabels: labels,
		}),

		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "dropped_notifications_total",
			Help:        "Notifications discarded because their handle or operation was already detached",
			ConstLabels: labels,
		}),

		registered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "registered_handles",
			Help:        "Top-level handles currently registered",
			ConstLabels: labels,
		}),

		acceptInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "accept_inflight",
			Help:        "Pre-posted accept operations currently in flight",
			ConstLabels: labels,
		}),

		gatherer: gatherer,
	}
}

// ObserveBatch counts the records of one select result.
func (m *Metrics) ObserveBatch(events []api.EventRecord) {
	m.selects.Inc()
	for i := range events {
		m.events.WithLabelValues(events[i].Kind.String()).Inc()
	}
}

// Dropped counts a discarded notification.
func (m *Metrics) Dropped() {
	m.dropped.Inc()
}

// SetRegistered publishes the number of top-level entries.
func (m *Metrics) SetRegistered(n int) {
	m.registered.Set(float64(n))
}

// AcceptPosted adjusts the in-flight accept gauge by delta.
func (m *Metrics) AcceptPosted(delta int) {
	m.acceptInflight.Add(float64(delta))
}

// Gatherer exposes the registry the collectors live in, when it can gather.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Unregister removes the collectors from reg; used when a context closes.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	reg.Unregister(m.events)
	reg.Unregister(m.selects)
	reg.Unregister(m.dropped)
	reg.Unregister(m.registered)
	reg.Unregister(m.acceptInflight)
}
