package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stcbus/pidgin-sub003/connstate"
)

// metrics holds a Runtime's Prometheus collectors. Each Runtime owns
// its own registry rather than
// registering against the global default, so tests can construct more than
// one Runtime without a duplicate-registration panic.
type metrics struct {
	registry *prometheus.Registry

	connState    *prometheus.GaugeVec
	natDiscovery *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		connState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pidgin_connections_state",
			Help: "Number of account connections currently in each connstate.State.",
		}, []string{"state"}),
		natDiscovery: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pidgin_nat_discovery_total",
			Help: "NAT discovery attempts, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry exposes the collectors for a caller to serve on an HTTP handler;
// the runtime does not open any listener itself.
func (m *metrics) Registry() *prometheus.Registry { return m.registry }

func (m *metrics) transition(old, new connstate.State) {
	m.connState.WithLabelValues(string(old)).Dec()
	m.connState.WithLabelValues(string(new)).Inc()
}

func (m *metrics) natOutcome(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.natDiscovery.WithLabelValues(outcome).Inc()
}
