// Package metrics provides Prometheus metrics for the relay broker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rdrelay"

// Outcome labels for control requests.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeBusy     = "busy"
	OutcomeNotFound = "not_found"
	OutcomeTimeout  = "timeout"
)

// Metrics holds all broker metrics on a private registry so tests can
// run several brokers in one process.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveConnections    *prometheus.GaugeVec
	ActivePairs          prometheus.Gauge
	ControlRequestsTotal *prometheus.CounterVec
	RelayedTotal         *prometheus.CounterVec
	RelayedBytes         *prometheus.CounterVec
	HeartbeatReapsTotal  prometheus.Counter
	ProtocolErrorsTotal  prometheus.Counter
	DeviceListBroadcasts prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Currently registered connections, by role.",
		}, []string{"role"}),

		ActivePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_control_pairs",
			Help:      "Currently bound controller/controlled pairs.",
		}),

		ControlRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Terminal control-request outcomes.",
		}, []string{"outcome"}),

		RelayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Messages forwarded between bound pairs, by kind.",
		}, []string{"kind"}),

		RelayedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_bytes_total",
			Help:      "Payload bytes forwarded between bound pairs, by kind.",
		}, []string{"kind"}),

		HeartbeatReapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_reaps_total",
			Help:      "Connections force-unregistered after missed heartbeats.",
		}),

		ProtocolErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed or unknown messages dropped at the per-message boundary.",
		}),

		DeviceListBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_list_broadcasts_total",
			Help:      "Device-list broadcasts sent to controllers.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ActivePairs,
		m.ControlRequestsTotal,
		m.RelayedTotal,
		m.RelayedBytes,
		m.HeartbeatReapsTotal,
		m.ProtocolErrorsTotal,
		m.DeviceListBroadcasts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
