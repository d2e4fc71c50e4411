// Package metrics provides Prometheus instrumentation for lucets
// applications.
//
// Create a Metrics with New and pass it to Application.SetMetrics. All
// methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chain names used for the hook duration histogram.
const (
	ChainPreUpgrade  = "pre_upgrade"
	ChainPostUpgrade = "post_upgrade"
	ChainMessage     = "message"
)

// Metrics holds the Prometheus collectors of an application.
type Metrics struct {
	// Upgrade metrics
	Upgrades          *prometheus.CounterVec
	ActiveConnections prometheus.Gauge

	// Message metrics
	Messages *prometheus.CounterVec

	// Close metrics
	Closes *prometheus.CounterVec

	// Fault metrics
	Faults *prometheus.CounterVec

	// Hook metrics
	ChainDuration *prometheus.HistogramVec
}

// New creates a Metrics instance and registers its collectors with reg. A
// nil reg registers with the default Prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "lucets"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Upgrades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upgrades_total",
				Help:      "Total number of upgrade requests by result",
			},
			[]string{"result", "status"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently established connections",
			},
		),
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of inbound messages by result",
			},
			[]string{"result"},
		),
		Closes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_closes_total",
				Help:      "Total number of connections closed by the server by close code",
			},
			[]string{"code"},
		),
		Faults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "faults_total",
				Help:      "Total number of hook faults by phase and class",
			},
			[]string{"phase", "class"},
		),
		ChainDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "hook_chain_duration_seconds",
				Help:      "Hook chain run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"chain"},
		),
	}
}

// UpgradeAccepted records a completed upgrade.
func (m *Metrics) UpgradeAccepted() {
	if m == nil {
		return
	}
	m.Upgrades.WithLabelValues("accepted", "101").Inc()
}

// UpgradeRejected records an upgrade refused by a pre-upgrade hook.
func (m *Metrics) UpgradeRejected(status int) {
	if m == nil {
		return
	}
	m.Upgrades.WithLabelValues("rejected", strconv.Itoa(status)).Inc()
}

// HandshakeFailed records an upgrade that failed during the handshake.
func (m *Metrics) HandshakeFailed(status int) {
	if m == nil {
		return
	}
	m.Upgrades.WithLabelValues("failed", strconv.Itoa(status)).Inc()
}

// ConnectionOpened records a newly established connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionEnded records the end of an established connection.
func (m *Metrics) ConnectionEnded() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// ConnectionClosedWith records a server initiated close.
func (m *Metrics) ConnectionClosedWith(code int) {
	if m == nil {
		return
	}
	m.Closes.WithLabelValues(strconv.Itoa(code)).Inc()
}

// MessageHandled records a message that passed through the message chain.
func (m *Metrics) MessageHandled() {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("handled").Inc()
}

// MessageRejected records a message that could not be decoded.
func (m *Metrics) MessageRejected() {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("rejected").Inc()
}

// MessageFailed records a message whose chain returned an error.
func (m *Metrics) MessageFailed() {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("failed").Inc()
}

// Fault records a classified hook fault.
func (m *Metrics) Fault(phase string, server bool) {
	if m == nil {
		return
	}
	class := "client"
	if server {
		class = "server"
	}
	m.Faults.WithLabelValues(phase, class).Inc()
}

// ObserveChain records how long a hook chain took to run.
func (m *Metrics) ObserveChain(chain string, start time.Time) {
	if m == nil {
		return
	}
	m.ChainDuration.WithLabelValues(chain).Observe(time.Since(start).Seconds())
}
