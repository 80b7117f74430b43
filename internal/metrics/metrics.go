// Package metrics holds the Prometheus collectors of the runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coagent"

// Metrics are the collectors a Runtime updates.
type Metrics struct {
	// LifecycleEvents is labeled by agent type and event type.
	LifecycleEvents *prometheus.CounterVec
	// ActiveAgents counts live instances per agent type.
	ActiveAgents *prometheus.GaugeVec
	Received     *prometheus.CounterVec
	Failures     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle notifications received, by agent type and event type.",
		}, []string{"agent", "event"}),
		ActiveAgents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_agents",
			Help:      "Agent instances currently subscribed, by agent type.",
		}, []string{"agent"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages delivered to agents, by agent type.",
		}, []string{"agent"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_failures_total",
			Help:      "Messages whose handling or reply failed, by agent type.",
		}, []string{"agent"}),
	}
	if reg != nil {
		reg.MustRegister(m.LifecycleEvents, m.ActiveAgents, m.Received, m.Failures)
	}
	return m
}
