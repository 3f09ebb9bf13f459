// Package metrics registers the prometheus collectors the core exposes;
// Server.Metrics() hands the resulting registry to the out-of-scope HTTP
// admin layer to serve.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the fixed set of collectors the core updates as it runs.
type Metrics struct {
	Registry *prometheus.Registry

	RegisteredClusters prometheus.Gauge
	BoundNodes         prometheus.Gauge
	ActiveConnections  prometheus.Gauge
	PrimesRegistered   prometheus.Counter
	FramesHandled      prometheus.Counter
	RejectedStartups   prometheus.Counter
}

// New builds and registers a fresh collector set on its own registry, so
// multiple simulator.Server instances in one process (e.g. per-test) don't
// collide on prometheus's default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RegisteredClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simulacron", Name: "registered_clusters", Help: "Clusters currently in the registry.",
		}),
		BoundNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simulacron", Name: "bound_nodes", Help: "Nodes currently bound across all registered clusters.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simulacron", Name: "active_connections", Help: "Client connections currently accepted across all nodes.",
		}),
		PrimesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simulacron", Name: "primes_registered_total", Help: "User primes registered since process start.",
		}),
		FramesHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simulacron", Name: "frames_handled_total", Help: "Request frames dispatched since process start.",
		}),
		RejectedStartups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simulacron", Name: "rejected_startups_total", Help: "Startup/Register frames dropped by an active REJECT_STARTUP state.",
		}),
	}
	reg.MustRegister(
		m.RegisteredClusters,
		m.BoundNodes,
		m.ActiveConnections,
		m.PrimesRegistered,
		m.FramesHandled,
		m.RejectedStartups,
	)
	return m
}
