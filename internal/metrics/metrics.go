// Package metrics defines the prometheus collectors exposed by the coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "usercluster"

// Metrics groups the coordinator's collectors.
// A nil *Metrics is valid and records nothing, which keeps tests that do not
// care about metrics free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	WorkerRestarts      *prometheus.CounterVec
	WorkerSpawnFailures *prometheus.CounterVec
	ProxiedRequests     *prometheus.CounterVec
	ProxyErrors         *prometheus.CounterVec
	StoreRequests       *prometheus.CounterVec
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Number of worker processes replaced after exiting.",
		}, []string{"port"}),
		WorkerSpawnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_spawn_failures_total",
			Help:      "Number of failed attempts to start a worker process.",
		}, []string{"port"}),
		ProxiedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxied_requests_total",
			Help:      "Number of client requests forwarded to a worker.",
		}, []string{"port"}),
		ProxyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_errors_total",
			Help:      "Number of forwarded requests that failed at the transport level.",
		}, []string{"port"}),
		StoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Number of store access protocol requests served by the owner.",
		}, []string{"action", "outcome"}),
	}

	m.registry.MustRegister(
		m.WorkerRestarts,
		m.WorkerSpawnFailures,
		m.ProxiedRequests,
		m.ProxyErrors,
		m.StoreRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncWorkerRestarts(port string) {
	if m != nil {
		m.WorkerRestarts.WithLabelValues(port).Inc()
	}
}

func (m *Metrics) IncWorkerSpawnFailures(port string) {
	if m != nil {
		m.WorkerSpawnFailures.WithLabelValues(port).Inc()
	}
}

func (m *Metrics) IncProxiedRequests(port string) {
	if m != nil {
		m.ProxiedRequests.WithLabelValues(port).Inc()
	}
}

func (m *Metrics) IncProxyErrors(port string) {
	if m != nil {
		m.ProxyErrors.WithLabelValues(port).Inc()
	}
}

func (m *Metrics) IncStoreRequests(action, outcome string) {
	if m != nil {
		m.StoreRequests.WithLabelValues(action, outcome).Inc()
	}
}
