package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "randdistri"

// Metrics owns a private Prometheus registry so tests and multiple
// instances never collide on the global one.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	forwardErrors   *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	healthy         *prometheus.GaugeVec
	running         *prometheus.GaugeVec
	weight          *prometheus.GaugeVec
	simulations     *prometheus.CounterVec
	noBackend       prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Successfully forwarded generate requests per backend.",
		}, []string{"server"}),
		forwardErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_errors_total",
			Help:      "Failed forwards per backend and error kind.",
		}, []string{"server", "kind"}),
		forwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time spent forwarding a generate request to a backend.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"server"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "1 if the backend is a selection candidate.",
		}, []string{"server"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_running",
			Help:      "1 if the backend process is running.",
		}, []string{"server"}),
		weight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_weight",
			Help:      "Configured selection weight of the backend.",
		}, []string{"server"}),
		simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_simulations_total",
			Help:      "Failure simulations started per backend.",
		}, []string{"server"}),
		noBackend: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_healthy_backend_total",
			Help:      "Generate requests rejected because no backend was healthy.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.forwardErrors,
		m.forwardDuration,
		m.healthy,
		m.running,
		m.weight,
		m.simulations,
		m.noBackend,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordForward(server string, duration time.Duration) {
	m.requests.WithLabelValues(server).Inc()
	m.forwardDuration.WithLabelValues(server).Observe(duration.Seconds())
}

func (m *Metrics) RecordForwardError(server, kind string, duration time.Duration) {
	m.forwardErrors.WithLabelValues(server, kind).Inc()
	m.forwardDuration.WithLabelValues(server).Observe(duration.Seconds())
}

func (m *Metrics) RecordNoBackend() {
	m.noBackend.Inc()
}

func (m *Metrics) SetHealthy(server string, healthy bool) {
	m.healthy.WithLabelValues(server).Set(boolToFloat(healthy))
}

func (m *Metrics) SetRunning(server string, running bool) {
	m.running.WithLabelValues(server).Set(boolToFloat(running))
}

func (m *Metrics) SetWeight(server string, weight int) {
	m.weight.WithLabelValues(server).Set(float64(weight))
}

func (m *Metrics) RecordSimulation(server string) {
	m.simulations.WithLabelValues(server).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
