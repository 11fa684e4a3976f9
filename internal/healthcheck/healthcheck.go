package healthcheck

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/angeloszaimis/randdistri/internal/errs"
	"github.com/angeloszaimis/randdistri/internal/metrics"
	"github.com/angeloszaimis/randdistri/internal/registry"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 1 * time.Second
)

type Prober interface {
	Probe(ctx context.Context, endpoint *url.URL) error
}

// Result is the outcome of probing one server in a sweep.
type Result struct {
	Server  string
	Healthy bool
	Changed bool
	Err     error
}

type Monitor struct {
	registry      *registry.Registry
	prober        Prober
	interval      time.Duration
	timeout       time.Duration
	maxConcurrent int
	collector     *metrics.Collector
	logger        *slog.Logger
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithMaxConcurrent caps parallel probes. Zero means one goroutine per server.
func WithMaxConcurrent(n int) Option {
	return func(m *Monitor) { m.maxConcurrent = n }
}

func WithCollector(c *metrics.Collector) Option {
	return func(m *Monitor) { m.collector = c }
}

func NewMonitor(reg *registry.Registry, prober Prober, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		registry: reg,
		prober:   prober,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   logger.With(slog.String("component", "healthcheck")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Health monitor started",
		slog.Duration("interval", m.interval),
		slog.Duration("timeout", m.timeout))

	m.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return nil
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered server concurrently and waits for all probes.
func (m *Monitor) CheckAll(ctx context.Context) []Result {
	servers := m.registry.List()
	results := make([]Result, len(servers))

	p := pool.New()
	if m.maxConcurrent > 0 {
		p = p.WithMaxGoroutines(m.maxConcurrent)
	}

	for i, s := range servers {
		p.Go(func() {
			results[i] = m.check(ctx, s)
		})
	}
	p.Wait()

	return results
}

func (m *Monitor) check(ctx context.Context, s registry.Server) Result {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Probe(probeCtx, s.Endpoint)
	if ctx.Err() != nil {
		// shutting down; a cancelled probe says nothing about the backend
		return Result{Server: s.ID, Healthy: s.Healthy, Err: ctx.Err()}
	}

	healthy, changed, setErr := m.registry.ReportProbe(s.ID, err == nil)
	if setErr != nil {
		if errors.Is(setErr, errs.ErrServerNotFound) {
			m.logger.Debug("Server removed during probe", slog.String("server", s.ID))
		}
		return Result{Server: s.ID, Err: err}
	}

	if changed {
		m.collector.Emit(metrics.Event{
			Type:    metrics.EventHealthChanged,
			Server:  s.ID,
			Healthy: healthy,
		})

		if healthy {
			m.logger.Info("Server is back up",
				slog.String("server", s.ID),
				slog.String("endpoint", s.Endpoint.String()))
		} else {
			m.logger.Warn("Server is down",
				slog.String("server", s.ID),
				slog.String("endpoint", s.Endpoint.String()),
				slog.Any("err", err))
		}
	}

	return Result{Server: s.ID, Healthy: healthy, Changed: changed, Err: err}
}
