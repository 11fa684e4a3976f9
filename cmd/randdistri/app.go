package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/randdistri/config"
	"github.com/angeloszaimis/randdistri/internal/backend"
	"github.com/angeloszaimis/randdistri/internal/control"
	"github.com/angeloszaimis/randdistri/internal/failover"
	"github.com/angeloszaimis/randdistri/internal/handler"
	"github.com/angeloszaimis/randdistri/internal/healthcheck"
	"github.com/angeloszaimis/randdistri/internal/httpserver"
	"github.com/angeloszaimis/randdistri/internal/metrics"
	"github.com/angeloszaimis/randdistri/internal/registry"
	"github.com/angeloszaimis/randdistri/internal/router"
	"github.com/angeloszaimis/randdistri/internal/stats"
	"github.com/angeloszaimis/randdistri/internal/strategy"
	"github.com/angeloszaimis/randdistri/internal/supervisor"
)

type app struct {
	log        *slog.Logger
	registry   *registry.Registry
	supervisor supervisor.Supervisor
	exec       *supervisor.Exec
	simulator  *failover.Simulator
	monitor    *healthcheck.Monitor
	collector  *metrics.Collector
	server     *httpserver.Server
}

func initializeRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	for _, b := range cfg.Backends {
		u, err := url.Parse(b.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing backend %s url: %w", b.ID, err)
		}
		if err := reg.Add(b.ID, u, b.Weight); err != nil {
			return nil, fmt.Errorf("registering backend %s: %w", b.ID, err)
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no backends configured")
	}
	return reg, nil
}

func newSupervisor(cfg config.SupervisorConfig, reg *registry.Registry, prober supervisor.Prober, log *slog.Logger) (supervisor.Supervisor, *supervisor.Exec, error) {
	if !cfg.Enabled {
		ids := make([]string, 0, reg.Len())
		for _, s := range reg.List() {
			ids = append(ids, s.ID)
		}
		return supervisor.NewDetached(ids...), nil, nil
	}

	endpoint := func(id string) (*url.URL, error) {
		s, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		return s.Endpoint, nil
	}

	exec, err := supervisor.NewExec(supervisor.ExecConfig{
		Command:      cfg.Command,
		Args:         cfg.Args,
		StopTimeout:  cfg.StopTimeoutDuration(),
		ReadyTimeout: cfg.ReadyTimeoutDuration(),
	}, endpoint, prober, log)
	if err != nil {
		return nil, nil, err
	}
	return exec, exec, nil
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	reg, err := initializeRegistry(cfg)
	if err != nil {
		return nil, err
	}

	client := backend.NewClient(
		backend.WithGeneratePath(cfg.Router.GeneratePath),
		backend.WithHealthPath(cfg.HealthCheck.Path),
	)

	sup, exec, err := newSupervisor(cfg.Supervisor, reg, client, log)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.EventBuffer, log.With(slog.String("component", "metrics")))
	}

	agg := stats.NewAggregator(cfg.Stats.LogCapacity)
	guard := supervisor.NewGuard()

	sim := failover.NewSimulator(reg, sup, guard, log,
		failover.WithCollector(collector),
		failover.WithRecoverTimeout(2*cfg.Supervisor.ReadyTimeoutDuration()),
	)

	rt := router.New(reg, strategy.NewWeightedRandomStrategy(), client, agg, log,
		router.WithForwardTimeout(cfg.Router.ForwardTimeoutDuration()),
		router.WithCollector(collector),
	)

	ctl := control.New(reg, agg, sup, sim, guard, log,
		control.WithRestartSettle(cfg.Control.RestartSettleDuration()),
		control.WithStatusLogLimit(cfg.Stats.StatusLogLimit),
		control.WithCollector(collector),
	)

	monitor := healthcheck.NewMonitor(reg, client, log,
		healthcheck.WithInterval(cfg.HealthCheck.IntervalDuration()),
		healthcheck.WithTimeout(cfg.HealthCheck.TimeoutDuration()),
		healthcheck.WithCollector(collector),
	)

	handlerOpts := []handler.Option{handler.WithDefaultFailureSeconds(cfg.Control.DefaultFailureSeconds)}
	if collector != nil {
		handlerOpts = append(handlerOpts, handler.WithMetricsHandler(collector.Handler()))
	}
	h := handler.New(log, rt, ctl, handlerOpts...)

	srv, err := httpserver.New(cfg.Server.Address, h.Routes(),
		httpserver.WithWriteTimeout(writeTimeout(cfg, reg.Len())),
	)
	if err != nil {
		return nil, fmt.Errorf("creating http server: %w", err)
	}

	return &app{
		log:        log,
		registry:   reg,
		supervisor: sup,
		exec:       exec,
		simulator:  sim,
		monitor:    monitor,
		collector:  collector,
		server:     srv,
	}, nil
}

// writeTimeout leaves room for restart_all, which stops and starts every server in sequence.
func writeTimeout(cfg *config.Config, servers int) time.Duration {
	perServer := cfg.Control.RestartSettleDuration()
	if cfg.Supervisor.Enabled {
		perServer += cfg.Supervisor.StopTimeoutDuration() + cfg.Supervisor.ReadyTimeoutDuration()
	}
	return max(15*time.Second, time.Duration(servers)*perServer+5*time.Second)
}

// startWorkers launches every configured worker. A worker that fails to come
// up is marked stopped; the rest keep going.
func (a *app) startWorkers(ctx context.Context) {
	for _, s := range a.registry.List() {
		if err := a.supervisor.Start(ctx, s.ID); err != nil {
			a.log.Error("Failed to start worker", slog.String("server", s.ID), slog.Any("err", err))
			_ = a.registry.SetState(s.ID, false, false)
			continue
		}
		_ = a.registry.SetState(s.ID, true, true)
	}
}

func (a *app) publishInitialState() {
	for _, s := range a.registry.List() {
		a.collector.Emit(metrics.Event{Type: metrics.EventWeightChanged, Server: s.ID, Weight: s.Weight})
		a.collector.Emit(metrics.Event{Type: metrics.EventRunningChanged, Server: s.ID, Running: s.Running})
		a.collector.Emit(metrics.Event{Type: metrics.EventHealthChanged, Server: s.ID, Healthy: s.Healthy})
	}
}

// run serves until ctx is cancelled, then stops pending recoveries and any
// workers it spawned.
func (a *app) run(ctx context.Context) error {
	if a.exec != nil {
		a.startWorkers(ctx)
	}
	a.publishInitialState()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("RandDistri listening", slog.String("addr", a.server.Addr()))
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	if a.collector != nil {
		g.Go(func() error {
			return a.collector.Run(gctx)
		})
	}

	err := g.Wait()

	a.simulator.Close()
	if a.exec != nil {
		a.exec.StopAll(context.Background())
	}
	return err
}
