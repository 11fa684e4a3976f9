package control

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/angeloszaimis/randdistri/internal/errs"
	"github.com/angeloszaimis/randdistri/internal/failover"
	"github.com/angeloszaimis/randdistri/internal/metrics"
	"github.com/angeloszaimis/randdistri/internal/registry"
	"github.com/angeloszaimis/randdistri/internal/stats"
	"github.com/angeloszaimis/randdistri/internal/supervisor"
)

const (
	DefaultRestartSettle  = 300 * time.Millisecond
	DefaultStatusLogLimit = 200
)

type WeightChange struct {
	Server string `json:"server"`
	Old    int    `json:"old_weight"`
	New    int    `json:"new_weight"`
}

// RestartResult is the outcome of one server within RestartAll.
type RestartResult struct {
	Server  string `json:"server"`
	Stopped bool   `json:"stopped"`
	Started bool   `json:"started"`
	Error   string `json:"error,omitempty"`
}

type ServerStatus struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Weight    int    `json:"weight"`
	Requests  int64  `json:"requests"`
	Running   bool   `json:"running"`
	FailureIn int    `json:"failure_in"`
}

type Status struct {
	Servers       []ServerStatus `json:"servers"`
	TotalRequests int64          `json:"total_requests"`
	GenerationLog []string       `json:"generation_log"`
}

type API struct {
	registry   *registry.Registry
	stats      *stats.Aggregator
	supervisor supervisor.Supervisor
	simulator  *failover.Simulator
	guard      *supervisor.Guard
	collector  *metrics.Collector
	logger     *slog.Logger

	settle   time.Duration
	logLimit int
}

type Option func(*API)

func WithRestartSettle(d time.Duration) Option {
	return func(a *API) { a.settle = d }
}

func WithStatusLogLimit(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.logLimit = n
		}
	}
}

func WithCollector(c *metrics.Collector) Option {
	return func(a *API) { a.collector = c }
}

func New(
	reg *registry.Registry,
	agg *stats.Aggregator,
	sup supervisor.Supervisor,
	sim *failover.Simulator,
	guard *supervisor.Guard,
	logger *slog.Logger,
	opts ...Option,
) *API {
	a := &API{
		registry:   reg,
		stats:      agg,
		supervisor: sup,
		simulator:  sim,
		guard:      guard,
		logger:     logger.With(slog.String("component", "control")),
		settle:     DefaultRestartSettle,
		logLimit:   DefaultStatusLogLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetWeight changes the stored weight. The next draw sees the new value.
func (a *API) SetWeight(id string, weight int) (WeightChange, error) {
	old, err := a.registry.SetWeight(id, weight)
	if err != nil {
		return WeightChange{}, err
	}

	a.collector.Emit(metrics.Event{Type: metrics.EventWeightChanged, Server: id, Weight: weight})
	a.logger.Info("Weight changed",
		slog.String("server", id),
		slog.Int("old", old),
		slog.Int("new", weight))

	return WeightChange{Server: id, Old: old, New: weight}, nil
}

func (a *API) StartServer(ctx context.Context, id string) error {
	unlock := a.guard.Lock(id)
	defer unlock()

	srv, err := a.registry.Get(id)
	if err != nil {
		return err
	}
	if srv.Running {
		return errs.New(errs.KindAlreadyRunning, id, "server already running")
	}
	if a.simulator.Cancel(id) {
		a.logger.Info("Pending recovery cancelled by start", slog.String("server", id))
	}
	return a.start(ctx, id)
}

func (a *API) start(ctx context.Context, id string) error {
	if err := a.supervisor.Start(ctx, id); err != nil && !errors.Is(err, errs.ErrAlreadyRunning) {
		return errs.Wrap(errs.KindInternal, id, "start failed", err)
	}
	if err := a.registry.SetState(id, true, true); err != nil {
		return err
	}

	a.collector.Emit(metrics.Event{Type: metrics.EventRunningChanged, Server: id, Running: true})
	a.collector.Emit(metrics.Event{Type: metrics.EventHealthChanged, Server: id, Healthy: true})
	a.logger.Info("Server started", slog.String("server", id))
	return nil
}

// StopServer stops id. A server held down by a failure simulation counts as
// running for this purpose: the stop cancels its recovery.
func (a *API) StopServer(ctx context.Context, id string) error {
	unlock := a.guard.Lock(id)
	defer unlock()

	srv, err := a.registry.Get(id)
	if err != nil {
		return err
	}
	cancelled := a.simulator.Cancel(id)
	if !srv.Running && !cancelled {
		return errs.New(errs.KindNotRunning, id, "server not running")
	}
	return a.stop(ctx, id)
}

func (a *API) stop(ctx context.Context, id string) error {
	if err := a.supervisor.Stop(ctx, id); err != nil && !errors.Is(err, errs.ErrNotRunning) {
		return errs.Wrap(errs.KindInternal, id, "stop failed", err)
	}
	if err := a.registry.SetState(id, false, false); err != nil {
		return err
	}

	a.collector.Emit(metrics.Event{Type: metrics.EventRunningChanged, Server: id, Running: false})
	a.collector.Emit(metrics.Event{Type: metrics.EventHealthChanged, Server: id, Healthy: false})
	a.logger.Info("Server stopped", slog.String("server", id))
	return nil
}

// ToggleHealth flips the healthy flag without touching the process.
func (a *API) ToggleHealth(id string) (bool, error) {
	healthy, err := a.registry.ToggleHealthy(id)
	if err != nil {
		return false, err
	}

	a.collector.Emit(metrics.Event{Type: metrics.EventHealthChanged, Server: id, Healthy: healthy})
	a.logger.Info("Health toggled", slog.String("server", id), slog.Bool("healthy", healthy))
	return healthy, nil
}

// RestartAll stops and starts every server in turn. It never rolls back and
// reports each server's outcome.
func (a *API) RestartAll(ctx context.Context) []RestartResult {
	servers := a.registry.List()
	results := make([]RestartResult, 0, len(servers))

	for _, srv := range servers {
		results = append(results, a.restart(ctx, srv.ID))
	}

	failed := lo.CountBy(results, func(r RestartResult) bool { return r.Error != "" })
	a.logger.Info("Restart of all servers finished",
		slog.Int("servers", len(results)),
		slog.Int("failed", failed))

	return results
}

func (a *API) restart(ctx context.Context, id string) RestartResult {
	unlock := a.guard.Lock(id)
	defer unlock()

	res := RestartResult{Server: id}
	a.simulator.Cancel(id)

	if err := a.stop(ctx, id); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Stopped = true

	select {
	case <-ctx.Done():
		res.Error = ctx.Err().Error()
		return res
	case <-time.After(a.settle):
	}

	if err := a.start(ctx, id); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Started = true
	return res
}

func (a *API) SimulateFailure(ctx context.Context, id string, seconds int) (failover.Simulation, error) {
	if seconds <= 0 {
		return failover.Simulation{}, errs.New(errs.KindInvalidParameter, id, "seconds must be positive")
	}
	return a.simulator.Simulate(ctx, id, time.Duration(seconds)*time.Second)
}

// Status is a point-in-time view of every server plus the recent log.
func (a *API) Status() Status {
	servers := a.registry.List()
	snap := a.stats.Snapshot(a.logLimit)
	active := a.simulator.Active()
	now := time.Now()

	rows := lo.Map(servers, func(s registry.Server, _ int) ServerStatus {
		row := ServerStatus{
			ID:       s.ID,
			URL:      s.Endpoint.String(),
			Status:   "OFF",
			Weight:   s.Weight,
			Requests: snap.Counters[s.ID],
			Running:  s.Running,
		}
		if s.Healthy {
			row.Status = "ON"
		}
		if sim, ok := active[s.ID]; ok {
			row.FailureIn = sim.RemainingSeconds(now)
		}
		return row
	})

	return Status{
		Servers:       rows,
		TotalRequests: lo.SumBy(rows, func(r ServerStatus) int64 { return r.Requests }),
		GenerationLog: lo.Map(snap.Log, func(e stats.Entry, _ int) string { return e.String() }),
	}
}

// ClearLog empties the generation log. Counters are kept.
func (a *API) ClearLog() {
	a.stats.ClearLog()
	a.logger.Info("Generation log cleared")
}

func (a *API) ResetCounters() {
	a.stats.ResetCounters()
	a.logger.Info("Request counters reset")
}
