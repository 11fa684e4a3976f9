package failover

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/randdistri/internal/errs"
	"github.com/angeloszaimis/randdistri/internal/metrics"
	"github.com/angeloszaimis/randdistri/internal/registry"
	"github.com/angeloszaimis/randdistri/internal/supervisor"
)

const DefaultRecoverTimeout = 10 * time.Second

// Simulation is a snapshot of one active forced outage.
type Simulation struct {
	Server   string
	Duration time.Duration
	Deadline time.Time
}

// RemainingSeconds rounds up so a pending recovery never shows as zero.
func (s Simulation) RemainingSeconds(now time.Time) int {
	left := s.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

type pending struct {
	gen   uint64
	sim   Simulation
	timer *time.Timer
}

type Simulator struct {
	registry       *registry.Registry
	supervisor     supervisor.Supervisor
	guard          *supervisor.Guard
	collector      *metrics.Collector
	logger         *slog.Logger
	recoverTimeout time.Duration

	mutex  sync.Mutex
	active map[string]*pending
	gen    uint64
	wg     sync.WaitGroup
	closed bool
}

type Option func(*Simulator)

func WithCollector(c *metrics.Collector) Option {
	return func(s *Simulator) { s.collector = c }
}

// WithRecoverTimeout bounds the process start performed on recovery.
func WithRecoverTimeout(d time.Duration) Option {
	return func(s *Simulator) { s.recoverTimeout = d }
}

func NewSimulator(reg *registry.Registry, sup supervisor.Supervisor, guard *supervisor.Guard, logger *slog.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		registry:       reg,
		supervisor:     sup,
		guard:          guard,
		logger:         logger.With(slog.String("component", "failover")),
		recoverTimeout: DefaultRecoverTimeout,
		active:         make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulate stops the server now and schedules its recovery after d.
func (s *Simulator) Simulate(ctx context.Context, id string, d time.Duration) (Simulation, error) {
	if d <= 0 {
		return Simulation{}, errs.New(errs.KindInvalidParameter, id, "failure duration must be positive")
	}

	unlock := s.guard.Lock(id)
	defer unlock()

	srv, err := s.registry.Get(id)
	if err != nil {
		return Simulation{}, err
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return Simulation{}, errs.New(errs.KindInternal, id, "simulator closed")
	}
	prev, superseding := s.active[id]
	if !superseding && !srv.Running {
		s.mutex.Unlock()
		return Simulation{}, errs.New(errs.KindNotRunning, id, "server not running")
	}
	if superseding {
		prev.timer.Stop()
		delete(s.active, id)
	}
	s.mutex.Unlock()

	if !superseding {
		if err := s.supervisor.Stop(ctx, id); err != nil && !errors.Is(err, errs.ErrNotRunning) {
			s.logger.Warn("Stopping worker for failure simulation failed",
				slog.String("server", id),
				slog.Any("err", err))
		}
	}
	if err := s.registry.SetState(id, false, false); err != nil {
		return Simulation{}, err
	}

	sim := Simulation{Server: id, Duration: d, Deadline: time.Now().Add(d)}

	s.mutex.Lock()
	s.gen++
	p := &pending{gen: s.gen, sim: sim}
	s.active[id] = p
	p.timer = time.AfterFunc(d, func() { s.recover(id, p.gen) })
	s.mutex.Unlock()

	s.collector.Emit(metrics.Event{Type: metrics.EventFailureSimulated, Server: id})
	s.collector.Emit(metrics.Event{Type: metrics.EventRunningChanged, Server: id, Running: false})
	s.collector.Emit(metrics.Event{Type: metrics.EventHealthChanged, Server: id, Healthy: false})

	s.logger.Warn("Failure simulation started",
		slog.String("server", id),
		slog.Duration("duration", d),
		slog.Bool("superseded", superseding))

	return sim, nil
}

func (s *Simulator) recover(id string, gen uint64) {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.wg.Add(1)
	s.mutex.Unlock()
	defer s.wg.Done()

	unlock := s.guard.Lock(id)
	defer unlock()

	s.mutex.Lock()
	p, ok := s.active[id]
	if !ok || p.gen != gen || s.closed {
		s.mutex.Unlock()
		return
	}
	delete(s.active, id)
	s.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.recoverTimeout)
	defer cancel()

	if err := s.supervisor.Start(ctx, id); err != nil && !errors.Is(err, errs.ErrAlreadyRunning) {
		s.logger.Error("Recovery after failure simulation failed",
			slog.String("server", id),
			slog.Any("err", err))
		return
	}

	if err := s.registry.SetState(id, true, true); err != nil {
		s.logger.Debug("Server removed before recovery", slog.String("server", id))
		return
	}

	s.collector.Emit(metrics.Event{Type: metrics.EventRunningChanged, Server: id, Running: true})
	s.collector.Emit(metrics.Event{Type: metrics.EventHealthChanged, Server: id, Healthy: true})

	s.logger.Info("Server recovered after failure simulation", slog.String("server", id))
}

// Cancel drops the pending recovery for id. Callers must hold the guard for id.
func (s *Simulator) Cancel(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.active[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.active, id)
	return true
}

func (s *Simulator) Get(id string) (Simulation, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.active[id]
	if !ok {
		return Simulation{}, false
	}
	return p.sim, true
}

// Remaining reports whole seconds until id recovers, rounded up.
func (s *Simulator) Remaining(id string) (int, bool) {
	sim, ok := s.Get(id)
	if !ok {
		return 0, false
	}
	return sim.RemainingSeconds(time.Now()), true
}

// Active returns every pending simulation keyed by server id.
func (s *Simulator) Active() map[string]Simulation {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make(map[string]Simulation, len(s.active))
	for id, p := range s.active {
		out[id] = p.sim
	}
	return out
}

// Close stops every pending timer and waits for recoveries already in flight.
func (s *Simulator) Close() {
	s.mutex.Lock()
	s.closed = true
	for id, p := range s.active {
		p.timer.Stop()
		delete(s.active, id)
	}
	s.mutex.Unlock()

	s.wg.Wait()
}
