package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/angeloszaimis/randdistri/internal/backend"
	"github.com/angeloszaimis/randdistri/internal/errs"
	"github.com/angeloszaimis/randdistri/internal/metrics"
	"github.com/angeloszaimis/randdistri/internal/registry"
	"github.com/angeloszaimis/randdistri/internal/stats"
	"github.com/angeloszaimis/randdistri/internal/strategy"
)

const DefaultForwardTimeout = 3 * time.Second

// Forwarder sends a generate call to one backend.
type Forwarder interface {
	Generate(ctx context.Context, endpoint *url.URL, query url.Values) (backend.Generation, error)
}

// Result is what a successful generate call returns to the client.
type Result struct {
	Number     int64   `json:"number"`
	FromServer string  `json:"from_server"`
	RequestTo  string  `json:"request_to"`
	Timestamp  float64 `json:"timestamp"`
	RequestID  string  `json:"request_id"`
	Seq        uint64  `json:"seq"`
}

type Router struct {
	registry  *registry.Registry
	strategy  strategy.Strategy
	forwarder Forwarder
	stats     *stats.Aggregator
	collector *metrics.Collector
	logger    *slog.Logger
	timeout   time.Duration
}

type Option func(*Router)

func WithForwardTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithCollector(c *metrics.Collector) Option {
	return func(r *Router) { r.collector = c }
}

func New(reg *registry.Registry, strat strategy.Strategy, fwd Forwarder, agg *stats.Aggregator, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		registry:  reg,
		strategy:  strat,
		forwarder: fwd,
		stats:     agg,
		logger:    logger.With(slog.String("component", "router")),
		timeout:   DefaultForwardTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route picks a healthy backend and forwards query to it unmodified.
func (r *Router) Route(ctx context.Context, query url.Values) (Result, error) {
	if err := validateRange(query); err != nil {
		return Result{}, err
	}

	candidates := lo.Filter(r.registry.List(), func(s registry.Server, _ int) bool {
		return s.Healthy
	})

	chosen, ok := r.strategy.SelectBackend(candidates)
	if !ok {
		r.collector.Emit(metrics.Event{Type: metrics.EventNoBackend})
		return Result{}, errs.ErrNoHealthyBackend
	}

	requestID := uuid.NewString()

	fwdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	start := time.Now()
	gen, err := r.forwarder.Generate(fwdCtx, chosen.Endpoint, query)
	elapsed := time.Since(start)
	cancel()

	if err != nil {
		// The client went away; the backend did nothing wrong.
		if errors.Is(ctx.Err(), context.Canceled) {
			return Result{}, errs.Wrap(errs.KindInternal, chosen.ID, "request cancelled", err)
		}
		return Result{}, r.evict(chosen, requestID, elapsed, err)
	}

	now := time.Now()
	entry := r.stats.RecordSuccess(chosen.ID, gen.Number, now)

	r.collector.Emit(metrics.Event{
		Type:     metrics.EventForwardSucceeded,
		Server:   chosen.ID,
		Duration: elapsed,
	})

	r.logger.Debug("Request forwarded",
		slog.String("request_id", requestID),
		slog.String("server", chosen.ID),
		slog.Int64("number", gen.Number),
		slog.Duration("duration", elapsed))

	ts := gen.Timestamp
	if ts == 0 {
		ts = float64(now.UnixNano()) / float64(time.Second)
	}

	return Result{
		Number:     gen.Number,
		FromServer: chosen.ID,
		RequestTo:  chosen.Endpoint.String(),
		Timestamp:  ts,
		RequestID:  requestID,
		Seq:        entry.Seq,
	}, nil
}

func (r *Router) evict(chosen registry.Server, requestID string, elapsed time.Duration, cause error) error {
	kind := errs.KindBackendError
	reason := "offline"
	if backend.IsTimeout(cause) {
		kind = errs.KindBackendTimeout
		reason = "timeout"
	}
	var statusErr *backend.StatusError
	if errors.As(cause, &statusErr) {
		reason = fmt.Sprintf("status %d", statusErr.Code)
	}

	changed, err := r.registry.SetHealthy(chosen.ID, false)
	if err != nil {
		r.logger.Debug("Evicted server no longer registered", slog.String("server", chosen.ID))
	}
	r.stats.RecordFailure(chosen.ID, reason, time.Now())

	r.collector.Emit(metrics.Event{
		Type:     metrics.EventForwardFailed,
		Server:   chosen.ID,
		Kind:     string(kind),
		Duration: elapsed,
	})
	if changed {
		r.collector.Emit(metrics.Event{Type: metrics.EventHealthChanged, Server: chosen.ID, Healthy: false})
	}

	r.logger.Warn("Forward failed, server evicted",
		slog.String("request_id", requestID),
		slog.String("server", chosen.ID),
		slog.String("kind", string(kind)),
		slog.Any("err", cause))

	return errs.Wrap(kind, chosen.ID, "forward failed", cause)
}

func validateRange(query url.Values) error {
	for _, key := range []string{"min", "max"} {
		if !query.Has(key) {
			continue
		}
		if _, err := strconv.ParseInt(query.Get(key), 10, 64); err != nil {
			return errs.Invalid(fmt.Sprintf("%s must be an integer", key))
		}
	}
	return nil
}
