package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventForwardSucceeded EventType = "forward_succeeded"
	EventForwardFailed    EventType = "forward_failed"
	EventNoBackend        EventType = "no_backend"
	EventHealthChanged    EventType = "health_changed"
	EventRunningChanged   EventType = "running_changed"
	EventWeightChanged    EventType = "weight_changed"
	EventFailureSimulated EventType = "failure_simulated"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Server    string
	Duration  time.Duration
	Kind      string
	Healthy   bool
	Running   bool
	Weight    int
}

type Collector struct {
	eventCh chan Event
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan Event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues an event without blocking. Full buffers drop the event.
func (c *Collector) Emit(event Event) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Run blocks until ctx is done, then drains what is left in the buffer.
func (c *Collector) Run(ctx context.Context) error {
	c.run(ctx)
	return nil
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event Event) {
	switch event.Type {
	case EventForwardSucceeded:
		c.metrics.RecordForward(event.Server, event.Duration)

	case EventForwardFailed:
		c.metrics.RecordForwardError(event.Server, event.Kind, event.Duration)

	case EventNoBackend:
		c.metrics.RecordNoBackend()

	case EventHealthChanged:
		c.metrics.SetHealthy(event.Server, event.Healthy)

	case EventRunningChanged:
		c.metrics.SetRunning(event.Server, event.Running)

	case EventWeightChanged:
		c.metrics.SetWeight(event.Server, event.Weight)

	case EventFailureSimulated:
		c.metrics.RecordSimulation(event.Server)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Metrics() *Metrics {
	return c.metrics
}
