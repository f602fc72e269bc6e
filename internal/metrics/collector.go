package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventRequestReceived  EventType = "request_received"
	EventRequestCompleted EventType = "request_completed"
	EventAccountSelected  EventType = "account_selected"
	EventAttemptCompleted EventType = "attempt_completed"
	EventConditionChanged EventType = "condition_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Account    string
	Outcome    string
	Condition  string
	Duration   time.Duration
	StatusCode int
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *Prometheus
	logger     *slog.Logger
	done       chan struct{}
	startOnce  sync.Once
}

// NewCollector returns a collector. A nil registerer disables Prometheus.
func NewCollector(bufferSize int, logger *slog.Logger, registerer prometheus.Registerer) *Collector {
	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	if registerer != nil {
		c.prometheus = NewPrometheus(registerer)
	}
	return c
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. Events are dropped when the buffer
// is full. Emit on a nil collector is a no-op.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Done is closed once the collector has drained its buffer after shutdown.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests()

	case EventRequestCompleted:
		c.metrics.RecordRequestResult(event.Outcome)

	case EventAccountSelected:
		c.metrics.RecordSelection(event.Account)

	case EventAttemptCompleted:
		c.metrics.RecordAttempt(event.Account, event.Outcome, event.Duration, event.StatusCode)

	case EventConditionChanged:
		c.metrics.UpdateCondition(event.Account, event.Condition)
	}

	c.prometheus.observe(event)
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

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}
