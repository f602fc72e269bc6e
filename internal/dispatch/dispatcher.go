package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/metrics"
	"github.com/angeloszaimis/poolgate/internal/requestlog"
	"github.com/angeloszaimis/poolgate/internal/selector"
	"github.com/angeloszaimis/poolgate/internal/upstream"
	"github.com/angeloszaimis/poolgate/pkg/logger"
)

// Call is one client request to run against the pool.
type Call struct {
	RequestID string
	Model     string
	Request   upstream.Request
}

type Result struct {
	Response *upstream.Response
	Account  account.Account
	Attempts int
}

type Dispatcher struct {
	selector   *selector.Selector
	tracker    *health.Tracker
	client     *upstream.Client
	sink       requestlog.Sink
	collector  *metrics.Collector
	logger     *slog.Logger
	maxRetries int
}

type Option func(*Dispatcher)

// WithCollector emits metric events for every attempt.
func WithCollector(c *metrics.Collector) Option {
	return func(d *Dispatcher) {
		d.collector = c
	}
}

func New(sel *selector.Selector, tracker *health.Tracker, client *upstream.Client, sink requestlog.Sink, log *slog.Logger, maxRetries int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		selector:   sel,
		tracker:    tracker,
		client:     client,
		sink:       sink,
		logger:     log,
		maxRetries: maxRetries,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs call until an account answers, the budget is spent or no
// eligible account is left. Client errors (4xx other than 401, 402, 403) are
// returned as a successful Result carrying the upstream response.
//
// If ctx ends, no further attempts are made and ctx's error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*Result, error) {
	log := logger.FromContext(ctx, d.logger)
	state := NewState(d.maxRetries)

	for state.CanAttempt() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acc, err := d.selector.Select(ctx, state.Tried)
		if errors.Is(err, selector.ErrExhausted) {
			d.append(ctx, call, state.Number(), "", requestlog.OutcomeNoAccount, 0, 0, state.Last)
			d.collector.Emit(metrics.MetricEvent{Type: metrics.EventAttemptCompleted, Outcome: string(requestlog.OutcomeNoAccount)})
			log.Warn("No eligible account left",
				slog.Int("attempt", state.Number()),
				slog.Int("tried", len(state.Tried)))
			return nil, state.Exhausted()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("select account: %w", err)
		}

		d.collector.Emit(metrics.MetricEvent{Type: metrics.EventAccountSelected, Account: acc.ID})

		resp, latency, err := d.attempt(ctx, acc, call)
		switch {
		case err == nil:
			outcome := requestlog.OutcomeSuccess
			if resp.Outcome == upstream.OutcomeClientError {
				outcome = requestlog.OutcomeClientError
			}
			d.recordSuccess(ctx, acc, latency)
			d.append(ctx, call, state.Number(), acc.ID, outcome, resp.StatusCode, latency, nil)
			d.emitAttempt(acc.ID, outcome, latency, resp.StatusCode)

			log.Info("Request served",
				slog.String("account", acc.ID),
				slog.Int("attempt", state.Number()),
				slog.Int("status", resp.StatusCode),
				slog.Duration("latency", latency))

			return &Result{Response: resp, Account: acc, Attempts: state.Number()}, nil

		case ctx.Err() != nil:
			d.append(ctx, call, state.Number(), acc.ID, requestlog.OutcomeCancelled, 0, latency, ctx.Err())
			d.emitAttempt(acc.ID, requestlog.OutcomeCancelled, latency, 0)

			log.Info("Request cancelled by client",
				slog.String("account", acc.ID),
				slog.Int("attempt", state.Number()))

			return nil, ctx.Err()

		default:
			class := upstream.ClassOf(err)
			outcome := requestlog.OutcomeTransient
			if class == health.Terminal {
				outcome = requestlog.OutcomeTerminal
			}

			var statusCode int
			var upErr *upstream.Error
			if errors.As(err, &upErr) {
				statusCode = upErr.StatusCode
			}

			d.recordFailure(ctx, acc, class, err, latency)
			d.append(ctx, call, state.Number(), acc.ID, outcome, statusCode, latency, err)
			d.emitAttempt(acc.ID, outcome, latency, statusCode)

			log.Warn("Upstream attempt failed",
				slog.String("account", acc.ID),
				slog.Int("attempt", state.Number()),
				slog.String("class", class.String()),
				slog.Any("err", err))

			state.Failed(acc.ID, err)
		}
	}

	return nil, state.OutOfAttempts()
}

func (d *Dispatcher) attempt(ctx context.Context, acc account.Account, call Call) (*upstream.Response, time.Duration, error) {
	start := time.Now()
	resp, err := d.client.Do(ctx, acc, call.Request)
	return resp, time.Since(start), err
}

func (d *Dispatcher) recordSuccess(ctx context.Context, acc account.Account, latency time.Duration) {
	_, transition, err := d.tracker.RecordSuccess(context.WithoutCancel(ctx), acc.ID, latency)
	if err != nil {
		d.logger.Error("Failed to record success", slog.String("account", acc.ID), slog.Any("err", err))
		return
	}
	d.transitioned(acc.ID, transition)
}

func (d *Dispatcher) recordFailure(ctx context.Context, acc account.Account, class health.Class, cause error, latency time.Duration) {
	_, transition, err := d.tracker.RecordFailure(context.WithoutCancel(ctx), acc.ID, class, cause.Error(), latency)
	if err != nil {
		d.logger.Error("Failed to record failure", slog.String("account", acc.ID), slog.Any("err", err))
		return
	}
	d.transitioned(acc.ID, transition)
}

func (d *Dispatcher) transitioned(accountID string, transition health.Transition) {
	if !transition.Changed() {
		return
	}

	d.logger.Info("Account condition changed",
		slog.String("account", accountID),
		slog.String("from", transition.From.String()),
		slog.String("to", transition.To.String()))

	d.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventConditionChanged,
		Account:   accountID,
		Condition: transition.To.String(),
	})
}

func (d *Dispatcher) emitAttempt(accountID string, outcome requestlog.Outcome, latency time.Duration, statusCode int) {
	d.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventAttemptCompleted,
		Account:    accountID,
		Outcome:    string(outcome),
		Duration:   latency,
		StatusCode: statusCode,
	})
}

// append writes the attempt's log entry. It survives caller cancellation so
// abandoned attempts stay visible.
func (d *Dispatcher) append(ctx context.Context, call Call, attempt int, accountID string, outcome requestlog.Outcome, statusCode int, latency time.Duration, cause error) {
	entry := requestlog.Entry{
		RequestID:  call.RequestID,
		Attempt:    attempt,
		Timestamp:  time.Now(),
		AccountID:  accountID,
		Model:      call.Model,
		Outcome:    outcome,
		StatusCode: statusCode,
		Latency:    latency,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	if err := d.sink.Append(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Error("Failed to append request log entry",
			slog.String("request_id", call.RequestID),
			slog.Any("err", err))
	}
}
