package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/metrics"
	"github.com/angeloszaimis/poolgate/internal/store"
	"github.com/angeloszaimis/poolgate/internal/upstream"
)

type Config struct {
	Interval    time.Duration
	Concurrency int
	Timeout     time.Duration
	Model       string
}

type Result struct {
	AccountID  string         `json:"account_id"`
	Healthy    bool           `json:"healthy"`
	Status     account.Status `json:"status"`
	StatusCode int            `json:"status_code,omitempty"`
	Latency    time.Duration  `json:"latency"`
	Error      string         `json:"error,omitempty"`
}

type Summary struct {
	Checked int      `json:"checked"`
	Healthy int      `json:"healthy"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

type Prober struct {
	store     store.Store
	tracker   *health.Tracker
	client    *upstream.Client
	collector *metrics.Collector
	logger    *slog.Logger
	cfg       Config

	cron    *cron.Cron
	mutex   sync.Mutex
	running bool
}

func NewProber(st store.Store, tracker *health.Tracker, client *upstream.Client, collector *metrics.Collector, logger *slog.Logger, cfg Config) *Prober {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Prober{
		store:     st,
		tracker:   tracker,
		client:    client,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		cron:      cron.New(),
	}
}

// Check probes one account. With reinstate set, a disabled account that
// answers is returned to service.
func (p *Prober) Check(ctx context.Context, id string, reinstate bool) (Result, error) {
	acc, err := p.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	result := Result{AccountID: id}

	statusCode, latency, probeErr := p.probe(ctx, acc)
	result.StatusCode = statusCode
	result.Latency = latency

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	var (
		updated    account.Account
		transition health.Transition
	)
	switch {
	case probeErr == nil && reinstate && acc.Status == account.StatusDisabled:
		updated, transition, err = p.tracker.Reinstate(ctx, id)
	case probeErr == nil:
		updated, transition, err = p.tracker.RecordSuccess(ctx, id, latency)
	default:
		result.Error = probeErr.Error()
		updated, transition, err = p.tracker.RecordFailure(ctx, id, upstream.ClassOf(probeErr), probeErr.Error(), latency)
	}
	if err != nil {
		return Result{}, fmt.Errorf("record probe of %s: %w", id, err)
	}

	result.Healthy = probeErr == nil
	result.Status = updated.Status

	if transition.Changed() {
		p.logger.Info("Account condition changed by health check",
			slog.String("account", id),
			slog.String("from", transition.From.String()),
			slog.String("to", transition.To.String()))

		p.collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventConditionChanged,
			Account:   id,
			Condition: transition.To.String(),
		})
	}

	return result, nil
}

// CheckAll probes every account that is not disabled.
func (p *Prober) CheckAll(ctx context.Context) (Summary, error) {
	accounts, err := p.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list accounts: %w", err)
	}

	var targets []string
	for _, acc := range accounts {
		if acc.Status != account.StatusDisabled {
			targets = append(targets, acc.ID)
		}
	}

	results := make([]Result, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i, id := range targets {
		g.Go(func() error {
			result, err := p.Check(gctx, id, false)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{Results: make([]Result, 0, len(results))}
	for _, r := range results {
		if r.AccountID == "" {
			continue
		}
		summary.Checked++
		if r.Healthy {
			summary.Healthy++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, r)
	}

	return summary, nil
}

func (p *Prober) probe(ctx context.Context, acc account.Account) (int, time.Duration, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(map[string]any{
		"model":      p.cfg.Model,
		"messages":   []map[string]string{{"role": "user", "content": "Hi"}},
		"max_tokens": 5,
	})
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()
	resp, err := p.client.Do(ctx, acc, upstream.Request{
		Method: http.MethodPost,
		Path:   "/chat/completions",
		Body:   body,
	})
	latency := time.Since(start)
	if err != nil {
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			return upErr.StatusCode, latency, err
		}
		return 0, latency, err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

// Start schedules CheckAll every configured interval until ctx is done.
func (p *Prober) Start(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.cfg.Interval <= 0 {
		return fmt.Errorf("invalid health check interval %s", p.cfg.Interval)
	}

	spec := fmt.Sprintf("@every %s", p.cfg.Interval)
	if _, err := p.cron.AddFunc(spec, func() { p.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule health check: %w", err)
	}

	p.cron.Start()
	p.running = true

	p.logger.Info("Health check scheduler started",
		slog.String("interval", p.cfg.Interval.String()),
		slog.Int("concurrency", p.cfg.Concurrency))

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

// Stop stops the schedule and waits for a running sweep.
func (p *Prober) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		stopped := p.cron.Stop()
		<-stopped.Done()
		p.running = false
		p.logger.Info("Health check scheduler stopped")
	}
}

func (p *Prober) NextRun() *time.Time {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entries := p.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}

func (p *Prober) sweep(ctx context.Context) {
	summary, err := p.CheckAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Health check sweep failed", slog.Any("err", err))
		}
		return
	}

	p.logger.Info("Health check sweep completed",
		slog.Int("checked", summary.Checked),
		slog.Int("healthy", summary.Healthy),
		slog.Int("failed", summary.Failed))
}
