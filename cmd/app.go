package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angeloszaimis/poolgate/config"
	"github.com/angeloszaimis/poolgate/internal/dispatch"
	"github.com/angeloszaimis/poolgate/internal/handler"
	"github.com/angeloszaimis/poolgate/internal/health"
	"github.com/angeloszaimis/poolgate/internal/healthcheck"
	"github.com/angeloszaimis/poolgate/internal/metrics"
	"github.com/angeloszaimis/poolgate/internal/requestlog"
	"github.com/angeloszaimis/poolgate/internal/selector"
	"github.com/angeloszaimis/poolgate/internal/store"
	"github.com/angeloszaimis/poolgate/internal/strategy"
	"github.com/angeloszaimis/poolgate/internal/upstream"
)

// app holds the wired components of the gateway.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.Store
	tracker    *health.Tracker
	client     *upstream.Client
	strategy   strategy.Strategy
	selector   *selector.Selector
	logs       requestlog.Reader
	durable    *requestlog.SQLite
	registry   *prometheus.Registry
	collector  *metrics.Collector
	dispatcher *dispatch.Dispatcher
	prober     *healthcheck.Prober
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	st, err := store.Open(store.Options{Driver: cfg.Store.Driver, Path: cfg.Store.Path}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open account store: %w", err)
	}

	strat, err := strategy.New(cfg.Strategy.Type)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   log,
		store:    st,
		strategy: strat,
		tracker: health.NewTracker(st, health.Policy{
			FailureThreshold: cfg.Pool.FailureThreshold,
			Cooldown:         cfg.Pool.Cooldown(),
		}),
		client: upstream.NewClient(cfg.Upstream.BaseURL, cfg.Pool.AttemptTimeout),
	}
	a.selector = selector.New(st, a.tracker, strat, log)

	ring := requestlog.NewRing(cfg.RequestLog.Capacity)
	var sink requestlog.Sink = ring
	a.logs = ring
	if cfg.RequestLog.SQLitePath != "" {
		durable, err := requestlog.OpenSQLite(cfg.RequestLog.SQLitePath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open request log: %w", err)
		}
		a.durable = durable
		a.logs = durable
		sink = requestlog.Multi{ring, durable}
	}

	var registerer prometheus.Registerer
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registerer = a.registry
	}
	a.collector = metrics.NewCollector(cfg.Metrics.BufferSize, log, registerer)

	a.dispatcher = dispatch.New(a.selector, a.tracker, a.client, sink, log, cfg.Pool.MaxRetries,
		dispatch.WithCollector(a.collector))

	a.prober = healthcheck.NewProber(st, a.tracker, a.client, a.collector, log, healthcheck.Config{
		Interval:    cfg.HealthCheck.Interval,
		Concurrency: cfg.HealthCheck.Concurrency,
		Timeout:     cfg.HealthCheck.Timeout,
		Model:       cfg.HealthCheck.Model,
	})

	return a, nil
}

func (a *app) router() http.Handler {
	gateway := handler.NewGateway(a.dispatcher, a.collector, a.logger, a.cfg.Upstream.DefaultModel)
	admin := handler.NewAdmin(a.store, a.tracker, a.prober, a.logs, a.collector, a.cfg.Strategy.Type, a.logger)

	var exposition http.Handler
	if a.registry != nil {
		exposition = metrics.PrometheusHandler(a.registry)
	}

	return setupRouter(a.logger, gateway, admin, exposition, a.cfg.Metrics.Path)
}

func (a *app) Close() error {
	var errs []error
	if a.durable != nil {
		errs = append(errs, a.durable.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
