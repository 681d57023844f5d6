package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fortressi/routingslip"
	"github.com/fortressi/routingslip/internal/config"
	"github.com/fortressi/routingslip/internal/demo"
	"github.com/fortressi/routingslip/internal/logging"
	"github.com/fortressi/routingslip/redis"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// app is the wiring shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *routingslip.ActivityRegistry
	store    routingslip.Store
	engine   *routingslip.Engine
	closers  []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: routingslip.NewActivityRegistry()}
	if err := demo.Register(a.registry, logger); err != nil {
		return nil, err
	}

	var client *backend.Client
	if cfg.Store.Kind == config.StoreRedis || cfg.Publisher.Kind == config.PublisherRedis {
		r := cfg.Store.Redis
		client = redis.NewClient(r.Addr, r.Password, r.DB)
		a.closers = append(a.closers, client.Close)
	}

	switch cfg.Store.Kind {
	case config.StoreMemory:
		a.store = routingslip.NewMemoryStore()
	case config.StoreFile:
		store, err := routingslip.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		a.store = store
	case config.StoreRedis:
		a.store = redis.NewFromClient(client, redis.WithPrefix(cfg.Store.Redis.Prefix))
	}

	var publisher routingslip.EventPublisher = routingslip.NopPublisher{}
	switch cfg.Publisher.Kind {
	case config.PublisherLog:
		publisher = routingslip.NewLogPublisher(logger, slog.LevelInfo)
	case config.PublisherRedis:
		publisher = routingslip.MultiPublisher{
			routingslip.NewLogPublisher(logger, slog.LevelDebug),
			redis.NewPublisher(client, cfg.Publisher.Channel),
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics, err := routingslip.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		a.serveMetrics(addr, reg)
	}

	opts := append(cfg.Engine.Options(),
		routingslip.WithLogger(logger),
		routingslip.WithStore(a.store),
		routingslip.WithPublisher(publisher),
		routingslip.WithMetrics(metrics),
	)
	a.engine = routingslip.NewEngine(a.registry, opts...)
	return a, nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("store"); v != "" {
		cfg.Store.Kind = v
	}
	if v, _ := flags.GetString("state-dir"); v != "" {
		cfg.Store.Dir = v
	}
	if v, _ := flags.GetString("redis-addr"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v, _ := flags.GetString("publisher"); v != "" {
		cfg.Publisher.Kind = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func (a *app) serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "err", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

func (a *app) Close() error {
	var errs *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// printOutcome writes the terminal event of outcome to the command output.
func printOutcome(cmd *cobra.Command, outcome routingslip.Outcome) error {
	ev := outcome.Terminal()
	if ev == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "routing slip %s is %s\n", outcome.TrackingNumber, outcome.Status)
		return nil
	}
	data, err := routingslip.EncodeEvent(ev)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
