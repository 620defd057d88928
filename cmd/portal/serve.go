package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/activity/natssink"
	"github.com/goliatone/go-authstate/config"
	"github.com/goliatone/go-authstate/middleware/csrf"
	"github.com/goliatone/go-authstate/provider/gotrue"
	"github.com/goliatone/go-authstate/provider/local"
	"github.com/goliatone/go-authstate/repository"
	"github.com/goliatone/go-authstate/telemetry"
	"github.com/goliatone/go-authstate/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type autoRefresher interface {
	StartAutoRefresh(ctx context.Context, interval, margin time.Duration) func()
}

// backend is the provider chosen by configuration with its profile store
type backend struct {
	provider  authstate.AuthProvider
	refresher autoRefresher
	profiles  authstate.ProfileStore
	closers   []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger authstate.Logger) (*backend, error) {
	switch cfg.Auth.Provider {
	case config.ProviderGoTrue:
		gcfg := gotrue.Config{URL: cfg.GoTrue.URL, AnonKey: cfg.GoTrue.AnonKey}
		provider := gotrue.New(gcfg).WithLogger(logger)
		b := &backend{provider: provider, refresher: provider}

		switch {
		case cfg.GoTrue.JWKSURL != "":
			verifier, err := gotrue.NewJWKSVerifier(cfg.GoTrue.JWKSURL, logger)
			if err != nil {
				return nil, err
			}
			provider.WithVerifier(verifier.WithAudience(cfg.GoTrue.Audience))
			b.closers = append(b.closers, verifier.Close)
		case cfg.GoTrue.JWTSecret != "":
			provider.WithVerifier(gotrue.NewHMACVerifier(cfg.GoTrue.JWTSecret).WithAudience(cfg.GoTrue.Audience))
		}

		b.profiles = gotrue.NewProfileStore(gcfg, provider).WithTable(cfg.GoTrue.ProfileTable)
		return b, nil

	default:
		db, err := repository.Open(cfg.Persistence.Driver, cfg.Persistence.DSN)
		if err != nil {
			return nil, err
		}
		if err := repository.Migrate(ctx, db, local.Models()...); err != nil {
			db.Close()
			return nil, err
		}

		provider := local.NewProvider(db, cfg).WithLogger(logger)
		return &backend{
			provider:  provider,
			refresher: provider,
			profiles:  repository.NewProfileRepository(db),
			closers:   []func(){func() { db.Close() }},
		}, nil
	}
}

func newResolver(cfg *config.Config, profiles authstate.ProfileStore, recorder authstate.Recorder, logger authstate.Logger) authstate.ProfileResolver {
	if cfg.Profile.Strategy == config.StrategyMetadata {
		return authstate.NewMetadataResolver().WithLogger(logger)
	}
	return authstate.NewLookupResolver(profiles).
		WithRetryPolicy(cfg.RetryPolicy()).
		WithFallbackPolicy(cfg.FallbackPolicy()).
		WithRecorder(recorder).
		WithLogger(logger)
}

func serve(ctx context.Context, cfg *config.Config, logger authstate.Logger) error {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	var sink authstate.ActivitySink
	if cfg.NATS.Enabled {
		conn, err := natssink.Connect(cfg.NATS.URL, cfg.App.Name, logger)
		if err != nil {
			return err
		}
		defer conn.Drain()
		sink = natssink.New(conn).WithSubjectPrefix(cfg.NATS.SubjectPrefix)
	}

	store := authstate.NewStore()
	listener := authstate.NewListener(b.provider, newResolver(cfg, b.profiles, metrics, logger), store).
		WithLogger(logger).
		WithRecorder(metrics).
		WithActivitySink(sink)

	stopListener, err := listener.Start(ctx)
	if err != nil {
		return err
	}
	defer stopListener()

	stopRefresh := b.refresher.StartAutoRefresh(ctx, cfg.Auth.AutoRefreshInterval, cfg.Auth.AutoRefreshMargin)
	defer stopRefresh()

	client := authstate.NewClient(b.provider, store).
		WithLogger(logger).
		WithRecorder(metrics).
		WithActivitySink(sink)

	opts := []web.ControllerOption{
		web.WithLogger(logger),
		web.WithDebug(cfg.App.Debug),
		web.WithSecureCookies(!cfg.App.Debug),
		web.WithCSRF(csrf.Config{SecureKey: []byte(cfg.App.CSRFKey)}),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, web.WithMetricsHandler(metrics.Handler()))
	}
	controller := web.NewController(client, store, opts...)
	if cfg.Metrics.Path != "" {
		controller.Routes.Metrics = cfg.Metrics.Path
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	controller.Register(app)

	errc := make(chan error, 1)
	go func() {
		logger.Info("%s listening on %s (provider=%s, strategy=%s)", cfg.App.Name, cfg.App.Addr, cfg.Auth.Provider, cfg.Profile.Strategy)
		logger.Warn("%s holds one shared session for every request, keep %s local", cfg.App.Name, cfg.App.Addr)
		errc <- app.Listen(cfg.App.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logger.Info("%s shutting down", cfg.App.Name)
		return app.ShutdownWithTimeout(5 * time.Second)
	}
}
