package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kochabx/sessionkeeper/app"
	"github.com/kochabx/sessionkeeper/cache"
	"github.com/kochabx/sessionkeeper/config"
	"github.com/kochabx/sessionkeeper/core/auth/oidc"
	"github.com/kochabx/sessionkeeper/core/auth/token"
	"github.com/kochabx/sessionkeeper/core/rate"
	"github.com/kochabx/sessionkeeper/engine"
	"github.com/kochabx/sessionkeeper/log"
	"github.com/kochabx/sessionkeeper/metrics"
	middleware "github.com/kochabx/sessionkeeper/middleware/http"
	"github.com/kochabx/sessionkeeper/session"
	sessionredis "github.com/kochabx/sessionkeeper/session/redis"
	"github.com/kochabx/sessionkeeper/store/redis"
	thttp "github.com/kochabx/sessionkeeper/transport/http"
	"github.com/kochabx/sessionkeeper/web"
)

// defaultCategories are served when no domain API is configured.
var defaultCategories = web.StaticCategories{
	{ID: "salary", Name: "Salary", Kind: cache.KindIncome},
	{ID: "groceries", Name: "Groceries", Kind: cache.KindExpense},
	{ID: "rent", Name: "Rent", Kind: cache.KindExpense},
}

func serve(ctx context.Context, file string) error {
	settings, _, err := config.LoadSettings(file)
	if err != nil {
		return err
	}

	logger, err := log.NewFromConfig(settings.Log)
	if err != nil {
		return err
	}
	log.SetGlobalLogger(logger)
	if settings.Log.Level != "debug" && settings.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	rt, err := build(ctx, settings, logger, nil)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		_ = logger.Close()
		return err
	}
	return rt.app.Start()
}

type instance struct {
	app     *app.Application
	server  *thttp.Server
	manager *engine.Manager
}

// build wires the server described by s. hc, when set, is used for calls to
// the identity provider.
func build(ctx context.Context, s *config.Settings, logger *log.Logger, hc *http.Client) (*instance, error) {
	m := metrics.Noop()
	registry := metrics.NewRegistry()
	if s.Metrics.Enabled {
		m = metrics.New(registry)
	}

	inspector := token.NewInspector(
		token.WithAccessThreshold(s.Session.AccessThreshold),
		token.WithRefreshThreshold(s.Session.RefreshThreshold),
	)

	oidcOpts := []oidc.Option{oidc.WithInspector(inspector), oidc.WithLogger(logger)}
	if hc != nil {
		oidcOpts = append(oidcOpts, oidc.WithHTTPClient(hc))
	}
	provider, err := oidc.New(ctx, &s.Provider, oidcOpts...)
	if err != nil {
		return nil, err
	}

	closers := []app.Option{}
	serverOpts := []thttp.Option{
		thttp.WithLogger(logger),
		thttp.WithMeta(thttp.Meta{Name: "sessionkeeper"}),
		thttp.WithMetricsOptions(thttp.MetricsOption{Enabled: s.Metrics.Enabled, Path: s.Metrics.Path, Registry: registry}),
		thttp.WithHealthOptions(thttp.HealthOption{Enabled: true, Path: s.Metrics.HealthPath}),
	}

	var (
		store   session.Store
		limiter rate.Limiter
	)
	switch s.Session.Store {
	case config.StoreRedis:
		client, err := redis.New(ctx, &s.Redis, redis.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		store = sessionredis.New(client, inspector, sessionredis.WithPrefix(s.Session.KeyPrefix))
		limiter = rate.NewSlidingWindowLimiter(client, s.Session.KeyPrefix+":activity", s.Activity.RateLimit, nil)
		serverOpts = append(serverOpts, thttp.WithHealthCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		closers = append(closers, app.WithClose("redis", func(context.Context) error { return client.Close() }, 0))
	default:
		store = session.NewMemoryStore()
		limiter = rate.NewLocalLimiter(s.Activity.RateLimit, nil)
	}

	verifier := session.NewVerifier(store, inspector, provider,
		session.WithLogger(logger),
		session.WithMetrics(m),
	)

	manager, err := engine.NewManager(verifier, s.Pool.Size,
		engine.WithKeepAlive(&s.KeepAlive),
		engine.WithIdleTimeout(s.Activity.IdleTimeout),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	var loader web.CategoryLoader = defaultCategories
	if s.DomainAPI.BaseURL != "" {
		loader = &web.DomainAPI{BaseURL: s.DomainAPI.BaseURL, Verifier: verifier}
	}
	handlers, err := web.New(verifier, provider, manager,
		web.WithCookie(s.Cookie),
		web.WithCategories(cache.NewCategories(), loader),
		web.WithActivityLimiter(limiter),
		web.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(middleware.RecoveryConfig{StackTrace: true, Logger: logger}),
		middleware.Logger(middleware.LoggerConfig{Logger: logger, SkipPaths: []string{s.Metrics.Path, s.Metrics.HealthPath}}),
		middleware.ErrorBoundary(middleware.BoundaryConfig{
			LoginPath:  s.Gate.LoginPath,
			CookieName: s.Cookie.Name,
			Terminator: verifier,
			Logger:     logger,
		}),
		middleware.AccessGate(middleware.GateConfig{
			ProtectedPaths: s.Gate.Protected,
			PublicPaths:    s.Gate.Public,
			LoginPath:      s.Gate.LoginPath,
			SessionID:      middleware.CookieSessionID(s.Cookie.Name),
			Verifier:       verifier,
			Logger:         logger,
		}),
	)
	handlers.Register(router)

	server := thttp.NewServer(s.Server.Addr, router, serverOpts...)

	opts := []app.Option{
		app.WithServer(server),
		app.WithShutdownTimeout(s.Server.ShutdownTimeout),
		app.WithLogger(logger),
		app.WithClose("engine", manager.Shutdown, s.Server.ShutdownTimeout),
	}
	opts = append(opts, closers...)
	opts = append(opts, app.WithClose("logger", func(context.Context) error { return logger.Close() }, 0))
	if ctx != nil {
		opts = append(opts, app.WithContext(ctx))
	}
	return &instance{app: app.New(opts...), server: server, manager: manager}, nil
}
