// Package app wires the Fish Tank subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New builds the session store,
// negotiation engine, voice coach and routes from the config, Run serves
// until its context is done, and Shutdown releases everything in order.
//
// For testing, inject doubles via functional options ([WithStore],
// [WithMetrics]). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fishtank/internal/analysis"
	"github.com/MrWong99/fishtank/internal/api"
	"github.com/MrWong99/fishtank/internal/coach"
	"github.com/MrWong99/fishtank/internal/config"
	"github.com/MrWong99/fishtank/internal/health"
	"github.com/MrWong99/fishtank/internal/negotiation"
	"github.com/MrWong99/fishtank/internal/observe"
	"github.com/MrWong99/fishtank/internal/sessionstore"
)

// readHeaderTimeout bounds reading request headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	level     *slog.LevelVar
	metrics   *observe.Metrics

	store    sessionstore.Store
	engine   *negotiation.Engine
	coach    *coach.Coach
	checkers []health.Checker
	health   *health.Handler
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s sessionstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets hot reloads adjust lv. main passes the LevelVar its log
// handler was built with.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// New creates an App by wiring all subsystems together. providers comes from
// [BuildProviders]; its LLM is required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(slogLevel(cfg.Server.LogLevel))

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	settings, err := a.buildSettings(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: negotiation settings: %w", err)
	}
	a.engine, err = negotiation.New(a.store, settings, negotiation.WithMetrics(a.metrics))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	if err := a.initCoach(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init coach: %w", err)
	}

	a.checkers = append(a.checkers, providerChecks(providers)...)
	a.initRoutes()
	return a, nil
}

// initStore opens the configured session store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StorePostgres:
		pg, err := sessionstore.NewPostgres(ctx, sc.PostgresDSN,
			sessionstore.WithPostgresTTL(sc.TTL),
			sessionstore.WithPostgresSweepInterval(sc.SweepInterval),
			sessionstore.WithPostgresOnCount(a.countSessions),
		)
		if err != nil {
			return err
		}
		a.store = pg
		a.checkers = append(a.checkers, health.PingCheck("store", pg))
	default:
		a.store = sessionstore.NewMemory(
			sessionstore.WithTTL(sc.TTL),
			sessionstore.WithSweepInterval(sc.SweepInterval),
			sessionstore.WithOnCount(a.countSessions),
		)
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("session store ready", "backend", sc.Backend, "ttl", sc.TTL)
	return nil
}

// countSessions keeps the session gauge in step with the store.
func (a *App) countSessions(delta int) {
	a.metrics.ActiveSessions.Add(context.Background(), int64(delta))
}

// initCoach builds the voice coach when an STT provider is configured.
func (a *App) initCoach() error {
	if a.providers.STT == nil {
		slog.Info("voice coach disabled; no stt provider configured")
		return nil
	}
	cc := a.cfg.Coach
	var cache *coach.Cache
	if cc.CacheDir != "" {
		var err error
		if cache, err = coach.NewCache(cc.CacheDir); err != nil {
			return err
		}
	}
	reviewer := analysis.New(a.providers.LLM,
		analysis.WithCallTimeout(a.cfg.Negotiation.CallTimeout),
		analysis.WithMetrics(a.metrics),
	)
	a.coach = coach.New(a.providers.STT, reviewer, cache,
		coach.WithLanguage(cc.Language),
		coach.WithMetrics(a.metrics),
	)
	slog.Info("voice coach ready", "cache_dir", cc.CacheDir, "language", cc.Language)
	return nil
}

// initRoutes mounts the API, health and metrics endpoints behind the
// observability middleware.
func (a *App) initRoutes() {
	apiOpts := []api.Option{api.WithMaxUploadBytes(a.cfg.Coach.MaxUploadBytes)}
	if a.coach != nil {
		apiOpts = append(apiOpts, api.WithCoach(a.coach))
	}

	mux := http.NewServeMux()
	api.New(a.engine, apiOpts...).Register(mux)
	a.health = health.New(a.checkers...)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Engine returns the negotiation engine.
func (a *App) Engine() *negotiation.Engine { return a.engine }

// Run listens on the configured address and serves until ctx is done, then
// drains in-flight requests for up to the shutdown timeout. A clean stop
// returns nil.
func (a *App) Run(ctx context.Context) error {
	sc := a.cfg.Server
	ln, err := net.Listen("tcp", sc.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", sc.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       sc.ReadTimeout,
		WriteTimeout:      sc.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	slog.Info("app running", "addr", ln.Addr().String())
	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases what New opened before it failed.
func (a *App) close() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}

// slogLevel maps a config log level to its slog level.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
