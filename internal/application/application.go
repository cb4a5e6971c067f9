package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
	"github.com/eugenenazirov/bundle-launcher/internal/bundler"
	"github.com/eugenenazirov/bundle-launcher/internal/config"
	"github.com/eugenenazirov/bundle-launcher/internal/devserver"
	"github.com/eugenenazirov/bundle-launcher/internal/storage"
	"github.com/eugenenazirov/bundle-launcher/internal/watch"
)

// App encapsulates the launcher dependencies: the resolved build
// configuration, the bundler engine, the build store and the dev server.
type App struct {
	cfg        config.Config
	configPath string
	engine     bundler.Engine
	storage    storage.Storage
	hub        *devserver.Hub
	logger     *zap.Logger
	server     *http.Server
	clock      func() time.Time

	mu       sync.RWMutex
	resolved *buildconfig.ResolvedConfiguration
	handler  *devserver.Handler
	router   http.Handler
}

// Option configures an App.
type Option func(*App)

// WithEngine replaces the esbuild engine, primarily for tests.
func WithEngine(engine bundler.Engine) Option {
	return func(a *App) {
		a.engine = engine
	}
}

// WithClock overrides the time source used for build records.
func WithClock(clock func() time.Time) Option {
	return func(a *App) {
		a.clock = clock
	}
}

// LoadBuildConfiguration reads the build configuration named by cfg and
// applies the launcher mode override. Errors are the typed buildconfig errors.
func LoadBuildConfiguration(cfg config.Config) (*buildconfig.BuildConfiguration, error) {
	build, err := buildconfig.Load(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cfg.Mode != "" {
		build.Mode = buildconfig.Mode(cfg.Mode)
	}
	return build, nil
}

// New loads and resolves the build configuration and wires the engine, build
// store and dev server around it.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	build, err := LoadBuildConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	resolved, err := buildconfig.Resolve(build, cfg.BaseDir)
	if err != nil {
		return nil, err
	}

	configPath, err := filepath.Abs(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	a := &App{
		cfg:        cfg,
		configPath: configPath,
		storage:    storage.NewMemoryStorage(),
		hub:        devserver.NewHub(),
		logger:     logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		resolved: resolved,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.engine == nil {
		a.engine = bundler.New(logger)
	}

	a.handler, a.router = a.newDevServer(resolved.DevServer)
	a.server = NewServer(cfg, resolved.DevServer, http.HandlerFunc(a.serveHTTP))
	a.server.RegisterOnShutdown(a.hub.Close)

	return a, nil
}

func (a *App) newDevServer(dev buildconfig.ResolvedDevServer) (*devserver.Handler, http.Handler) {
	handler := devserver.NewHandler(dev, a.storage, a.hub, devserver.WithClock(a.clock))
	router := devserver.NewRouter(handler, a.logger,
		devserver.WithLogging(a.cfg.EnableRequestLogging),
		devserver.WithRateLimit(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst),
	)
	return handler, router
}

// serveHTTP dispatches to the router of the current dev server settings, which
// a configuration reload may replace.
func (a *App) serveHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	router := a.router
	a.mu.RUnlock()
	router.ServeHTTP(w, r)
}

// NewServer creates an HTTP server for the dev server settings. The launcher
// host and port take precedence over the ones from the build configuration.
func NewServer(cfg config.Config, dev buildconfig.ResolvedDevServer, handler http.Handler) *http.Server {
	host := dev.Host
	if cfg.Host != "" {
		host = cfg.Host
	}
	port := dev.Port
	if cfg.Port != "" {
		port = cfg.PortNumber()
	}

	return &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Resolved returns the current resolved configuration.
func (a *App) Resolved() *buildconfig.ResolvedConfiguration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolved
}

// Handler returns the dev server HTTP handler.
func (a *App) Handler() http.Handler {
	return http.HandlerFunc(a.serveHTTP)
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Storage returns the build store.
func (a *App) Storage() storage.Storage {
	return a.storage
}

// Build runs one build of the current configuration and records the outcome.
func (a *App) Build(ctx context.Context) (*bundler.Report, error) {
	report, err := a.engine.Build(ctx, a.Resolved())
	if err != nil {
		a.storage.RecordFailure(err, a.clock())
		return nil, fmt.Errorf("build: %w", err)
	}
	a.storage.RecordSuccess(report, a.clock())
	return report, nil
}

// Serve builds once, then serves the output and rebuilds on source changes
// until ctx is cancelled. A failed build does not stop the server; its error
// is reported through the status endpoint.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.Build(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("initial build failed", zap.Error(err))
	}

	resolved := a.Resolved()
	watcher, err := watch.New(resolved.BaseDir, func(paths []string) {
		a.rebuild(ctx, paths)
	}, a.logger,
		watch.WithDebounceDelay(a.cfg.WatchDebounce),
		watch.WithSkipFunc(a.isOutputDir),
		watch.WithFiles(a.configPath),
	)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil && !errors.Is(err, watch.ErrWatcherClosed) {
			a.logger.Warn("close watcher", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dev server listening",
			zap.String("addr", a.server.Addr),
			zap.String("content_root", resolved.DevServer.ContentRoot),
			zap.Bool("live_reload", resolved.DevServer.LiveReload),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dev server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed", zap.Error(err))
			return a.server.Close()
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("watching sources", zap.String("root", watcher.Root()))
		return watcher.Watch(gctx)
	})

	return g.Wait()
}

// rebuild reacts to a batch of changed paths. A change to the build
// configuration file reloads it first; an invalid configuration keeps the
// previous one active.
func (a *App) rebuild(ctx context.Context, paths []string) {
	if lo.Contains(paths, a.configPath) {
		if err := a.reload(); err != nil {
			a.logger.Error("build configuration reload failed", zap.Error(err))
			a.storage.RecordFailure(err, a.clock())
			return
		}
		a.logger.Info("build configuration reloaded", zap.String("path", a.configPath))
	}

	if _, err := a.Build(ctx); err != nil {
		a.logger.Error("rebuild failed", zap.Strings("changed", paths), zap.Error(err))
		return
	}
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if n := handler.Reload(); n > 0 {
		a.logger.Debug("reload broadcast", zap.Int("clients", n))
	}
}

func (a *App) reload() error {
	build, err := LoadBuildConfiguration(a.cfg)
	if err != nil {
		return err
	}
	resolved, err := buildconfig.Resolve(build, a.cfg.BaseDir)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	previous := a.resolved.DevServer
	a.resolved = resolved
	if resolved.DevServer == previous {
		return nil
	}

	a.handler, a.router = a.newDevServer(resolved.DevServer)
	a.logger.Info("dev server settings reloaded",
		zap.String("content_root", resolved.DevServer.ContentRoot),
		zap.String("public_path", resolved.DevServer.PublicPath),
		zap.Bool("live_reload", resolved.DevServer.LiveReload),
	)
	if resolved.DevServer.Host != previous.Host || resolved.DevServer.Port != previous.Port {
		a.logger.Warn("dev server address changed; restart to listen on it",
			zap.String("addr", a.server.Addr))
	}
	return nil
}

// isOutputDir reports whether dir is the output directory of the current
// configuration.
func (a *App) isOutputDir(dir string) bool {
	return dir == a.Resolved().OutputPath
}
