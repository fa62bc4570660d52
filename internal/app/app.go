// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initCore      — scheduler, resolver, rate limiter, stats recorder
//  2. initServices  — request logger, Vertex OAuth2 + token cache, translator registry, metrics
//  3. initGateway   — proxy + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/uniproxy/internal/authz"
	"github.com/nulpointcorp/uniproxy/internal/config"
	"github.com/nulpointcorp/uniproxy/internal/logger"
	"github.com/nulpointcorp/uniproxy/internal/metrics"
	"github.com/nulpointcorp/uniproxy/internal/proxy"
	"github.com/nulpointcorp/uniproxy/internal/ratelimit"
	"github.com/nulpointcorp/uniproxy/internal/resolver"
	"github.com/nulpointcorp/uniproxy/internal/scheduler"
	"github.com/nulpointcorp/uniproxy/internal/stats"
	"github.com/nulpointcorp/uniproxy/internal/tokencache"
	"github.com/nulpointcorp/uniproxy/internal/translate"
)

const statsSaveTick = 30 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	auth     *authz.Authenticator
	sched    *scheduler.Manager
	resolv   *resolver.Resolver
	limiter  *ratelimit.Limiter
	recorder *stats.Recorder

	reqLogger  *logger.Logger
	tokenCache *tokencache.Cache
	vertexAuth *translate.VertexAuth
	registry   *translate.Registry
	prom       *metrics.Registry

	mgmt *proxy.ManagementRoutes
	gw   *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"core", a.initCore},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and the stats autosave loop, and blocks until
// ctx is cancelled or the server returns an error. It closes the app
// gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Int("providers", len(a.cfg.Providers)),
		slog.Int("api_keys", len(a.cfg.APIKeys)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		a.runStatsAutosave(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// runStatsAutosave periodically flushes the stats recorder to disk and
// prunes arrival timestamps older than the 24h retention window.
func (a *App) runStatsAutosave(ctx context.Context) {
	if a.recorder == nil {
		return
	}
	ticker := time.NewTicker(statsSaveTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.recorder.CleanupStale(24 * time.Hour)
			if err := a.recorder.MaybeSave(); err != nil {
				a.log.Warn("stats autosave failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close saves the stats snapshot, then closes the request logger and the
// token cache. Safe to call more than once in sequence; concurrent calls are
// not synchronized with each other.
func (a *App) Close() {
	if a.recorder != nil {
		if err := a.recorder.Save(); err != nil {
			a.log.Error("stats save error", slog.String("error", err.Error()))
		}
	}
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.tokenCache != nil {
		a.tokenCache.Close()
		a.tokenCache = nil
	}
}
