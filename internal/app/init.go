package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

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

// initCore builds the caller-auth, scheduling, resolution, rate-limiting
// and stats layers. None of these depend on outbound network access, so
// they never fail except on a programmer error (nil config).
func (a *App) initCore(_ context.Context) error {
	if a.cfg == nil {
		return fmt.Errorf("nil config")
	}

	a.auth = authz.New(a.cfg)
	a.sched = scheduler.NewManager()
	a.resolv = resolver.New(a.cfg, a.sched)
	a.limiter = ratelimit.New()

	a.recorder = stats.New(a.cfg.StatsFile, a.cfg.StatsSaveInterval)
	if err := a.recorder.Load(); err != nil {
		a.log.Warn("stats file not loaded", slog.String("error", err.Error()))
	}

	return nil
}

// initServices builds the request logger, the Vertex AI OAuth2 layer (only
// if a provider actually needs it), the translator registry, and the
// Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	reqLogger, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	var vertexAuth *translate.VertexAuth
	if needsVertexAuth(a.cfg) {
		a.tokenCache = tokencache.New(a.baseCtx)
		vertexAuth, err = translate.NewVertexAuth(ctx, a.tokenCache)
		if err != nil {
			return fmt.Errorf("vertex auth: %w", err)
		}
		a.vertexAuth = vertexAuth
		a.log.Info("vertex AI OAuth2 credentials detected")
	}

	a.registry = translate.NewRegistry(vertexAuth)

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	a.gw = proxy.New(proxy.Options{
		Config:      a.cfg,
		Auth:        a.auth,
		Resolver:    a.resolv,
		Registry:    a.registry,
		Limiter:     a.limiter,
		Recorder:    a.recorder,
		ReqLogger:   a.reqLogger,
		Metrics:     a.prom,
		CORSOrigins: a.cfg.CORSOrigins,
	})

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}

// needsVertexAuth reports whether any configured provider resolves to one
// of the Vertex engines, either via an explicit engine override or via its
// base URL pointing at the Vertex AI host.
func needsVertexAuth(cfg *config.Config) bool {
	for _, p := range cfg.Providers {
		switch p.Engine {
		case config.EngineVertex, config.EngineVertexClaude, config.EngineVertexGemini:
			return true
		}
		if strings.Contains(p.BaseURL, "aiplatform.googleapis.com") {
			return true
		}
	}
	return false
}
