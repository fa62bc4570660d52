package proxy

import (
	"net/http"
	"time"

	"github.com/nulpointcorp/uniproxy/internal/authz"
	"github.com/nulpointcorp/uniproxy/internal/config"
	"github.com/nulpointcorp/uniproxy/internal/logger"
	"github.com/nulpointcorp/uniproxy/internal/metrics"
	"github.com/nulpointcorp/uniproxy/internal/ratelimit"
	"github.com/nulpointcorp/uniproxy/internal/resolver"
	"github.com/nulpointcorp/uniproxy/internal/stats"
	"github.com/nulpointcorp/uniproxy/internal/translate"
)

// Gateway wires the resolver, scheduler-backed resolver output, rate
// limiter, stats recorder, and engine translators into the HTTP surface.
type Gateway struct {
	cfg       *config.Config
	auth      *authz.Authenticator
	resolver  *resolver.Resolver
	registry  *translate.Registry
	limiter   *ratelimit.Limiter
	recorder  *stats.Recorder
	reqLogger *logger.Logger
	metrics   *metrics.Registry

	httpClient *http.Client

	corsOrigins []string
}

// Options bundles every dependency Gateway needs. All fields are required
// except Recorder, ReqLogger, Metrics and CORSOrigins.
type Options struct {
	Config      *config.Config
	Auth        *authz.Authenticator
	Resolver    *resolver.Resolver
	Registry    *translate.Registry
	Limiter     *ratelimit.Limiter
	Recorder    *stats.Recorder
	ReqLogger   *logger.Logger
	Metrics     *metrics.Registry
	CORSOrigins []string
}

// New builds a Gateway. The outbound client uses the stdlib net/http
// transport (rather than fasthttp's client) specifically because it
// streams response bodies as an io.Reader, which the SSE re-framer
// (streamResponse in dispatch.go) needs for true incremental delivery.
func New(opts Options) *Gateway {
	return &Gateway{
		cfg:         opts.Config,
		auth:        opts.Auth,
		resolver:    opts.Resolver,
		registry:    opts.Registry,
		limiter:     opts.Limiter,
		recorder:    opts.Recorder,
		reqLogger:   opts.ReqLogger,
		metrics:     opts.Metrics,
		corsOrigins: opts.CORSOrigins,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
				// No separate connect timeout is set; each attempt's deadline
				// is applied via the request context in dispatch.go.
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}
