package proxy

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// registered alongside the proxy routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080"). Pass nil for mgmt to
// start without management routes.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
// Every route registered below is also mounted under the /uni prefix
// (/uni/v1/..., /uni/generate-api-key, /uni/stats) as a legacy alias for the
// same handler.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	r := router.New()

	register := func(method, path string, h RouteHandler) {
		switch method {
		case fasthttp.MethodGet:
			r.GET(path, h)
			r.GET("/uni"+path, h)
		case fasthttp.MethodPost:
			r.POST(path, h)
			r.POST("/uni"+path, h)
		}
	}

	register(fasthttp.MethodPost, "/v1/chat/completions", g.handleChatCompletions)
	register(fasthttp.MethodPost, "/v1/images/generations", g.handleImageGenerations)
	register(fasthttp.MethodGet, "/v1/models", g.handleModels)
	register(fasthttp.MethodGet, "/generate-api-key", g.handleGenerateAPIKey)
	register(fasthttp.MethodGet, "/stats", g.handleStats)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		g.metricsMiddleware,
		g.statsMiddleware,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}
