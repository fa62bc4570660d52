package proxy

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/uniproxy/internal/authz"
	"github.com/nulpointcorp/uniproxy/pkg/apierr"
)

// handleModels serves GET /v1/models: the set of logical aliases the
// caller's token policy makes reachable.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	token := authz.Token(ctx)
	if _, err := g.auth.Verify(token); err != nil {
		writeAuthErr(ctx, err)
		return
	}

	models, err := g.resolver.VisibleModels(token)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, err.Error(), apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	data := make([]map[string]any, 0, len(models))
	for _, m := range models {
		data = append(data, map[string]any{"id": m, "object": "model"})
	}
	writeJSON(ctx, map[string]any{"object": "list", "data": data})
}

// handleGenerateAPIKey serves GET /generate-api-key: mints a new bearer
// token in the "sk-<36 random bytes, url-safe base64>" shape used
// throughout this gateway.
func (g *Gateway) handleGenerateAPIKey(ctx *fasthttp.RequestCtx) {
	token := authz.Token(ctx)
	if _, err := g.auth.VerifyAdmin(token); err != nil {
		writeAuthErr(ctx, err)
		return
	}

	key, err := generateAPIKey()
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to generate key", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	writeJSON(ctx, map[string]string{"api_key": key})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 36)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sk-" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// handleStats serves GET /stats: the admin-only request/channel counters
// snapshot.
func (g *Gateway) handleStats(ctx *fasthttp.RequestCtx) {
	token := authz.Token(ctx)
	if _, err := g.auth.VerifyAdmin(token); err != nil {
		writeAuthErr(ctx, err)
		return
	}
	if g.recorder == nil {
		writeJSON(ctx, map[string]any{})
		return
	}
	writeJSON(ctx, g.recorder.Snapshot())
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
