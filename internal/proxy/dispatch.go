package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/uniproxy/internal/authz"
	"github.com/nulpointcorp/uniproxy/internal/config"
	"github.com/nulpointcorp/uniproxy/internal/logger"
	"github.com/nulpointcorp/uniproxy/internal/protocol"
	"github.com/nulpointcorp/uniproxy/internal/resolver"
	"github.com/nulpointcorp/uniproxy/internal/translate"
	"github.com/nulpointcorp/uniproxy/pkg/apierr"
)

const (
	defaultRateLimitCount  = 60
	defaultRateLimitWindow = 60 * time.Second
)

// handleChatCompletions serves POST /v1/chat/completions (and its
// /uni/v1/... mirror).
func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, "/v1/chat/completions", false)
}

// handleImageGenerations serves POST /v1/images/generations. Image
// generation is always a single non-streaming call, regardless of what the
// caller's body requests.
func (g *Gateway) handleImageGenerations(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, "/v1/images/generations", true)
}

// dispatch implements the Dispatch Loop (Component H): authenticate, rate
// limit, resolve candidates, then try each candidate in order, retrying on
// failure only while the caller's AUTO_RETRY preference allows it.
func (g *Gateway) dispatch(ctx *fasthttp.RequestCtx, endpoint string, forceNonStream bool) {
	token := authz.Token(ctx)
	rec, err := g.auth.Verify(token)
	if err != nil {
		writeAuthErr(ctx, err)
		return
	}

	clientIP := ctx.RemoteIP().String()
	limitCount, limitWindow := defaultRateLimitCount, defaultRateLimitWindow
	if rec.Preferences.RateLimit != "" {
		if n, w, perr := config.ParseRateLimit(rec.Preferences.RateLimit); perr == nil {
			limitCount, limitWindow = n, w
		}
	}
	if !g.limiter.Allow(clientIP+":"+token, limitCount, limitWindow) {
		if g.metrics != nil {
			g.metrics.RecordRateLimit("limited")
		}
		apierr.WriteRateLimit(ctx)
		return
	}
	if g.metrics != nil {
		g.metrics.RecordRateLimit("allowed")
	}

	var req protocol.ChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed JSON body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	req.Endpoint = endpoint
	if forceNonStream {
		req.Stream = false
	}

	candidates, err := g.resolver.Resolve(token, req.Model, endpoint)
	if err != nil {
		if nm, ok := err.(*resolver.NoMatchingModel); ok {
			apierr.WriteNoMatchingModel(ctx, nm.Model)
			return
		}
		apierr.Write(ctx, fasthttp.StatusInternalServerError, err.Error(), apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	n := len(candidates)
	autoRetry := rec.Preferences.AutoRetryEnabled()
	timeout := g.cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	var lastErr error
	// The dispatch loop runs n+1 iterations over n candidates (the first
	// candidate is retried once more at the end), matching the reference
	// implementation's documented behavior rather than a plain n-iteration loop.
	primary := candidates[0].ProviderName

	for i := 0; i <= n; i++ {
		cand := candidates[i%n]
		start := time.Now()
		if i > 0 && g.metrics != nil {
			g.metrics.RecordDispatchRetry(primary)
		}

		reqCtx, cancel := context.WithTimeout(context.Background(), timeout)
		ok, err := g.attempt(reqCtx, ctx, req, cand)
		cancel()

		elapsed := time.Since(start)
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		if g.metrics != nil {
			g.metrics.ObserveUpstreamAttempt(cand.ProviderName, string(cand.Engine), outcome, elapsed)
			if !ok {
				g.metrics.RecordError(cand.ProviderName, classifyError(err))
			}
		}

		if g.recorder != nil {
			g.recorder.RecordOutcome(cand.ProviderName, ok)
		}

		status := 200
		if !ok {
			status = 502
		}
		g.logAttempt(token, cand, req.Model, status, elapsed)

		if ok {
			return
		}

		lastErr = err
		slog.Warn("candidate failed",
			slog.String("provider", cand.ProviderName),
			slog.String("engine", string(cand.Engine)),
			slog.String("error", errString(err)),
		)

		if !autoRetry {
			break
		}
	}

	_ = lastErr
	if !autoRetry {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "current provider response failed", apierr.TypeServerError, apierr.CodeProviderError)
		return
	}
	if g.metrics != nil {
		g.metrics.RecordDispatchExhausted(primary)
	}
	apierr.WriteAllProvidersFailed(ctx)
}

// logAttempt emits one async request-log entry per dispatch-loop attempt,
// via the non-blocking batched logger so a slow log sink never adds
// latency to the caller's request.
func (g *Gateway) logAttempt(token string, cand protocol.Candidate, model string, status int, latency time.Duration) {
	if g.reqLogger == nil {
		return
	}
	g.reqLogger.Log(logger.RequestLog{
		ID:        uuid.New(),
		Provider:  cand.ProviderName,
		Model:     model,
		LatencyMs: uint16(min64(latency.Milliseconds(), 65535)),
		Status:    uint16(status),
		CreatedAt: time.Now(),
	})
	_ = token // reserved for a future per-caller log dimension
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// attempt performs one candidate's upstream call and writes the response
// directly to ctx on success. It returns ok=false (without having written
// anything to ctx) on any failure, so the caller can move on to the next
// candidate.
func (g *Gateway) attempt(reqCtx context.Context, ctx *fasthttp.RequestCtx, req protocol.ChatRequest, cand protocol.Candidate) (ok bool, err error) {
	translator, err := g.registry.For(cand.Engine)
	if err != nil {
		return false, err
	}

	built, err := translator.Build(req, cand)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, built.URL, bytes.NewReader(built.Body))
	if err != nil {
		return false, err
	}
	for k, v := range built.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return false, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(body))
	}

	if req.Stream {
		return true, g.streamResponse(ctx, translator, resp.Body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	parsed, err := translator.Parse(body)
	if err != nil {
		return false, err
	}

	if g.metrics != nil {
		g.metrics.AddTokens(cand.ProviderName, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	}

	writeNonStreamResponse(ctx, req, cand, parsed)
	return true, nil
}

// streamResponse re-frames the upstream SSE body into this gateway's own
// canonical event shape as it arrives.
func (g *Gateway) streamResponse(ctx *fasthttp.RequestCtx, translator translate.Translator, upstream io.Reader) error {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")

	id := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		scanner := bufio.NewScanner(upstream)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			payload := bytes.TrimSpace(line[len("data:"):])
			if len(payload) == 0 {
				continue
			}

			chunk, done, err := translator.ParseStreamEvent(payload)
			if err != nil {
				continue
			}

			envelope := map[string]any{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"choices": []map[string]any{{
					"index": 0,
					"delta": map[string]any{
						"content": chunk.DeltaContent,
					},
					"finish_reason": nullableString(chunk.FinishReason),
				}},
			}
			data, _ := json.Marshal(envelope)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()

			if done {
				break
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush()
	})
	return nil
}

func writeNonStreamResponse(ctx *fasthttp.RequestCtx, req protocol.ChatRequest, cand protocol.Candidate, resp protocol.ChatResponse) {
	if req.Endpoint == "/v1/images/generations" {
		ctx.SetContentType("application/json")
		ctx.SetBody(resp.Raw)
		return
	}

	envelope := map[string]any{
		"id":      "chatcmpl-" + uuid.New().String(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": resp.Content,
			},
			"finish_reason": nullableString(resp.FinishReason),
		}},
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}

	data, _ := json.Marshal(envelope)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)

	_ = cand // provider identity is only needed for stats/logging, already recorded by the caller
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// classifyError buckets an attempt error into a small, bounded label set
// suitable for a Prometheus label value (the raw error string is not, since
// it often embeds the upstream's response body).
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "upstream status 429"):
		return "rate_limited"
	case strings.Contains(msg, "upstream status 4"):
		return "client_error"
	case strings.Contains(msg, "upstream status 5"):
		return "server_error"
	case strings.Contains(msg, "context deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "building request"):
		return "translate_error"
	default:
		return "network_error"
	}
}

func writeAuthErr(ctx *fasthttp.RequestCtx, err error) {
	switch err.(type) {
	case authz.ErrMissing:
		apierr.WriteAuthMissing(ctx)
	case authz.ErrInvalid:
		apierr.WriteAuthInvalid(ctx)
	case authz.ErrForbidden:
		apierr.WritePermissionDenied(ctx)
	default:
		apierr.WriteAuthInvalid(ctx)
	}
}
