package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/uniproxy/internal/authz"
	"github.com/nulpointcorp/uniproxy/internal/config"
	"github.com/nulpointcorp/uniproxy/internal/ratelimit"
	"github.com/nulpointcorp/uniproxy/internal/resolver"
	"github.com/nulpointcorp/uniproxy/internal/scheduler"
	"github.com/nulpointcorp/uniproxy/internal/translate"
)

const chatCompletionOK = `{
	"id": "chatcmpl-test",
	"object": "chat.completion",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
}`

// testGateway builds a Gateway wired with two providers (primary, backup)
// pointing at the given test servers, plus a caller token that can reach
// both under the model alias "gpt-4".
func testGateway(t *testing.T, primaryURL, backupURL string, autoRetry bool) (*Gateway, string) {
	t.Helper()

	autoRetryPtr := &autoRetry
	cfg := &config.Config{
		Timeout: 0, // falls back to the dispatch loop's own default
		Providers: []config.Provider{
			{
				Name:    "primary",
				BaseURL: primaryURL,
				APIKeys: config.StringList{"sk-primary"},
				Model:   map[string]string{"gpt-4": "gpt-4-turbo"},
			},
			{
				Name:    "backup",
				BaseURL: backupURL,
				APIKeys: config.StringList{"sk-backup"},
				Model:   map[string]string{"gpt-4": "gpt-4-turbo"},
			},
		},
		APIKeys: []config.ApiKeyRecord{
			{
				API:   "sk-caller",
				Role:  "user",
				Model: []string{"gpt-4"},
				Preferences: config.Preferences{
					AutoRetry: autoRetryPtr,
				},
			},
		},
	}
	cfg.BuildIndex()

	sched := scheduler.NewManager()
	reg := translate.NewRegistry(nil)

	gw := New(Options{
		Config:   cfg,
		Auth:     authz.New(cfg),
		Resolver: resolver.New(cfg, sched),
		Registry: reg,
		Limiter:  ratelimit.New(),
	})

	return gw, "sk-caller"
}

func newChatRequest(token string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetRequestURI("/v1/chat/completions")
	ctx.Request.Header.Set("Authorization", "Bearer "+token)
	ctx.Request.Header.SetContentType("application/json")
	ctx.Request.SetBody([]byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	return ctx
}

// S1: the primary candidate succeeds on the first attempt; no failover.
func TestDispatchFirstCandidateSucceeds(t *testing.T) {
	var primaryHits, backupHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionOK))
	}))
	defer primary.Close()
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits++
		w.Write([]byte(chatCompletionOK))
	}))
	defer backup.Close()

	gw, token := testGateway(t, primary.URL, backup.URL, true)
	ctx := newChatRequest(token)
	gw.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if primaryHits != 1 || backupHits != 0 {
		t.Fatalf("expected exactly one primary hit and no backup hit, got primary=%d backup=%d", primaryHits, backupHits)
	}
	if !strings.Contains(string(ctx.Response.Body()), "hello there") {
		t.Fatalf("expected translated content in response, got %s", ctx.Response.Body())
	}
}

// S3: the primary candidate fails and AUTO_RETRY is enabled, so the backup
// candidate is tried and its success is returned to the caller.
func TestDispatchFailsOverToBackupWhenAutoRetryEnabled(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer primary.Close()
	var backupHits int
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits++
		w.Write([]byte(chatCompletionOK))
	}))
	defer backup.Close()

	gw, token := testGateway(t, primary.URL, backup.URL, true)
	ctx := newChatRequest(token)
	gw.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200 after failover, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if backupHits != 1 {
		t.Fatalf("expected exactly one backup hit, got %d", backupHits)
	}
}

// S4: AUTO_RETRY disabled means the loop stops after the first failure,
// never reaching the backup candidate.
func TestDispatchStopsAfterFirstFailureWhenAutoRetryDisabled(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer primary.Close()
	var backupHits int
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits++
		w.Write([]byte(chatCompletionOK))
	}))
	defer backup.Close()

	gw, token := testGateway(t, primary.URL, backup.URL, false)
	ctx := newChatRequest(token)
	gw.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() == fasthttp.StatusOK {
		t.Fatalf("expected a failure response, got 200: %s", ctx.Response.Body())
	}
	if backupHits != 0 {
		t.Fatalf("backup must not be tried when AUTO_RETRY is disabled, got %d hits", backupHits)
	}
}

// S8: every candidate fails, and the n+1-bounded loop revisits the first
// candidate once more before giving up.
func TestDispatchAllProvidersFailedRevisitsFirstCandidate(t *testing.T) {
	var primaryHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer primary.Close()
	var backupHits int
	backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupHits++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer backup.Close()

	gw, token := testGateway(t, primary.URL, backup.URL, true)
	ctx := newChatRequest(token)
	gw.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() == fasthttp.StatusOK {
		t.Fatalf("expected a failure response when every candidate fails, got 200")
	}
	// n=2 candidates, n+1=3 total attempts: primary, backup, primary again.
	if primaryHits != 2 {
		t.Fatalf("expected the first candidate to be retried once more at loop end, got %d primary hits", primaryHits)
	}
	if backupHits != 1 {
		t.Fatalf("expected exactly one backup hit, got %d", backupHits)
	}
}
