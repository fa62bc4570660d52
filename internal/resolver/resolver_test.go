package resolver

import (
	"testing"

	"github.com/nulpointcorp/uniproxy/internal/config"
	"github.com/nulpointcorp/uniproxy/internal/scheduler"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: []config.Provider{
			{
				Name:    "openai-main",
				BaseURL: "https://api.openai.com/v1",
				APIKeys: config.StringList{"sk-openai-1"},
				Model:   map[string]string{"gpt-4": "gpt-4-turbo"},
			},
			{
				Name:    "anthropic-main",
				BaseURL: "https://api.anthropic.com",
				APIKeys: config.StringList{"sk-ant-1"},
				Model:   map[string]string{"claude": "claude-3-5-sonnet-latest"},
			},
			{
				Name:    "openrouter-main",
				BaseURL: "https://openrouter.ai/api/v1",
				APIKeys: config.StringList{"sk-or-1"},
				Model:   map[string]string{"gpt-4": "openai/gpt-4-turbo", "claude": "anthropic/claude-3.5-sonnet"},
			},
		},
		APIKeys: []config.ApiKeyRecord{
			{API: "scoped-key", Role: "user", Model: []string{"openai-main/gpt-4"}},
			{API: "wildcard-key", Role: "user", Model: []string{"openrouter-main/*"}},
			{API: "bare-key", Role: "user", Model: []string{"gpt-4"}},
		},
	}
	cfg.BuildIndex()
	return cfg
}

func TestResolveScopedRule(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, scheduler.NewManager())

	cands, err := r.Resolve("scoped-key", "gpt-4", "/v1/chat/completions")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("scoped rule should resolve to exactly one candidate, got %d: %+v", len(cands), cands)
	}
	if cands[0].ProviderName != "openai-main" {
		t.Fatalf("expected openai-main, got %s", cands[0].ProviderName)
	}
}

func TestResolveWildcardRule(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, scheduler.NewManager())

	cands, err := r.Resolve("wildcard-key", "claude", "/v1/chat/completions")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(cands) != 1 || cands[0].ProviderName != "openrouter-main" {
		t.Fatalf("wildcard rule should resolve to openrouter-main, got %+v", cands)
	}
}

func TestResolveBareAliasMatchesAnyProvider(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, scheduler.NewManager())

	cands, err := r.Resolve("bare-key", "gpt-4", "/v1/chat/completions")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("bare alias should match both providers serving gpt-4, got %d: %+v", len(cands), cands)
	}
}

func TestResolveNoMatchingModel(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, scheduler.NewManager())

	_, err := r.Resolve("scoped-key", "claude", "/v1/chat/completions")
	if err == nil {
		t.Fatal("expected NoMatchingModel error")
	}
	if _, ok := err.(*NoMatchingModel); !ok {
		t.Fatalf("expected *NoMatchingModel, got %T", err)
	}
}

func TestVisibleModelsWildcard(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, scheduler.NewManager())

	models, err := r.VisibleModels("wildcard-key")
	if err != nil {
		t.Fatalf("VisibleModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected both aliases served by openrouter-main, got %v", models)
	}
}
