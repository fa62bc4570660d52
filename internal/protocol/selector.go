package protocol

import "strings"

// Engine identifies which wire protocol a candidate must be translated
// through. It is distinct from Provider.Name: several providers with
// different base URLs can all speak the same engine (e.g. most
// OpenAI-compatible third-party hosts share EngineGPT).
type Engine string

const (
	EngineGPT          Engine = "gpt"
	EngineClaude       Engine = "claude"
	EngineGemini       Engine = "gemini"
	EngineVertex       Engine = "vertex"
	EngineVertexClaude Engine = "vertex-claude"
	EngineVertexGemini Engine = "vertex-gemini"
	EngineOpenRouter   Engine = "openrouter"
	EngineDalle        Engine = "dalle"
)

// ProviderInfo is the subset of a configured provider the selector needs.
// Kept narrow and dependency-free so internal/config can depend on this
// package without a cycle.
type ProviderInfo struct {
	BaseURL       string
	EngineOverride Engine // empty if unset
}

// SelectEngine runs the ordered engine-inference waterfall: the
// images.generations endpoint forces dalle regardless of anything else, then
// an explicit override wins over inference, then the base URL's host/path
// shape is inspected, with Vertex AI further refined by the upstream model
// id. The last rule is a permissive openrouter/gpt fallback so every
// provider resolves to *some* engine.
func SelectEngine(endpoint string, prov ProviderInfo, upstreamModel string) Engine {
	// Rule 1: the images.generations endpoint always forces dalle.
	if endpoint == "/v1/images/generations" {
		return EngineDalle
	}

	// Rule 2: an explicit per-provider engine override dominates everything
	// except rule 1.
	if prov.EngineOverride != "" {
		return refineVertex(prov.EngineOverride, upstreamModel)
	}

	host := hostOf(prov.BaseURL)

	// Rule 3: Google AI Studio Gemini.
	if strings.Contains(host, "generativelanguage.googleapis.com") {
		return EngineGemini
	}

	// Rule 4: Vertex AI, refined by the upstream model id's vendor prefix.
	if strings.Contains(host, "aiplatform.googleapis.com") {
		return refineVertex(EngineVertex, upstreamModel)
	}

	// Rule 5: native Anthropic.
	if strings.Contains(host, "api.anthropic.com") || strings.HasSuffix(prov.BaseURL, "/v1/messages") {
		return EngineClaude
	}

	// Rule 6: OpenRouter.
	if strings.Contains(host, "openrouter.ai") {
		return EngineOpenRouter
	}

	// Rule 7: an upstream model id naming none of the major first-party
	// vendors is assumed to be an aggregator slug (e.g. "mistral-large",
	// "llama-3", "command-r") and falls back to openrouter.
	if !containsAny(upstreamModel, "claude", "gpt", "gemini") {
		return EngineOpenRouter
	}

	// Rule 8: default to the OpenAI-compatible chat completions wire format.
	return EngineGPT
}

// containsAny reports whether s contains any of the given substrings,
// case-insensitively.
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// refineVertex narrows a bare "vertex" classification to vertex-claude or
// vertex-gemini based on the upstream model id, leaving any other engine
// untouched. A Vertex model id naming neither vendor is left as the bare
// vertex engine rather than guessed at.
func refineVertex(e Engine, upstreamModel string) Engine {
	if e != EngineVertex {
		return e
	}
	m := strings.ToLower(upstreamModel)
	switch {
	case strings.Contains(m, "claude"):
		return EngineVertexClaude
	case strings.Contains(m, "gemini"):
		return EngineVertexGemini
	default:
		return EngineVertex
	}
}

func hostOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
