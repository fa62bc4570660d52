// Package translate implements the per-engine request/response translators
// (Components F and G): building a raw (url, headers, body) upstream call
// from a canonical request, and parsing a raw upstream response or SSE
// stream back into the canonical shape.
package translate

import (
	"fmt"

	"github.com/nulpointcorp/uniproxy/internal/protocol"
)

// BuildResult is everything the dispatch loop needs to perform the raw
// upstream HTTP call itself — translators never make the call.
type BuildResult struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// Translator builds and parses the wire format for one engine.
type Translator interface {
	// Build constructs the upstream call for a resolved candidate.
	Build(req protocol.ChatRequest, cand protocol.Candidate) (BuildResult, error)

	// Parse decodes a complete, non-streaming upstream response body.
	Parse(body []byte) (protocol.ChatResponse, error)

	// ParseStreamEvent decodes one engine-native SSE event payload (the
	// bytes after "data: ", already trimmed) into a canonical chunk. done
	// is true once the engine's own terminal sentinel is observed.
	ParseStreamEvent(payload []byte) (chunk protocol.StreamChunk, done bool, err error)
}

// Registry resolves an Engine to its Translator.
type Registry struct {
	translators map[protocol.Engine]Translator
}

// NewRegistry builds the standard set of translators. vertex may be nil if
// no Vertex AI provider is configured — Build calls for vertex-* engines
// then fail with a clear error instead of a nil pointer panic.
func NewRegistry(vertex *VertexAuth) *Registry {
	r := &Registry{translators: make(map[protocol.Engine]Translator, 8)}

	openAICompat := &OpenAITranslator{}
	r.translators[protocol.EngineGPT] = openAICompat
	r.translators[protocol.EngineOpenRouter] = openAICompat

	r.translators[protocol.EngineClaude] = &ClaudeTranslator{}
	r.translators[protocol.EngineGemini] = &GeminiTranslator{}
	r.translators[protocol.EngineDalle] = &DalleTranslator{}

	r.translators[protocol.EngineVertexClaude] = &VertexClaudeTranslator{auth: vertex}
	vertexGemini := &VertexGeminiTranslator{auth: vertex}
	r.translators[protocol.EngineVertexGemini] = vertexGemini
	// A Vertex model id naming neither claude nor gemini (protocol.refineVertex
	// leaves it as the bare vertex engine) still needs a concrete wire format;
	// Gemini's is Vertex's native request shape, so it is the fallback here.
	r.translators[protocol.EngineVertex] = vertexGemini

	return r
}

// For returns the translator for engine, or an error if none is registered.
func (r *Registry) For(engine protocol.Engine) (Translator, error) {
	t, ok := r.translators[engine]
	if !ok {
		return nil, fmt.Errorf("translate: no translator registered for engine %q", engine)
	}
	return t, nil
}

// mergeExtraHeaders copies a provider's free-form Extra map into headers,
// the escape hatch for provider-specific headers the core data model
// doesn't name (organization IDs, beta feature flags, and similar).
func mergeExtraHeaders(headers map[string]string, extra map[string]string) {
	for k, v := range extra {
		headers[k] = v
	}
}
