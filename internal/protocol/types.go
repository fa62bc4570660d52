// Package protocol defines the canonical, engine-agnostic request/response
// shapes that flow through the dispatch loop, and the protocol selector
// that decides which wire engine a candidate should be translated through.
package protocol

import "time"

// Message is one canonical chat turn. Role follows OpenAI convention:
// "system", "developer", "user", or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the canonical, inbound-schema-decoded representation of an
// /v1/chat/completions (or /v1/images/generations) call, independent of
// whichever upstream engine ultimately serves it.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages,omitempty"`
	Prompt      string    `json:"prompt,omitempty"` // images.generations
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	N           *int      `json:"n,omitempty"`   // images.generations
	Size        string    `json:"size,omitempty"` // images.generations

	// Endpoint distinguishes the inbound route, since it forces engine
	// selection independent of the model name (images.generations → dalle).
	Endpoint string `json:"-"`
}

// Usage is a token/byte accounting summary, reported best-effort —
// translators fill in whatever their upstream actually returns.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the canonical non-streaming result of a dispatch.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	Raw          []byte // the exact upstream body, passed through verbatim for images.generations
}

// StreamChunk is one canonical SSE delta, re-framed from whatever shape the
// upstream engine emits.
type StreamChunk struct {
	DeltaContent string
	FinishReason string
	Done         bool
}

// StatusCoder is implemented by translator errors that carry an upstream
// HTTP status, so the dispatch loop and apierr layer can classify failures
// without engine-specific type assertions.
type StatusCoder interface {
	error
	HTTPStatus() int
}

// Candidate is one resolved (provider, key) pairing the dispatch loop may
// attempt for a single logical request.
type Candidate struct {
	ProviderName  string
	Engine        Engine
	BaseURL       string
	APIKey        string
	UpstreamModel string
	Extra         map[string]string
}

// Attempt records the outcome of one dispatch-loop iteration, for stats
// and logging.
type Attempt struct {
	Candidate Candidate
	Started   time.Time
	Err       error
	Status    int
}
