package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/nulpointcorp/uniproxy/internal/protocol"
)

// geminiRequest mirrors the Gemini generateContent REST body, reusing the
// SDK's own Content/Part types for the message shape while keeping the
// generation-config fields this gateway actually exercises as plain
// top-level fields, since the gateway builds this JSON by hand rather than
// going through the SDK's client transport.
type geminiRequest struct {
	Contents          []*genai.Content `json:"contents"`
	SystemInstruction *genai.Content   `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationCfg   `json:"generationConfig,omitempty"`
}

type generationCfg struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int32    `json:"maxOutputTokens,omitempty"`
}

func buildGeminiBody(req protocol.ChatRequest) ([]byte, error) {
	var contents []*genai.Content
	var system *genai.Content

	for _, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			if system == nil {
				system = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			} else {
				system.Parts = append(system.Parts, &genai.Part{Text: m.Content})
			}
		case "assistant", "model":
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	gr := geminiRequest{Contents: contents, SystemInstruction: system}
	if req.Temperature != nil || req.MaxTokens != nil {
		cfg := &generationCfg{}
		if req.Temperature != nil {
			t := float32(*req.Temperature)
			cfg.Temperature = &t
		}
		if req.MaxTokens != nil {
			cfg.MaxOutputTokens = int32(*req.MaxTokens)
		}
		gr.GenerationConfig = cfg
	}

	return json.Marshal(gr)
}

// GeminiTranslator speaks the Google AI Studio generateContent wire format,
// authenticating with a per-request API key query parameter.
type GeminiTranslator struct{}

func (t *GeminiTranslator) Build(req protocol.ChatRequest, cand protocol.Candidate) (BuildResult, error) {
	body, err := buildGeminiBody(req)
	if err != nil {
		return BuildResult{}, fmt.Errorf("translate: marshaling gemini body: %w", err)
	}

	method := "generateContent"
	if req.Stream {
		method = "streamGenerateContent?alt=sse"
	}
	sep := "?"
	if strings.Contains(method, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s/models/%s:%s%skey=%s",
		strings.TrimRight(cand.BaseURL, "/"), cand.UpstreamModel, method, sep, cand.APIKey)

	headers := map[string]string{"Content-Type": "application/json"}
	mergeExtraHeaders(headers, cand.Extra)

	return BuildResult{URL: url, Headers: headers, Body: body}, nil
}

func (t *GeminiTranslator) Parse(body []byte) (protocol.ChatResponse, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return protocol.ChatResponse{}, fmt.Errorf("translate: decoding gemini response: %w", err)
	}
	out := protocol.ChatResponse{Content: firstCandidateText(&resp), Raw: body}
	if resp.UsageMetadata != nil {
		out.Usage = protocol.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	return out, nil
}

func (t *GeminiTranslator) ParseStreamEvent(payload []byte) (protocol.StreamChunk, bool, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return protocol.StreamChunk{}, false, fmt.Errorf("translate: decoding gemini stream chunk: %w", err)
	}
	chunk := protocol.StreamChunk{DeltaContent: firstCandidateText(&resp)}
	if len(resp.Candidates) > 0 {
		chunk.FinishReason = string(resp.Candidates[0].FinishReason)
		if chunk.FinishReason != "" && chunk.FinishReason != "FINISH_REASON_UNSPECIFIED" {
			return chunk, true, nil
		}
	}
	return chunk, false, nil
}

func firstCandidateText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// VertexGeminiTranslator speaks the same generateContent wire format over
// Vertex AI's publisher endpoint, authenticating with an OAuth2 bearer
// token instead of an API key query parameter.
type VertexGeminiTranslator struct {
	auth *VertexAuth
}

func (t *VertexGeminiTranslator) Build(req protocol.ChatRequest, cand protocol.Candidate) (BuildResult, error) {
	body, err := buildGeminiBody(req)
	if err != nil {
		return BuildResult{}, fmt.Errorf("translate: marshaling vertex-gemini body: %w", err)
	}

	token, err := t.auth.Token(context.Background(), cand.ProviderName)
	if err != nil {
		return BuildResult{}, err
	}

	method := "generateContent"
	if req.Stream {
		method = "streamGenerateContent?alt=sse"
	}
	url := fmt.Sprintf("%s/publishers/google/models/%s:%s",
		strings.TrimRight(cand.BaseURL, "/"), cand.UpstreamModel, method)

	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + token,
	}
	mergeExtraHeaders(headers, cand.Extra)

	return BuildResult{URL: url, Headers: headers, Body: body}, nil
}

func (t *VertexGeminiTranslator) Parse(body []byte) (protocol.ChatResponse, error) {
	return (&GeminiTranslator{}).Parse(body)
}

func (t *VertexGeminiTranslator) ParseStreamEvent(payload []byte) (protocol.StreamChunk, bool, error) {
	return (&GeminiTranslator{}).ParseStreamEvent(payload)
}
