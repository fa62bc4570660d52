package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/nulpointcorp/uniproxy/internal/protocol"
)

const defaultMaxTokens = 4096

// ClaudeTranslator speaks the native Anthropic Messages wire format.
type ClaudeTranslator struct{}

func (t *ClaudeTranslator) Build(req protocol.ChatRequest, cand protocol.Candidate) (BuildResult, error) {
	params, err := buildAnthropicParams(req, cand.UpstreamModel)
	if err != nil {
		return BuildResult{}, err
	}

	body, err := json.Marshal(params)
	if err != nil {
		return BuildResult{}, fmt.Errorf("translate: marshaling anthropic params: %w", err)
	}
	body, err = withStreamFlag(body, req.Stream)
	if err != nil {
		return BuildResult{}, err
	}

	headers := map[string]string{
		"Content-Type":      "application/json",
		"x-api-key":         cand.APIKey,
		"anthropic-version": "2023-06-01",
	}
	mergeExtraHeaders(headers, cand.Extra)

	return BuildResult{
		URL:     strings.TrimRight(cand.BaseURL, "/") + "/v1/messages",
		Headers: headers,
		Body:    body,
	}, nil
}

func (t *ClaudeTranslator) Parse(body []byte) (protocol.ChatResponse, error) {
	var msg anthropic.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return protocol.ChatResponse{}, fmt.Errorf("translate: decoding anthropic response: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}

	return protocol.ChatResponse{
		Content:      sb.String(),
		FinishReason: string(msg.StopReason),
		Usage: protocol.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Raw: body,
	}, nil
}

func (t *ClaudeTranslator) ParseStreamEvent(payload []byte) (protocol.StreamChunk, bool, error) {
	var ev anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(payload, &ev); err != nil {
		return protocol.StreamChunk{}, false, fmt.Errorf("translate: decoding anthropic stream event: %w", err)
	}

	switch e := ev.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if d, ok := e.Delta.AsAny().(anthropic.TextDelta); ok {
			return protocol.StreamChunk{DeltaContent: d.Text}, false, nil
		}
		return protocol.StreamChunk{}, false, nil
	case anthropic.MessageDeltaEvent:
		return protocol.StreamChunk{FinishReason: string(e.Delta.StopReason)}, false, nil
	case anthropic.MessageStopEvent:
		return protocol.StreamChunk{Done: true}, true, nil
	default:
		return protocol.StreamChunk{}, false, nil
	}
}

func buildAnthropicParams(req protocol.ChatRequest, upstreamModel string) (anthropic.MessageNewParams, error) {
	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(upstreamModel),
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	var system strings.Builder
	for _, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
		default:
			params.Messages = append(params.Messages, toAnthropicMessage(m))
		}
	}
	if system.Len() > 0 {
		params.System = []anthropic.TextBlockParam{{Text: system.String()}}
	}

	return params, nil
}

func toAnthropicMessage(m protocol.Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == "assistant" {
		role = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{
		Role: role,
		Content: []anthropic.ContentBlockParamUnion{
			{OfText: &anthropic.TextBlockParam{Text: m.Content}},
		},
	}
}

// VertexClaudeTranslator speaks Anthropic's Messages format over Vertex
// AI's "Claude on Vertex" publisher endpoint, which swaps the native API's
// x-api-key header for an OAuth2 bearer token and drops "model" from the
// body in favor of the URL path plus an "anthropic_version" field.
type VertexClaudeTranslator struct {
	auth *VertexAuth
}

func (t *VertexClaudeTranslator) Build(req protocol.ChatRequest, cand protocol.Candidate) (BuildResult, error) {
	params, err := buildAnthropicParams(req, cand.UpstreamModel)
	if err != nil {
		return BuildResult{}, err
	}

	m := make(map[string]json.RawMessage)
	raw, err := json.Marshal(params)
	if err != nil {
		return BuildResult{}, fmt.Errorf("translate: marshaling vertex-claude params: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return BuildResult{}, err
	}
	delete(m, "model")
	m["anthropic_version"] = json.RawMessage(`"vertex-2023-10-16"`)
	body, err := json.Marshal(m)
	if err != nil {
		return BuildResult{}, err
	}
	body, err = withStreamFlag(body, req.Stream)
	if err != nil {
		return BuildResult{}, err
	}

	token, err := t.auth.Token(context.Background(), cand.ProviderName)
	if err != nil {
		return BuildResult{}, err
	}

	action := "rawPredict"
	if req.Stream {
		action = "streamRawPredict"
	}
	url := fmt.Sprintf("%s/v1/publishers/anthropic/models/%s:%s",
		strings.TrimRight(cand.BaseURL, "/"), cand.UpstreamModel, action)

	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + token,
	}
	mergeExtraHeaders(headers, cand.Extra)

	return BuildResult{URL: url, Headers: headers, Body: body}, nil
}

func (t *VertexClaudeTranslator) Parse(body []byte) (protocol.ChatResponse, error) {
	return (&ClaudeTranslator{}).Parse(body)
}

func (t *VertexClaudeTranslator) ParseStreamEvent(payload []byte) (protocol.StreamChunk, bool, error) {
	return (&ClaudeTranslator{}).ParseStreamEvent(payload)
}
