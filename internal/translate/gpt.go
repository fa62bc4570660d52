package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	openaiSDK "github.com/openai/openai-go/v3"

	"github.com/nulpointcorp/uniproxy/internal/protocol"
)

// OpenAITranslator speaks the OpenAI chat completions wire format, shared
// by every OpenAI-compatible host (the gpt and openrouter engines differ
// only in base URL and headers, never in body shape).
type OpenAITranslator struct{}

func (t *OpenAITranslator) Build(req protocol.ChatRequest, cand protocol.Candidate) (BuildResult, error) {
	params := openaiSDK.ChatCompletionNewParams{
		Model:    openaiSDK.ChatModel(cand.UpstreamModel),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openaiSDK.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openaiSDK.Int(int64(*req.MaxTokens))
	}

	body, err := json.Marshal(params)
	if err != nil {
		return BuildResult{}, fmt.Errorf("translate: marshaling openai params: %w", err)
	}
	body, err = withStreamFlag(body, req.Stream)
	if err != nil {
		return BuildResult{}, err
	}

	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + cand.APIKey,
	}
	mergeExtraHeaders(headers, cand.Extra)

	return BuildResult{
		URL:     strings.TrimRight(cand.BaseURL, "/") + "/chat/completions",
		Headers: headers,
		Body:    body,
	}, nil
}

func (t *OpenAITranslator) Parse(body []byte) (protocol.ChatResponse, error) {
	var resp openaiSDK.ChatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		return protocol.ChatResponse{}, fmt.Errorf("translate: decoding openai response: %w", err)
	}
	out := protocol.ChatResponse{
		Usage: protocol.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Raw: body,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

func (t *OpenAITranslator) ParseStreamEvent(payload []byte) (protocol.StreamChunk, bool, error) {
	if string(payload) == doneSentinel {
		return protocol.StreamChunk{Done: true}, true, nil
	}

	var chunk openaiSDK.ChatCompletionChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return protocol.StreamChunk{}, false, fmt.Errorf("translate: decoding openai stream chunk: %w", err)
	}
	if len(chunk.Choices) == 0 {
		return protocol.StreamChunk{}, false, nil
	}
	c := chunk.Choices[0]
	return protocol.StreamChunk{
		DeltaContent: c.Delta.Content,
		FinishReason: string(c.FinishReason),
	}, false, nil
}

func toOpenAIMessages(msgs []protocol.Message) []openaiSDK.ChatCompletionMessageParamUnion {
	out := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openaiSDK.SystemMessage(m.Content))
		case "developer":
			out = append(out, openaiSDK.DeveloperMessage(m.Content))
		case "assistant":
			out = append(out, openaiSDK.AssistantMessage(m.Content))
		default:
			out = append(out, openaiSDK.UserMessage(m.Content))
		}
	}
	return out
}

// withStreamFlag injects "stream": true|false into an already-marshaled
// request body without hand-rolling the rest of the OpenAI param shape —
// the SDK's own params struct doesn't expose Stream since streaming is a
// separate SDK call, but the wire format is a single shared field.
func withStreamFlag(body []byte, stream bool) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	flag, err := json.Marshal(stream)
	if err != nil {
		return nil, err
	}
	m["stream"] = flag
	return json.Marshal(m)
}
