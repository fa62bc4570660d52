package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nulpointcorp/uniproxy/internal/protocol"
)

// dalleRequest is the DALL·E images.generations wire body. Image generation
// is always a single non-streaming call, per spec.
type dalleRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

type dalleResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// DalleTranslator speaks the OpenAI images.generations wire format.
type DalleTranslator struct{}

func (t *DalleTranslator) Build(req protocol.ChatRequest, cand protocol.Candidate) (BuildResult, error) {
	n := 1
	if req.N != nil && *req.N > 0 {
		n = *req.N
	}
	dr := dalleRequest{
		Model:  cand.UpstreamModel,
		Prompt: req.Prompt,
		N:      n,
		Size:   req.Size,
	}

	body, err := json.Marshal(dr)
	if err != nil {
		return BuildResult{}, fmt.Errorf("translate: marshaling dalle request: %w", err)
	}

	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + cand.APIKey,
	}
	mergeExtraHeaders(headers, cand.Extra)

	return BuildResult{
		URL:     strings.TrimRight(cand.BaseURL, "/") + "/images/generations",
		Headers: headers,
		Body:    body,
	}, nil
}

func (t *DalleTranslator) Parse(body []byte) (protocol.ChatResponse, error) {
	var resp dalleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return protocol.ChatResponse{}, fmt.Errorf("translate: decoding dalle response: %w", err)
	}
	// Image responses are passed through to the caller verbatim; Content
	// stays empty since there is no single canonical text delta here.
	return protocol.ChatResponse{Raw: body}, nil
}

func (t *DalleTranslator) ParseStreamEvent(payload []byte) (protocol.StreamChunk, bool, error) {
	return protocol.StreamChunk{}, true, fmt.Errorf("translate: dalle does not support streaming")
}
