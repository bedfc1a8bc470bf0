package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/voidxp/voidgate/internal/types"
)

const defaultAnthropicVersion = "2023-06-01"

// AnthropicAdapter speaks the Anthropic Messages API.
type AnthropicAdapter struct {
	version string
}

func NewAnthropicAdapter(version string) *AnthropicAdapter {
	if version == "" {
		version = defaultAnthropicVersion
	}
	return &AnthropicAdapter{version: version}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// anthropicExtras are the passthrough fields the Messages API accepts.
var anthropicExtras = map[string]bool{
	"top_p":          true,
	"top_k":          true,
	"stop_sequences": true,
	"metadata":       true,
}

func (a *AnthropicAdapter) Normalize(req *types.InvokeRequest, model string) (*WireRequest, []DropNote, error) {
	if req.Op != types.OpChat {
		return nil, nil, fmt.Errorf("operation %q not supported by schema %s", req.Op, a.Name())
	}

	// The Messages API carries the system prompt as a top-level field.
	var system string
	messages := make([]types.Message, 0, len(req.Payload.Messages))
	for _, m := range req.Payload.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if system != "" {
		body["system"] = system
	}

	// Anthropic requires max_tokens
	maxTokens := 4096
	if req.Options.MaxTokens != nil {
		maxTokens = *req.Options.MaxTokens
	}
	body["max_tokens"] = maxTokens

	if req.Options.Temperature != nil {
		body["temperature"] = *req.Options.Temperature
	}

	var drops []DropNote
	for k, v := range req.Payload.Extra {
		if anthropicExtras[k] {
			body[k] = v
			continue
		}
		drops = append(drops, DropNote{Field: k})
	}
	sort.Slice(drops, func(i, j int) bool { return drops[i].Field < drops[j].Field })

	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal anthropic request: %w", err)
	}
	return &WireRequest{Path: "/messages", Body: data}, drops, nil
}

func (a *AnthropicAdapter) Denormalize(body []byte) (*types.Result, error) {
	var resp anthropicResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("anthropic response has no content blocks")
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}

	return &types.Result{
		Model:        resp.Model,
		Content:      content,
		FinishReason: mapStopReason(resp.StopReason),
		Usage: types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicAdapter) Authorize(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", a.version)
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "stop_sequence":
		return "stop"
	default:
		return reason
	}
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
