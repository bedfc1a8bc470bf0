package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voidxp/voidgate/internal/types"
)

// OpenAIAdapter speaks the OpenAI-compatible wire schema shared by OpenAI,
// Mistral, Groq, xAI, and OpenRouter. The canonical payload shape follows
// this schema, so unrecognized fields pass through untouched.
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Normalize(req *types.InvokeRequest, model string) (*WireRequest, []DropNote, error) {
	body := make(map[string]interface{}, len(req.Payload.Extra)+4)
	for k, v := range req.Payload.Extra {
		body[k] = v
	}
	body["model"] = model

	var path string
	switch req.Op {
	case types.OpChat:
		path = "/chat/completions"
		body["messages"] = req.Payload.Messages
	case types.OpFIM:
		path = "/completions"
		body["prompt"] = req.Payload.Prompt
		if req.Payload.Suffix != "" {
			body["suffix"] = req.Payload.Suffix
		}
	default:
		return nil, nil, fmt.Errorf("operation %q not supported by schema %s", req.Op, a.Name())
	}

	if req.Options.Temperature != nil {
		body["temperature"] = *req.Options.Temperature
	}
	if req.Options.MaxTokens != nil {
		body["max_tokens"] = *req.Options.MaxTokens
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal openai request: %w", err)
	}
	return &WireRequest{Path: path, Body: data}, nil, nil
}

func (a *OpenAIAdapter) Denormalize(body []byte) (*types.Result, error) {
	var resp openAIResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	choice := resp.Choices[0]
	content := choice.Message.Content
	if content == "" {
		// Completion-style responses carry text at the choice level.
		content = choice.Text
	}

	return &types.Result{
		Model:        resp.Model,
		Content:      content,
		FinishReason: choice.FinishReason,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (a *OpenAIAdapter) Authorize(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

type openAIResponseBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      types.Message `json:"message"`
		Text         string        `json:"text"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
