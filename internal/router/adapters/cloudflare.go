package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/voidxp/voidgate/internal/types"
)

// CloudflareAdapter speaks the Workers AI REST API, where the model name is
// a path segment rather than a body field.
type CloudflareAdapter struct{}

func NewCloudflareAdapter() *CloudflareAdapter { return &CloudflareAdapter{} }

func (a *CloudflareAdapter) Name() string { return "cloudflare" }

// cloudflareExtras are the passthrough fields Workers AI chat models accept.
var cloudflareExtras = map[string]bool{
	"top_p": true,
	"top_k": true,
	"seed":  true,
}

func (a *CloudflareAdapter) Normalize(req *types.InvokeRequest, model string) (*WireRequest, []DropNote, error) {
	if req.Op != types.OpChat {
		return nil, nil, fmt.Errorf("operation %q not supported by schema %s", req.Op, a.Name())
	}

	body := map[string]interface{}{
		"messages": req.Payload.Messages,
	}
	if req.Options.Temperature != nil {
		body["temperature"] = *req.Options.Temperature
	}
	if req.Options.MaxTokens != nil {
		body["max_tokens"] = *req.Options.MaxTokens
	}

	var drops []DropNote
	for k, v := range req.Payload.Extra {
		if cloudflareExtras[k] {
			body[k] = v
			continue
		}
		drops = append(drops, DropNote{Field: k})
	}
	sort.Slice(drops, func(i, j int) bool { return drops[i].Field < drops[j].Field })

	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal cloudflare request: %w", err)
	}
	return &WireRequest{Path: "/" + model, Body: data}, drops, nil
}

func (a *CloudflareAdapter) Denormalize(body []byte) (*types.Result, error) {
	var resp cloudflareResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal cloudflare response: %w", err)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("cloudflare response has no result")
	}

	return &types.Result{
		Content:      resp.Result.Response,
		FinishReason: "stop",
		Usage: types.Usage{
			PromptTokens:     resp.Result.Usage.PromptTokens,
			CompletionTokens: resp.Result.Usage.CompletionTokens,
			TotalTokens:      resp.Result.Usage.TotalTokens,
		},
	}, nil
}

func (a *CloudflareAdapter) Authorize(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

type cloudflareResponseBody struct {
	Success bool `json:"success"`
	Result  *struct {
		Response string `json:"response"`
		Usage    struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"result"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
