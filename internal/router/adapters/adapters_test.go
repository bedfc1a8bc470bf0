package adapters

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/voidxp/voidgate/internal/types"
)

func f64(v float64) *float64 { return &v }
func iptr(v int) *int        { return &v }

func decodeBody(t *testing.T, wire *WireRequest) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(wire.Body, &m); err != nil {
		t.Fatalf("unmarshal wire body: %v", err)
	}
	return m
}

func chatRequest() *types.InvokeRequest {
	return &types.InvokeRequest{
		Op: types.OpChat,
		Payload: types.Payload{
			Messages: []types.Message{
				{Role: "system", Content: "be terse"},
				{Role: "user", Content: "hello"},
			},
		},
		Options: types.Options{
			Temperature: f64(0.7),
			MaxTokens:   iptr(256),
		},
	}
}

func TestOpenAINormalizeChat(t *testing.T) {
	req := chatRequest()
	req.Payload.Extra = map[string]json.RawMessage{
		"response_format": json.RawMessage(`{"type":"json_object"}`),
	}

	wire, drops, err := NewOpenAIAdapter().Normalize(req, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if wire.Path != "/chat/completions" {
		t.Errorf("Path = %q", wire.Path)
	}
	if len(drops) != 0 {
		t.Errorf("openai schema should pass everything through, dropped %v", drops)
	}

	body := decodeBody(t, wire)
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", body["model"])
	}
	if body["temperature"] != 0.7 {
		t.Errorf("temperature = %v", body["temperature"])
	}
	if body["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	msgs, ok := body["messages"].([]interface{})
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	rf, ok := body["response_format"].(map[string]interface{})
	if !ok || rf["type"] != "json_object" {
		t.Errorf("response_format not passed through: %v", body["response_format"])
	}
}

func TestOpenAINormalizeFIM(t *testing.T) {
	req := &types.InvokeRequest{
		Op: types.OpFIM,
		Payload: types.Payload{
			Prompt: "func add(a, b int) int {",
			Suffix: "}",
		},
	}

	wire, _, err := NewOpenAIAdapter().Normalize(req, "codestral-latest")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if wire.Path != "/completions" {
		t.Errorf("Path = %q", wire.Path)
	}

	body := decodeBody(t, wire)
	if body["prompt"] != "func add(a, b int) int {" {
		t.Errorf("prompt = %v", body["prompt"])
	}
	if body["suffix"] != "}" {
		t.Errorf("suffix = %v", body["suffix"])
	}
	if _, present := body["messages"]; present {
		t.Error("fim body should not carry messages")
	}
}

func TestOpenAIRoundTripPreservesFields(t *testing.T) {
	req := chatRequest()
	req.Payload.Extra = map[string]json.RawMessage{
		"logit_bias": json.RawMessage(`{"50256":-100}`),
		"seed":       json.RawMessage(`7`),
	}

	wire, _, err := NewOpenAIAdapter().Normalize(req, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	body := decodeBody(t, wire)
	if body["seed"] != float64(7) {
		t.Errorf("seed = %v", body["seed"])
	}
	bias, ok := body["logit_bias"].(map[string]interface{})
	if !ok || bias["50256"] != float64(-100) {
		t.Errorf("logit_bias = %v", body["logit_bias"])
	}
	// Canonical fields still come from the typed struct, not from extras.
	if body["model"] != "gpt-4o-mini" || body["temperature"] != 0.7 {
		t.Error("typed fields lost during merge")
	}
}

func TestOpenAIDenormalize(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o-mini-2024-07-18",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
	}`)

	res, err := NewOpenAIAdapter().Denormalize(body)
	if err != nil {
		t.Fatalf("Denormalize: %v", err)
	}
	if res.Content != "hi" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", res.FinishReason)
	}
	if res.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d", res.Usage.TotalTokens)
	}
}

func TestOpenAIDenormalizeCompletionStyle(t *testing.T) {
	body := []byte(`{
		"model": "codestral-latest",
		"choices": [{"index": 0, "text": " return a + b", "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 4, "total_tokens": 13}
	}`)

	res, err := NewOpenAIAdapter().Denormalize(body)
	if err != nil {
		t.Fatalf("Denormalize: %v", err)
	}
	if res.Content != " return a + b" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestOpenAIDenormalizeMalformed(t *testing.T) {
	for _, body := range []string{
		`not json at all`,
		`{"unexpected": true}`,
		`{"choices": []}`,
	} {
		if _, err := NewOpenAIAdapter().Denormalize([]byte(body)); err == nil {
			t.Errorf("Denormalize(%q) should fail", body)
		}
	}
}

func TestOpenAIAuthorize(t *testing.T) {
	h := make(http.Header)
	NewOpenAIAdapter().Authorize(h, "sk-test")
	if got := h.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestAnthropicNormalizeExtractsSystem(t *testing.T) {
	req := chatRequest()

	wire, _, err := NewAnthropicAdapter("").Normalize(req, "claude-3-5-haiku-latest")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if wire.Path != "/messages" {
		t.Errorf("Path = %q", wire.Path)
	}

	body := decodeBody(t, wire)
	if body["system"] != "be terse" {
		t.Errorf("system = %v", body["system"])
	}
	msgs, ok := body["messages"].([]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want only the user turn", body["messages"])
	}
	if body["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
}

func TestAnthropicNormalizeDefaultsMaxTokens(t *testing.T) {
	req := chatRequest()
	req.Options.MaxTokens = nil

	wire, _, err := NewAnthropicAdapter("").Normalize(req, "claude-3-5-haiku-latest")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if body := decodeBody(t, wire); body["max_tokens"] != float64(4096) {
		t.Errorf("max_tokens = %v, want 4096 default", body["max_tokens"])
	}
}

func TestAnthropicNormalizeDropsUnknownExtras(t *testing.T) {
	req := chatRequest()
	req.Payload.Extra = map[string]json.RawMessage{
		"top_k":           json.RawMessage(`40`),
		"logit_bias":      json.RawMessage(`{}`),
		"response_format": json.RawMessage(`{"type":"json_object"}`),
	}

	wire, drops, err := NewAnthropicAdapter("").Normalize(req, "claude-3-5-haiku-latest")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	body := decodeBody(t, wire)
	if body["top_k"] != float64(40) {
		t.Errorf("top_k = %v, want passthrough", body["top_k"])
	}
	if len(drops) != 2 {
		t.Fatalf("drops = %v, want 2 entries", drops)
	}
	if drops[0].Field != "logit_bias" || drops[1].Field != "response_format" {
		t.Errorf("drops = %v, want sorted field names", drops)
	}
}

func TestAnthropicRejectsFIM(t *testing.T) {
	req := &types.InvokeRequest{Op: types.OpFIM, Payload: types.Payload{Prompt: "x"}}
	if _, _, err := NewAnthropicAdapter("").Normalize(req, "claude-3-5-haiku-latest"); err == nil {
		t.Fatal("expected error for fim on the messages schema")
	}
}

func TestAnthropicDenormalize(t *testing.T) {
	tests := []struct {
		stopReason string
		want       string
	}{
		{"end_turn", "stop"},
		{"max_tokens", "length"},
		{"stop_sequence", "stop"},
		{"tool_use", "tool_use"},
	}

	for _, tt := range tests {
		body := []byte(`{
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "hello"}],
			"stop_reason": "` + tt.stopReason + `",
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`)
		res, err := NewAnthropicAdapter("").Denormalize(body)
		if err != nil {
			t.Fatalf("Denormalize(%s): %v", tt.stopReason, err)
		}
		if res.FinishReason != tt.want {
			t.Errorf("stop_reason %q mapped to %q, want %q", tt.stopReason, res.FinishReason, tt.want)
		}
		if res.Usage.TotalTokens != 13 {
			t.Errorf("TotalTokens = %d, want 13", res.Usage.TotalTokens)
		}
	}
}

func TestAnthropicDenormalizeMalformed(t *testing.T) {
	if _, err := NewAnthropicAdapter("").Denormalize([]byte(`{"content": []}`)); err == nil {
		t.Fatal("expected error for response without content blocks")
	}
}

func TestAnthropicAuthorize(t *testing.T) {
	h := make(http.Header)
	NewAnthropicAdapter("").Authorize(h, "ak-test")
	if got := h.Get("x-api-key"); got != "ak-test" {
		t.Errorf("x-api-key = %q", got)
	}
	if got := h.Get("anthropic-version"); got != "2023-06-01" {
		t.Errorf("anthropic-version = %q", got)
	}
}

func TestCloudflareNormalize(t *testing.T) {
	req := chatRequest()
	req.Payload.Extra = map[string]json.RawMessage{
		"seed":            json.RawMessage(`42`),
		"response_format": json.RawMessage(`{}`),
	}

	wire, drops, err := NewCloudflareAdapter().Normalize(req, "@cf/meta/llama-3.1-8b-instruct")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !strings.HasSuffix(wire.Path, "@cf/meta/llama-3.1-8b-instruct") {
		t.Errorf("Path = %q, want model as path segment", wire.Path)
	}

	body := decodeBody(t, wire)
	if _, present := body["model"]; present {
		t.Error("cloudflare body should not carry model")
	}
	if body["seed"] != float64(42) {
		t.Errorf("seed = %v, want passthrough", body["seed"])
	}
	if len(drops) != 1 || drops[0].Field != "response_format" {
		t.Errorf("drops = %v", drops)
	}
}

func TestCloudflareDenormalize(t *testing.T) {
	body := []byte(`{"success": true, "result": {"response": "hey", "usage": {"prompt_tokens": 4, "completion_tokens": 1, "total_tokens": 5}}}`)

	res, err := NewCloudflareAdapter().Denormalize(body)
	if err != nil {
		t.Fatalf("Denormalize: %v", err)
	}
	if res.Content != "hey" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.Usage.TotalTokens != 5 {
		t.Errorf("TotalTokens = %d", res.Usage.TotalTokens)
	}
}

func TestCloudflareDenormalizeMalformed(t *testing.T) {
	if _, err := NewCloudflareAdapter().Denormalize([]byte(`{"success": false}`)); err == nil {
		t.Fatal("expected error for response without result")
	}
}

func TestForSchema(t *testing.T) {
	for _, schema := range []string{"openai", "anthropic", "cloudflare"} {
		a, err := ForSchema(schema, "")
		if err != nil {
			t.Errorf("ForSchema(%q): %v", schema, err)
			continue
		}
		if a == nil {
			t.Errorf("ForSchema(%q) returned nil adapter", schema)
		}
	}
	if _, err := ForSchema("grpc", ""); err == nil {
		t.Error("expected error for unknown schema")
	}
}
