package adapters

import (
	"fmt"
	"net/http"

	"github.com/voidxp/voidgate/internal/types"
)

// WireRequest is a provider-ready request: the path below the provider's
// base URL and the JSON body to post there.
type WireRequest struct {
	Path string
	Body []byte
}

// DropNote records a passthrough field the target schema has no slot for.
// Dropped fields are reported, never silently discarded.
type DropNote struct {
	Field string
}

// SchemaAdapter converts between the canonical request shape and one
// provider wire schema. Adapters are pure; they never touch the network and
// keep no per-request state.
type SchemaAdapter interface {
	Name() string
	// Normalize maps a validated request onto the provider schema.
	Normalize(req *types.InvokeRequest, model string) (*WireRequest, []DropNote, error)
	// Denormalize parses a 2xx provider response body into the canonical
	// result shape.
	Denormalize(body []byte) (*types.Result, error)
	// Authorize attaches the provider's credential headers.
	Authorize(h http.Header, apiKey string)
}

// ForSchema returns the adapter for a wire schema name.
func ForSchema(schema, apiVersion string) (SchemaAdapter, error) {
	switch schema {
	case "openai":
		return NewOpenAIAdapter(), nil
	case "anthropic":
		return NewAnthropicAdapter(apiVersion), nil
	case "cloudflare":
		return NewCloudflareAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown provider schema %q", schema)
	}
}
