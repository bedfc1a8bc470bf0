package types

import "time"

// Operation is the kind of completion being requested.
type Operation string

const (
	OpChat Operation = "chat"
	OpFIM  Operation = "fim"
)

// Valid reports whether the operation is one the gateway understands.
func (o Operation) Valid() bool {
	return o == OpChat || o == OpFIM
}

// InvokeRequest is the canonical internal representation of an invocation.
// All provider-specific formats are derived from this type.
type InvokeRequest struct {
	// Request content
	Op            Operation    `json:"op"`
	Provider      string       `json:"provider,omitempty"` // requested provider code, optional
	Model         string       `json:"model,omitempty"`    // requested model, optional
	Payload       Payload      `json:"payload"`
	Options       Options      `json:"options"`
	SearchEnabled bool         `json:"search_enabled,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`

	// Internal tracking (set by the handler, never from the wire)
	RequestID  string    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

// Options are the provider-agnostic sampling parameters. Ranges are enforced
// before any provider-specific mapping happens; nothing is clamped silently.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gte=1"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is a reference to external content resolved to inline text
// before dispatch.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}
