package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/voidxp/voidgate/internal/router"
	"github.com/voidxp/voidgate/internal/router/adapters"
	"github.com/voidxp/voidgate/internal/types"
)

const (
	KindOutOfRange             = "out_of_range"
	KindAttachmentUnresolvable = "attachment_unresolvable"
)

// ValidationError rejects a request before any provider is contacted.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AttachmentResolver renders attachment references into inline text.
type AttachmentResolver interface {
	ResolveAll(ctx context.Context, refs []types.Attachment) (string, error)
}

// Enricher contributes fresh context for a query, or reports ok=false.
type Enricher interface {
	Enrich(ctx context.Context, query string) (string, bool)
}

// DropSink hears about payload fields the target schema discarded.
type DropSink interface {
	NoteDrop(requestID, provider, field string)
}

// Normalizer validates canonical requests and maps them onto provider wire
// schemas, folding attachments and search context into the prompt first.
type Normalizer struct {
	validate     *validator.Validate
	attachments  AttachmentResolver
	search       Enricher
	drops        DropSink
	systemPrompt string
}

func New(attachments AttachmentResolver, search Enricher, drops DropSink, systemPrompt string) *Normalizer {
	return &Normalizer{
		validate:     validator.New(),
		attachments:  attachments,
		search:       search,
		drops:        drops,
		systemPrompt: systemPrompt,
	}
}

// Normalize validates req and produces the provider wire request plus the
// model that will serve it. Validation runs before any network work, so an
// invalid request never costs a provider call. The caller's request is
// never mutated.
func (n *Normalizer) Normalize(ctx context.Context, req *types.InvokeRequest, desc *router.Descriptor) (*adapters.WireRequest, string, error) {
	if err := n.validate.Struct(&req.Options); err != nil {
		return nil, "", &ValidationError{
			Kind:    KindOutOfRange,
			Message: optionsMessage(err),
		}
	}

	model := req.Model
	if model == "" {
		model = desc.Models[req.Op]
	}

	// Work on a copy; context assembly swaps in fresh slices before
	// touching message content.
	working := *req

	var blocks []string
	if len(req.Attachments) > 0 && n.attachments != nil {
		block, err := n.attachments.ResolveAll(ctx, req.Attachments)
		if err != nil {
			return nil, "", &ValidationError{
				Kind:    KindAttachmentUnresolvable,
				Message: err.Error(),
			}
		}
		if block != "" {
			blocks = append(blocks, block)
		}
	}

	if req.SearchEnabled && n.search != nil {
		if block, ok := n.search.Enrich(ctx, searchQuery(req)); ok {
			blocks = append(blocks, block)
		}
	}

	applyContext(&working, blocks)

	if working.Op == types.OpChat && n.systemPrompt != "" && !hasSystemMessage(working.Payload.Messages) {
		msgs := make([]types.Message, 0, len(working.Payload.Messages)+1)
		msgs = append(msgs, types.Message{Role: "system", Content: n.systemPrompt})
		msgs = append(msgs, working.Payload.Messages...)
		working.Payload.Messages = msgs
	}

	wire, dropped, err := desc.Adapter.Normalize(&working, model)
	if err != nil {
		return nil, "", fmt.Errorf("map request onto %s schema: %w", desc.Schema, err)
	}
	if n.drops != nil {
		for _, d := range dropped {
			n.drops.NoteDrop(req.RequestID, desc.Code, d.Field)
		}
	}
	return wire, model, nil
}

// applyContext folds gathered context blocks into the request. Chat
// requests carry context at the end of the last user turn; fill-in-middle
// requests carry it ahead of the prompt.
func applyContext(req *types.InvokeRequest, blocks []string) {
	if len(blocks) == 0 {
		return
	}
	joined := strings.Join(blocks, "\n\n")

	if req.Op == types.OpFIM {
		req.Payload.Prompt = joined + "\n\n" + req.Payload.Prompt
		return
	}

	msgs := make([]types.Message, len(req.Payload.Messages))
	copy(msgs, req.Payload.Messages)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			msgs[i].Content = msgs[i].Content + "\n\n" + joined
			req.Payload.Messages = msgs
			return
		}
	}
	// No user turn to hang the context on; add one.
	req.Payload.Messages = append(msgs, types.Message{Role: "user", Content: joined})
}

// searchQuery picks the text the search heuristics look at.
func searchQuery(req *types.InvokeRequest) string {
	if req.Op == types.OpFIM {
		return req.Payload.Prompt
	}
	for i := len(req.Payload.Messages) - 1; i >= 0; i-- {
		if req.Payload.Messages[i].Role == "user" {
			return req.Payload.Messages[i].Content
		}
	}
	return ""
}

func hasSystemMessage(msgs []types.Message) bool {
	for _, m := range msgs {
		if m.Role == "system" {
			return true
		}
	}
	return false
}

func optionsMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Temperature":
			return "temperature must be between 0 and 2"
		case "MaxTokens":
			return "max_tokens must be at least 1"
		}
		return fmt.Sprintf("option %s is out of range", verrs[0].Field())
	}
	return "request options are out of range"
}
