package router

import (
	"fmt"
	"time"

	"github.com/voidxp/voidgate/internal/config"
	"github.com/voidxp/voidgate/internal/router/adapters"
	"github.com/voidxp/voidgate/internal/types"
)

const defaultProviderTimeout = 30 * time.Second

// Descriptor is one provider's routing entry: where it lives, how to talk
// to it, and which operations it serves.
type Descriptor struct {
	Code          string
	BaseURL       string
	APIKey        string
	APIVersion    string
	Schema        string
	Operations    map[types.Operation]bool
	Models        map[types.Operation]string
	Timeout       time.Duration
	MaxConcurrent int
	Adapter       adapters.SchemaAdapter
}

func (d *Descriptor) Supports(op types.Operation) bool {
	return d.Operations[op]
}

// Configured reports whether the provider can actually be called. Entries
// ship in the catalog with empty credentials until deployment fills them in.
func (d *Descriptor) Configured() bool {
	return d.APIKey != "" && d.BaseURL != ""
}

// RoutingError reports why no provider could serve a request.
type RoutingError struct {
	Provider string
	Op       types.Operation
	Message  string
}

func (e *RoutingError) Error() string { return e.Message }

// Registry is the provider catalog. It is built once at startup and never
// mutated afterward, so lookups need no locking.
type Registry struct {
	order  []string
	byCode map[string]*Descriptor
}

// BuildRegistry constructs the catalog from configuration, wiring each
// entry to its schema adapter. Catalog order is priority order.
func BuildRegistry(provCfg *config.ProvidersConfig) (*Registry, error) {
	r := &Registry{byCode: make(map[string]*Descriptor, len(provCfg.Providers))}

	for _, cfg := range provCfg.Providers {
		if cfg.Code == "" {
			return nil, fmt.Errorf("provider entry missing code")
		}
		if _, dup := r.byCode[cfg.Code]; dup {
			return nil, fmt.Errorf("duplicate provider code %q", cfg.Code)
		}

		adapter, err := adapters.ForSchema(cfg.Schema, cfg.APIVersion)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Code, err)
		}

		ops := make(map[types.Operation]bool, len(cfg.Operations))
		models := make(map[types.Operation]string, len(cfg.Operations))
		for _, raw := range cfg.Operations {
			op := types.Operation(raw)
			if !op.Valid() {
				return nil, fmt.Errorf("provider %s: unknown operation %q", cfg.Code, raw)
			}
			model, ok := cfg.Models[raw]
			if !ok || model == "" {
				return nil, fmt.Errorf("provider %s: no default model for operation %q", cfg.Code, raw)
			}
			ops[op] = true
			models[op] = model
		}

		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultProviderTimeout
		}
		maxConcurrent := cfg.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 10
		}

		r.byCode[cfg.Code] = &Descriptor{
			Code:          cfg.Code,
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			APIVersion:    cfg.APIVersion,
			Schema:        cfg.Schema,
			Operations:    ops,
			Models:        models,
			Timeout:       timeout,
			MaxConcurrent: maxConcurrent,
			Adapter:       adapter,
		}
		r.order = append(r.order, cfg.Code)
	}

	return r, nil
}

// Resolve picks the provider for a request. An explicit hint must name a
// catalog entry that supports the operation and holds a credential; there
// is no silent substitution. With no hint, the first configured entry that
// supports the operation wins.
func (r *Registry) Resolve(hint string, op types.Operation) (*Descriptor, error) {
	if hint != "" {
		d, ok := r.byCode[hint]
		if !ok {
			return nil, &RoutingError{
				Provider: hint,
				Op:       op,
				Message:  fmt.Sprintf("unknown provider %q", hint),
			}
		}
		if !d.Supports(op) {
			return nil, &RoutingError{
				Provider: hint,
				Op:       op,
				Message:  fmt.Sprintf("provider %q does not support operation %q", hint, op),
			}
		}
		if !d.Configured() {
			return nil, &RoutingError{
				Provider: hint,
				Op:       op,
				Message:  fmt.Sprintf("provider %q has no credential configured", hint),
			}
		}
		return d, nil
	}

	for _, code := range r.order {
		d := r.byCode[code]
		if d.Supports(op) && d.Configured() {
			return d, nil
		}
	}
	return nil, &RoutingError{
		Op:      op,
		Message: fmt.Sprintf("no configured provider supports operation %q", op),
	}
}

// List returns descriptors in catalog order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.byCode[code])
	}
	return out
}
