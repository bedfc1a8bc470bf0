package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/voidxp/voidgate/internal/httputil"
	"github.com/voidxp/voidgate/internal/identity"
)

const (
	defaultAnalyticsHours = 24
	maxAnalyticsHours     = 720
)

type analyticsResponse struct {
	PrincipalID string `json:"principal_id"`
	Hours       int    `json:"hours"`
	Requests    int64  `json:"requests"`
	TotalTokens int64  `json:"total_tokens"`
	Errors      int64  `json:"errors"`
}

// Analytics handles GET /v1/analytics. Anonymous principals have no durable
// history to report, so the endpoint is registered-only.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteAuthMissing(w, reqID, "not authenticated")
		return
	}
	if principal.Kind != identity.KindRegistered {
		httputil.WriteError(w, reqID, http.StatusForbidden, httputil.KindForbidden, "analytics requires a registered account")
		return
	}
	if h.analytics == nil {
		httputil.WriteServiceUnavailable(w, reqID, "analytics is not available")
		return
	}

	hours := defaultAnalyticsHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAnalyticsHours {
			httputil.WriteBadRequest(w, reqID, fmt.Sprintf("hours must be an integer between 1 and %d", maxAnalyticsHours))
			return
		}
		hours = n
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	summary, err := h.analytics.Summarize(r.Context(), principal.ID, since)
	if err != nil {
		slog.Error("analytics query failed", "request_id", reqID, "principal", principal.ID, "error", err)
		httputil.WriteInternalError(w, reqID, "failed to compute usage summary")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(analyticsResponse{
		PrincipalID: principal.ID,
		Hours:       hours,
		Requests:    summary.Requests,
		TotalTokens: summary.TotalTokens,
		Errors:      summary.Errors,
	})
}

type providerObject struct {
	Code       string            `json:"code"`
	Schema     string            `json:"schema"`
	Operations []string          `json:"operations"`
	Models     map[string]string `json:"models"`
	Configured bool              `json:"configured"`
}

type providerListResponse struct {
	Providers []providerObject `json:"providers"`
}

// ListProviders handles GET /v1/providers. Credentials never appear here,
// only whether each provider has one.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if _, ok := identity.PrincipalFromContext(r.Context()); !ok {
		httputil.WriteAuthMissing(w, reqID, "not authenticated")
		return
	}

	descriptors := h.registry.List()
	providers := make([]providerObject, 0, len(descriptors))
	for _, d := range descriptors {
		ops := make([]string, 0, len(d.Operations))
		for op := range d.Operations {
			ops = append(ops, string(op))
		}
		sort.Strings(ops)

		models := make(map[string]string, len(d.Models))
		for op, model := range d.Models {
			models[string(op)] = model
		}

		providers = append(providers, providerObject{
			Code:       d.Code,
			Schema:     d.Schema,
			Operations: ops,
			Models:     models,
			Configured: d.Configured(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(providerListResponse{Providers: providers})
}
