package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/voidxp/voidgate/internal/account"
	"github.com/voidxp/voidgate/internal/audit"
	"github.com/voidxp/voidgate/internal/dispatch"
	"github.com/voidxp/voidgate/internal/httputil"
	"github.com/voidxp/voidgate/internal/identity"
	"github.com/voidxp/voidgate/internal/normalize"
	"github.com/voidxp/voidgate/internal/quota"
	"github.com/voidxp/voidgate/internal/router"
	"github.com/voidxp/voidgate/internal/telemetry"
	"github.com/voidxp/voidgate/internal/types"
)

const defaultMaxBodyBytes = 8 << 20

// AccountStore is the slice of the account layer the auth endpoints need.
type AccountStore interface {
	Create(ctx context.Context, email, password string) (*account.User, error)
	Authenticate(ctx context.Context, email, password string) (*account.User, error)
}

// AnalyticsSource summarizes recorded invocations for one principal.
type AnalyticsSource interface {
	Summarize(ctx context.Context, principalID string, since time.Time) (*audit.Summary, error)
}

// Deps carries everything the HTTP surface is built from. Accounts and
// Analytics may be nil when the database is absent; the endpoints that need
// them answer 503.
type Deps struct {
	Signer     *identity.Signer
	Quota      *quota.Enforcer
	Registry   *router.Registry
	Normalizer *normalize.Normalizer
	Dispatcher *dispatch.Dispatcher
	Accounts   AccountStore
	Analytics  AnalyticsSource
	Audit      *audit.Emitter
	Metrics    *telemetry.Metrics

	MaxBodyBytes int64
	Version      string
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	signer       *identity.Signer
	quota        *quota.Enforcer
	registry     *router.Registry
	normalizer   *normalize.Normalizer
	dispatcher   *dispatch.Dispatcher
	accounts     AccountStore
	analytics    AnalyticsSource
	audit        *audit.Emitter
	metrics      *telemetry.Metrics
	validate     *validator.Validate
	maxBodyBytes int64
	version      string
}

func NewHandler(deps Deps) *Handler {
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{
		signer:       deps.Signer,
		quota:        deps.Quota,
		registry:     deps.Registry,
		normalizer:   deps.Normalizer,
		dispatcher:   deps.Dispatcher,
		accounts:     deps.Accounts,
		analytics:    deps.Analytics,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		validate:     validator.New(),
		maxBodyBytes: maxBody,
		version:      deps.Version,
	}
}

// Routes assembles the gateway's HTTP surface.
func (h *Handler) Routes(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-Quota-Limit", "X-Quota-Remaining", "X-Quota-Reset", "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/anonymous", h.IssueAnonymous)
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(h.signer))
			r.Post("/invoke", h.Invoke)
			r.Get("/providers", h.ListProviders)
			r.Get("/analytics", h.Analytics)
		})
	})

	return r
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Invoke handles POST /v1/invoke, the gateway's single model invocation
// entrypoint. The stages run in a fixed order: quota, routing, normalize,
// dispatch, audit. A request denied by quota never reaches routing, and an
// invalid one never reaches the provider.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteAuthMissing(w, reqID, "not authenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, reqID, "failed to read request body: "+err.Error())
		return
	}
	defer r.Body.Close()

	var req types.InvokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequest(w, reqID, "invalid JSON: "+err.Error())
		return
	}
	req.RequestID = reqID
	req.ReceivedAt = receivedAt

	if !req.Op.Valid() {
		httputil.WriteBadRequest(w, reqID, fmt.Sprintf("op must be %q or %q", types.OpChat, types.OpFIM))
		return
	}
	if len(req.Payload.Messages) == 0 && req.Payload.Prompt == "" {
		httputil.WriteBadRequest(w, reqID, "payload must carry messages or a prompt")
		return
	}

	// Quota gate. The admitted count is never rolled back; a request that
	// fails later stages still spent its slot.
	adm, err := h.quota.Admit(r.Context(), principal)
	if err != nil {
		var denied *quota.DeniedError
		if errors.As(err, &denied) {
			slog.Info("request denied by quota",
				"request_id", reqID,
				"principal", principal.ID,
				"principal_kind", string(principal.Kind),
				"reason", denied.Reason,
				"retry_after", denied.RetryAfter.String(),
			)
			if h.metrics != nil {
				h.metrics.RecordQuotaDenial(string(principal.Kind))
			}
			h.emitAudit(audit.Event{
				RequestID:   reqID,
				PrincipalID: principal.ID,
				Provider:    req.Provider,
				Model:       req.Model,
				Operation:   string(req.Op),
				OutcomeKind: httputil.KindQuotaDenied,
				Message:     denied.Reason,
			})
			quotaHeaders(w, denied.Limit, 0, time.Now().UTC().Add(denied.RetryAfter))
			httputil.WriteQuotaDenied(w, reqID, denied.RetryAfter, "daily request limit reached")
			return
		}
		httputil.WriteInternalError(w, reqID, "quota check failed")
		return
	}

	// Routing. The hint is honored or rejected; there is no fallback to
	// another provider.
	desc, err := h.registry.Resolve(req.Provider, req.Op)
	if err != nil {
		msg := "no provider available for this operation"
		var rerr *router.RoutingError
		if errors.As(err, &rerr) {
			msg = rerr.Message
		}
		h.emitAudit(audit.Event{
			RequestID:   reqID,
			PrincipalID: principal.ID,
			Provider:    req.Provider,
			Model:       req.Model,
			Operation:   string(req.Op),
			OutcomeKind: httputil.KindUnsupportedProvider,
			Message:     msg,
		})
		httputil.WriteError(w, reqID, http.StatusBadRequest, httputil.KindUnsupportedProvider, msg)
		return
	}

	wire, model, err := h.normalizer.Normalize(r.Context(), &req, desc)
	if err != nil {
		var verr *normalize.ValidationError
		if errors.As(err, &verr) {
			h.emitAudit(audit.Event{
				RequestID:   reqID,
				PrincipalID: principal.ID,
				Provider:    desc.Code,
				Model:       req.Model,
				Operation:   string(req.Op),
				OutcomeKind: verr.Kind,
				Message:     verr.Message,
			})
			httputil.WriteError(w, reqID, http.StatusBadRequest, verr.Kind, verr.Message)
			return
		}
		slog.Error("failed to prepare provider request",
			"request_id", reqID,
			"provider", desc.Code,
			"error", err,
		)
		httputil.WriteInternalError(w, reqID, "failed to prepare provider request")
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), desc, wire, model)
	if err != nil {
		status := http.StatusBadGateway
		kind := httputil.KindUnreachable
		msg := "provider request failed"
		var derr *dispatch.Error
		if errors.As(err, &derr) {
			kind = derr.Kind
			msg = derr.Message
			if derr.Kind == dispatch.KindTimeout {
				status = http.StatusGatewayTimeout
			}
		}
		h.recordInvocation(desc.Code, string(req.Op), kind, receivedAt, types.Usage{})
		h.emitAudit(audit.Event{
			RequestID:   reqID,
			PrincipalID: principal.ID,
			Provider:    desc.Code,
			Model:       model,
			Operation:   string(req.Op),
			OutcomeKind: kind,
			LatencyMs:   time.Since(receivedAt).Milliseconds(),
			Message:     msg,
		})
		httputil.WriteError(w, reqID, status, kind, msg)
		return
	}

	result.RequestID = reqID
	totalDuration := time.Since(receivedAt)

	slog.Info("invocation completed",
		"request_id", reqID,
		"principal", principal.ID,
		"principal_kind", string(principal.Kind),
		"op", string(req.Op),
		"provider", result.Provider,
		"model", result.Model,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"total_tokens", result.Usage.TotalTokens,
		"provider_latency_ms", result.LatencyMs,
		"duration_ms", totalDuration.Milliseconds(),
		"quota_remaining", adm.Remaining,
	)

	h.recordInvocation(result.Provider, string(req.Op), "success", receivedAt, result.Usage)
	h.emitAudit(audit.Event{
		RequestID:        reqID,
		PrincipalID:      principal.ID,
		Provider:         result.Provider,
		Model:            result.Model,
		Operation:        string(req.Op),
		OutcomeKind:      "success",
		LatencyMs:        totalDuration.Milliseconds(),
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	})

	quotaHeaders(w, adm.Limit, adm.Remaining, adm.ResetAt)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) emitAudit(ev audit.Event) {
	if h.audit != nil {
		h.audit.Emit(ev)
	}
}

func (h *Handler) recordInvocation(provider, op, outcome string, started time.Time, usage types.Usage) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordInvocation(telemetry.InvocationLabels{
		Provider:         provider,
		Op:               op,
		Outcome:          outcome,
		DurationMs:       float64(time.Since(started).Milliseconds()),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	})
}

func quotaHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	w.Header().Set("X-Quota-Limit", strconv.Itoa(limit))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-Quota-Reset", resetAt.UTC().Format(time.RFC3339))
}
