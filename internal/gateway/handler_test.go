package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voidxp/voidgate/internal/attachment"
	"github.com/voidxp/voidgate/internal/audit"
	"github.com/voidxp/voidgate/internal/config"
	"github.com/voidxp/voidgate/internal/dispatch"
	"github.com/voidxp/voidgate/internal/httputil"
	"github.com/voidxp/voidgate/internal/identity"
	"github.com/voidxp/voidgate/internal/normalize"
	"github.com/voidxp/voidgate/internal/quota"
	"github.com/voidxp/voidgate/internal/router"
	"github.com/voidxp/voidgate/internal/types"
)

const chatBody = `{"op":"chat","payload":{"messages":[{"role":"user","content":"ping"}]}}`

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) outcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.OutcomeKind
	}
	return out
}

type staticTierLimits struct{ limit int }

func (s staticTierLimits) DailyLimit(context.Context, string) (int, error) {
	return s.limit, nil
}

// newProviderStub serves OpenAI-schema chat completions and counts hits.
func newProviderStub(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer stub-key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"bad key"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

type testStack struct {
	mux     http.Handler
	sink    *recordingSink
	emitter *audit.Emitter
}

func newTestStack(t *testing.T, providerURL string, providerTimeout time.Duration) *testStack {
	t.Helper()

	if providerTimeout == 0 {
		providerTimeout = 2 * time.Second
	}

	signer, err := identity.NewSigner("handler-test-secret", 7*24*time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	registry, err := router.BuildRegistry(&config.ProvidersConfig{
		Providers: []config.ProviderConfig{
			{
				Code:       "openai",
				Schema:     "openai",
				BaseURL:    providerURL,
				APIKey:     "stub-key",
				Operations: []string{"chat", "fim"},
				Models: map[string]string{
					"chat": "gpt-4o-mini",
					"fim":  "gpt-3.5-turbo-instruct",
				},
				Timeout: providerTimeout,
			},
		},
	})
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}

	sink := &recordingSink{}
	emitter := audit.NewEmitter(sink, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		emitter.Close(ctx)
	})

	h := NewHandler(Deps{
		Signer:     signer,
		Quota:      quota.NewEnforcer(quota.NewMemStore(), quota.NewMemStore(), staticTierLimits{limit: 50}),
		Registry:   registry,
		Normalizer: normalize.New(attachment.NewResolver(), nil, emitter, "You are a test assistant."),
		Dispatcher: dispatch.NewDispatcher(dispatch.NewHTTPTransport(registry), nil),
		Audit:      emitter,
		Version:    "test",
	})

	return &testStack{mux: h.Routes(nil), sink: sink, emitter: emitter}
}

func issueAnonymousToken(t *testing.T, mux http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/anonymous", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue anonymous session: status %d, body %s", rec.Code, rec.Body.String())
	}
	var sess sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("expected a session token")
	}
	if !strings.HasPrefix(sess.PrincipalID, "anon-") {
		t.Fatalf("expected anon- principal, got %q", sess.PrincipalID)
	}
	return sess.Token
}

func doInvoke(mux http.Handler, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) httputil.APIErrorBody {
	t.Helper()
	var apiErr httputil.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode error body: %v (body %s)", err, rec.Body.String())
	}
	return apiErr.Error
}

func TestInvokeSuccess(t *testing.T) {
	srv, hits := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	rec := doInvoke(stack.mux, token, chatBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result types.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Content != "pong" {
		t.Errorf("content = %q, want pong", result.Content)
	}
	if result.Provider != "openai" || result.Model != "gpt-4o-mini" {
		t.Errorf("provider/model = %s/%s", result.Provider, result.Model)
	}
	if result.TokensUsed != 15 {
		t.Errorf("tokens_used = %d, want 15", result.TokensUsed)
	}
	if result.RequestID == "" || result.RequestID != rec.Header().Get("X-Request-ID") {
		t.Errorf("result request_id %q does not match header %q", result.RequestID, rec.Header().Get("X-Request-ID"))
	}
	if got := rec.Header().Get("X-Quota-Limit"); got != strconv.Itoa(quota.AnonymousDailyLimit) {
		t.Errorf("X-Quota-Limit = %q", got)
	}
	if got := rec.Header().Get("X-Quota-Remaining"); got != "4" {
		t.Errorf("X-Quota-Remaining = %q, want 4", got)
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1", hits.Load())
	}
}

func TestInvokeFiveThenDenied(t *testing.T) {
	srv, hits := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	for i := 1; i <= quota.AnonymousDailyLimit; i++ {
		rec := doInvoke(stack.mux, token, chatBody)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		want := strconv.Itoa(quota.AnonymousDailyLimit - i)
		if got := rec.Header().Get("X-Quota-Remaining"); got != want {
			t.Errorf("request %d: X-Quota-Remaining = %q, want %q", i, got, want)
		}
	}

	rec := doInvoke(stack.mux, token, chatBody)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth request, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeAPIError(t, rec)
	if body.Kind != httputil.KindQuotaDenied {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindQuotaDenied)
	}
	if body.RetryAfterSeconds < 1 {
		t.Errorf("retry_after_seconds = %d, want >= 1", body.RetryAfterSeconds)
	}
	secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || secs < 1 {
		t.Errorf("Retry-After header = %q, want integer >= 1", rec.Header().Get("Retry-After"))
	}

	// The denied request must never have reached the provider.
	if hits.Load() != int64(quota.AnonymousDailyLimit) {
		t.Errorf("provider hits = %d, want %d", hits.Load(), quota.AnonymousDailyLimit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := stack.emitter.Close(ctx); err != nil {
		t.Fatalf("close emitter: %v", err)
	}
	successes, denials := 0, 0
	for _, kind := range stack.sink.outcomes() {
		switch kind {
		case "success":
			successes++
		case httputil.KindQuotaDenied:
			denials++
		}
	}
	if successes != quota.AnonymousDailyLimit || denials != 1 {
		t.Errorf("audit trail: %d successes and %d denials, want %d and 1",
			successes, denials, quota.AnonymousDailyLimit)
	}
}

func TestInvokeUnknownProviderHint(t *testing.T) {
	srv, hits := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	rec := doInvoke(stack.mux, token, `{"op":"chat","provider":"doesnotexist","payload":{"messages":[{"role":"user","content":"ping"}]}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeAPIError(t, rec)
	if body.Kind != httputil.KindUnsupportedProvider {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindUnsupportedProvider)
	}
	if hits.Load() != 0 {
		t.Errorf("provider hits = %d, want 0", hits.Load())
	}
}

func TestInvokeTemperatureOutOfRange(t *testing.T) {
	srv, hits := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	rec := doInvoke(stack.mux, token, `{"op":"chat","payload":{"messages":[{"role":"user","content":"ping"}]},"options":{"temperature":2.5}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeAPIError(t, rec)
	if body.Kind != httputil.KindOutOfRange {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindOutOfRange)
	}
	if !strings.Contains(body.Message, "temperature") {
		t.Errorf("message %q should name the offending option", body.Message)
	}
	if hits.Load() != 0 {
		t.Errorf("provider hits = %d, want 0", hits.Load())
	}
}

func TestInvokeRejectsWithoutSession(t *testing.T) {
	srv, hits := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)

	rec := doInvoke(stack.mux, "", chatBody)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credential, got %d", rec.Code)
	}
	if body := decodeAPIError(t, rec); body.Kind != httputil.KindAuthMissing {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindAuthMissing)
	}

	rec = doInvoke(stack.mux, "not-a-real-token", chatBody)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage credential, got %d", rec.Code)
	}
	if hits.Load() != 0 {
		t.Errorf("provider hits = %d, want 0", hits.Load())
	}
}

func TestInvokeBadRequests(t *testing.T) {
	srv, _ := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"op":`},
		{"unknown op", `{"op":"translate","payload":{"prompt":"x"}}`},
		{"missing op", `{"payload":{"messages":[{"role":"user","content":"hi"}]}}`},
		{"empty payload", `{"op":"chat","payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doInvoke(stack.mux, token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if body := decodeAPIError(t, rec); body.Kind != httputil.KindInvalidRequest {
				t.Errorf("kind = %q, want %q", body.Kind, httputil.KindInvalidRequest)
			}
		})
	}
}

func TestInvokeProviderRejection(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model overloaded"}}`)
	}))
	t.Cleanup(srv.Close)

	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	rec := doInvoke(stack.mux, token, chatBody)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeAPIError(t, rec); body.Kind != httputil.KindProviderRejected {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindProviderRejected)
	}
	// Provider verdicts are terminal; no second attempt.
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1", hits.Load())
	}
}

func TestInvokeProviderTimeout(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(400 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"too late"}}]}`)
	}))
	t.Cleanup(srv.Close)

	stack := newTestStack(t, srv.URL, 100*time.Millisecond)
	token := issueAnonymousToken(t, stack.mux)

	rec := doInvoke(stack.mux, token, chatBody)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeAPIError(t, rec); body.Kind != httputil.KindTimeout {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindTimeout)
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1 (timeouts are not retried)", hits.Load())
	}
}

func TestInvokeMalformedProviderResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"unexpected":"shape"}`)
	}))
	t.Cleanup(srv.Close)

	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	rec := doInvoke(stack.mux, token, chatBody)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeAPIError(t, rec); body.Kind != httputil.KindMalformedResponse {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindMalformedResponse)
	}
}

func TestAnalyticsForbiddenForAnonymous(t *testing.T) {
	srv, _ := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeAPIError(t, rec); body.Kind != httputil.KindForbidden {
		t.Errorf("kind = %q, want %q", body.Kind, httputil.KindForbidden)
	}
}

func TestListProvidersHidesCredentials(t *testing.T) {
	srv, _ := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp providerListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if len(resp.Providers) != 1 || resp.Providers[0].Code != "openai" {
		t.Fatalf("unexpected provider list: %+v", resp.Providers)
	}
	if !resp.Providers[0].Configured {
		t.Error("expected provider to report configured")
	}
	if strings.Contains(rec.Body.String(), "stub-key") {
		t.Error("provider listing leaked a credential")
	}
}

func TestRequestIDHonorsClientHeader(t *testing.T) {
	srv, _ := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)
	token := issueAnonymousToken(t, stack.mux)

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(chatBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "req_custom_123")
	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req_custom_123" {
		t.Errorf("X-Request-ID = %q, want req_custom_123", got)
	}
	var result types.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RequestID != "req_custom_123" {
		t.Errorf("result request_id = %q, want req_custom_123", result.RequestID)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newProviderStub(t)
	stack := newTestStack(t, srv.URL, 0)

	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}

func TestGenerateRequestID(t *testing.T) {
	id := generateRequestID()
	if !strings.HasPrefix(id, "req_") {
		t.Errorf("expected req_ prefix, got %q", id)
	}
	if id == generateRequestID() {
		t.Error("expected unique IDs")
	}
}
