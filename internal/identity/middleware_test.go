package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddleware(t *testing.T) {
	signer := newTestSigner(t)
	token, principal, _, err := signer.IssueAnonymous()
	if err != nil {
		t.Fatalf("IssueAnonymous: %v", err)
	}

	var gotPrincipal *Principal
	handler := Middleware(signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantKind   string
	}{
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
			wantKind:   "auth_missing",
		},
		{
			name:       "wrong scheme",
			authHeader: "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantKind:   "auth_missing",
		},
		{
			name:       "empty bearer token",
			authHeader: "Bearer ",
			wantStatus: http.StatusUnauthorized,
			wantKind:   "auth_missing",
		},
		{
			name:       "garbage token",
			authHeader: "Bearer this.is.junk",
			wantStatus: http.StatusUnauthorized,
			wantKind:   "auth_missing",
		},
		{
			name:       "valid token",
			authHeader: "Bearer " + token,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPrincipal = nil
			req := httptest.NewRequest(http.MethodPost, "/v1/invoke", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantKind != "" {
				var body struct {
					Error struct {
						Kind string `json:"kind"`
					} `json:"error"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode error body: %v", err)
				}
				if body.Error.Kind != tt.wantKind {
					t.Errorf("error kind = %q, want %q", body.Error.Kind, tt.wantKind)
				}
			}
			if tt.wantStatus == http.StatusOK {
				if gotPrincipal == nil {
					t.Fatal("principal not stored in context")
				}
				if gotPrincipal.ID != principal.ID {
					t.Errorf("principal ID = %q, want %q", gotPrincipal.ID, principal.ID)
				}
			}
		})
	}
}

func TestMiddlewareExpiredToken(t *testing.T) {
	signer := newTestSigner(t)
	signer.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, _, _, err := signer.IssueAnonymous()
	if err != nil {
		t.Fatalf("IssueAnonymous: %v", err)
	}
	signer.now = time.Now

	handler := Middleware(signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for expired token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Kind != "auth_invalid" {
		t.Errorf("error kind = %q, want %q", body.Error.Kind, "auth_invalid")
	}
}

func TestPrincipalFromContextAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := PrincipalFromContext(req.Context()); ok {
		t.Fatal("expected no principal in fresh context")
	}
}
