package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voidxp/voidgate/internal/account"
	"github.com/voidxp/voidgate/internal/httputil"
	"github.com/voidxp/voidgate/internal/identity"
)

// Auth bodies are tiny; anything bigger is garbage.
const maxAuthBodyBytes = 4 << 10

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type sessionResponse struct {
	Token       string    `json:"token"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssueAnonymous handles POST /v1/auth/anonymous. Guest sessions need no
// body; every call mints a fresh principal with its own quota window.
func (h *Handler) IssueAnonymous(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	token, principal, expiresAt, err := h.signer.IssueAnonymous()
	if err != nil {
		slog.Error("failed to issue anonymous session", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "failed to issue session")
		return
	}

	slog.Info("anonymous session issued",
		"request_id", reqID,
		"principal", principal.ID,
		"expires_at", expiresAt,
	)
	writeSession(w, http.StatusCreated, sessionResponse{
		Token:       token,
		PrincipalID: principal.ID,
		ExpiresAt:   expiresAt,
	})
}

// Register handles POST /v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if h.accounts == nil {
		httputil.WriteServiceUnavailable(w, reqID, "registration is not available")
		return
	}

	creds, ok := h.readCredentials(w, r, reqID)
	if !ok {
		return
	}

	user, err := h.accounts.Create(r.Context(), creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			httputil.WriteError(w, reqID, http.StatusConflict, httputil.KindEmailTaken, "email is already registered")
			return
		}
		slog.Error("account creation failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "failed to create account")
		return
	}

	h.writeUserSession(w, reqID, http.StatusCreated, user)
}

// Login handles POST /v1/auth/login. Bad email and bad password produce the
// same answer.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	if h.accounts == nil {
		httputil.WriteServiceUnavailable(w, reqID, "login is not available")
		return
	}

	creds, ok := h.readCredentials(w, r, reqID)
	if !ok {
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidLogin) {
			httputil.WriteError(w, reqID, http.StatusUnauthorized, httputil.KindInvalidLogin, "invalid email or password")
			return
		}
		slog.Error("login failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "failed to log in")
		return
	}

	h.writeUserSession(w, reqID, http.StatusOK, user)
}

func (h *Handler) readCredentials(w http.ResponseWriter, r *http.Request, reqID string) (*credentialsRequest, bool) {
	var creds credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)).Decode(&creds); err != nil {
		httputil.WriteBadRequest(w, reqID, "invalid JSON: "+err.Error())
		return nil, false
	}
	if err := h.validate.Struct(&creds); err != nil {
		httputil.WriteBadRequest(w, reqID, "a valid email and a password of at least 8 characters are required")
		return nil, false
	}
	return &creds, true
}

func (h *Handler) writeUserSession(w http.ResponseWriter, reqID string, status int, user *account.User) {
	principal := identity.Principal{
		ID:    user.ID,
		Kind:  identity.KindRegistered,
		Email: user.Email,
		Tier:  user.Tier,
	}
	token, expiresAt, err := h.signer.Sign(principal)
	if err != nil {
		slog.Error("failed to sign session token", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "failed to issue session")
		return
	}

	writeSession(w, status, sessionResponse{
		Token:       token,
		PrincipalID: user.ID,
		Email:       user.Email,
		Tier:        user.Tier,
		ExpiresAt:   expiresAt,
	})
}

func writeSession(w http.ResponseWriter, status int, resp sessionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
