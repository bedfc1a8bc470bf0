package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Error kinds shared across handlers. Pipeline kinds mirror the gateway's
// error taxonomy; the rest cover the account and transport surfaces.
const (
	KindAuthMissing            = "auth_missing"
	KindAuthInvalid            = "auth_invalid"
	KindQuotaDenied            = "quota_denied"
	KindUnsupportedProvider    = "unsupported_provider"
	KindOutOfRange             = "out_of_range"
	KindAttachmentUnresolvable = "attachment_unresolvable"
	KindTimeout                = "timeout"
	KindUnreachable            = "unreachable"
	KindProviderRejected       = "provider_rejected"
	KindMalformedResponse      = "malformed_response"
	KindInvalidRequest         = "invalid_request"
	KindEmailTaken             = "email_taken"
	KindInvalidLogin           = "invalid_login"
	KindForbidden              = "forbidden"
	KindInternal               = "internal_error"
	KindUnavailable            = "service_unavailable"
)

// APIError is the wire shape for every error the gateway returns.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Kind:      kind,
			Message:   message,
			RequestID: requestID,
		},
	})
}

func WriteAuthMissing(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, KindAuthMissing, message)
}

func WriteAuthInvalid(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, KindAuthInvalid, message)
}

// WriteQuotaDenied writes a 429 with both the Retry-After header and the
// retry_after_seconds body field. retryAfter is rounded up so clients never
// retry a second too early.
func WriteQuotaDenied(w http.ResponseWriter, requestID string, retryAfter time.Duration, message string) {
	secs := int64(retryAfter.Seconds())
	if retryAfter > time.Duration(secs)*time.Second {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Kind:              KindQuotaDenied,
			Message:           message,
			RetryAfterSeconds: secs,
			RequestID:         requestID,
		},
	})
}

func WriteBadRequest(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, KindInvalidRequest, message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, KindInternal, message)
}

func WriteServiceUnavailable(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, KindUnavailable, message)
}
