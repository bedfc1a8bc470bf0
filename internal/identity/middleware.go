package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voidxp/voidgate/internal/httputil"
)

// Middleware resolves the caller identity from the Authorization header and
// stores it in the request context. Requests without a verifiable identity
// never reach the handler.
func Middleware(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthMissing(w, requestID, "Missing Authorization header. Use: Authorization: Bearer <token>")
				return
			}

			credential := strings.TrimPrefix(authHeader, "Bearer ")
			if credential == authHeader || credential == "" {
				httputil.WriteAuthMissing(w, requestID, "Invalid Authorization format. Use: Authorization: Bearer <token>")
				return
			}

			principal, err := signer.Verify(credential)
			if err != nil {
				var authErr *AuthError
				if errors.As(err, &authErr) {
					slog.Warn("credential rejected",
						"request_id", requestID,
						"kind", string(authErr.Kind),
					)
					status := http.StatusUnauthorized
					httputil.WriteError(w, requestID, status, string(authErr.Kind), authErr.Message)
					return
				}
				httputil.WriteAuthInvalid(w, requestID, "Invalid session token")
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
