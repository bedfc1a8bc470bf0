package identity

import "time"

// Kind distinguishes registered accounts from anonymous guests.
type Kind string

const (
	KindRegistered Kind = "registered"
	KindAnonymous  Kind = "anonymous"
)

// Principal is the caller identity resolved from a verified credential.
// It is constructed per request and never persisted by the gateway.
type Principal struct {
	ID       string
	Kind     Kind
	Email    string
	Tier     string
	IssuedAt time.Time
}

func (p Principal) Anonymous() bool {
	return p.Kind == KindAnonymous
}

// AuthErrorKind is the machine-readable category of an auth failure.
type AuthErrorKind string

const (
	AuthMissing AuthErrorKind = "auth_missing"
	AuthInvalid AuthErrorKind = "auth_invalid"
)

// AuthError is terminal for the request; no downstream stage runs after it.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func errMissing(message string) *AuthError {
	return &AuthError{Kind: AuthMissing, Message: message}
}

func errInvalid(message string) *AuthError {
	return &AuthError{Kind: AuthInvalid, Message: message}
}
