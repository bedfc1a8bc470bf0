package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// claimType guards against tokens minted by other subsystems sharing the
// same secret.
const claimType = "user_session"

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Tier  string `json:"tier,omitempty"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// Signer mints and verifies session tokens with an HMAC secret loaded once
// at startup. Registered and anonymous sessions carry different lifetimes.
type Signer struct {
	secret       []byte
	sessionTTL   time.Duration
	anonymousTTL time.Duration
	now          func() time.Time
}

func NewSigner(secret string, sessionTTL, anonymousTTL time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return &Signer{
		secret:       []byte(secret),
		sessionTTL:   sessionTTL,
		anonymousTTL: anonymousTTL,
		now:          time.Now,
	}, nil
}

// Sign mints a session token for the principal and returns it with its
// expiry. The TTL follows the principal's kind.
func (s *Signer) Sign(p Principal) (string, time.Time, error) {
	now := s.now()
	ttl := s.sessionTTL
	if p.Kind == KindAnonymous {
		ttl = s.anonymousTTL
	}
	expiresAt := now.Add(ttl)

	claims := sessionClaims{
		Email: p.Email,
		Kind:  string(p.Kind),
		Tier:  p.Tier,
		Type:  claimType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a presented credential and returns the principal it names.
// Unparseable credentials report auth_missing; expired or badly signed
// tokens report auth_invalid.
func (s *Signer) Verify(credential string) (*Principal, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errMissing("malformed credential")
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, errInvalid("session token expired")
		default:
			return nil, errInvalid("invalid session token")
		}
	}
	if !token.Valid {
		return nil, errInvalid("invalid session token")
	}
	if claims.Type != claimType {
		return nil, errInvalid("unexpected token type")
	}

	kind := Kind(claims.Kind)
	if kind != KindRegistered && kind != KindAnonymous {
		return nil, errInvalid("unknown principal kind")
	}

	p := &Principal{
		ID:    claims.Subject,
		Kind:  kind,
		Email: claims.Email,
		Tier:  claims.Tier,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p, nil
}

// IssueAnonymous mints a fresh guest identity and a token for it in one
// step. Guest IDs embed the issue time so they sort chronologically.
func (s *Signer) IssueAnonymous() (string, Principal, time.Time, error) {
	now := s.now()
	id := fmt.Sprintf("anon-%d-%s", now.UnixMilli(), randomSuffix())
	p := Principal{
		ID:       id,
		Kind:     KindAnonymous,
		Email:    id + "@anon.local",
		IssuedAt: now,
	}
	token, expiresAt, err := s.Sign(p)
	if err != nil {
		return "", Principal{}, time.Time{}, err
	}
	return token, p, expiresAt, nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
