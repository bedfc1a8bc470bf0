package identity

import "context"

type contextKey string

const principalContextKey contextKey = "voidgate_principal"

// ContextWithPrincipal attaches the resolved caller identity to the request
// context for downstream handlers.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the caller identity stored by the auth
// middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}
