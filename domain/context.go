package domain

import "context"

// Principal is the authenticated caller of a request, either a user
// resolved from a session cookie or an api client resolved from a
// client-credentials token.
type Principal struct {
	ID        string        `json:"id"`
	Type      PrincipalType `json:"type"`
	AccountID string        `json:"accountId"`
	Email     string        `json:"email,omitempty"`
	IsAdmin   bool          `json:"isAdmin"`
}

type principalContextKey struct{}

// ContextWithPrincipal returns a child context carrying the principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}
