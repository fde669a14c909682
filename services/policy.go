package services

import (
	"context"
	"slices"

	"github.com/qodari/iam/domain"
)

// Policy answers permission questions for authenticated principals. It is
// the only place that grants the account-admin bypass; callers must never
// test IsAdmin themselves.
type Policy struct {
	resolver *RoleResolver
}

func NewPolicy(resolver *RoleResolver) *Policy {
	return &Policy{resolver: resolver}
}

// Allowed reports whether the principal holds the permission within the
// application. Account admins pass unconditionally.
func (p *Policy) Allowed(ctx context.Context, principal *domain.Principal, applicationID, permission string) (bool, error) {
	if principal.Type == domain.PrincipalTypeUser && principal.IsAdmin {
		return true, nil
	}

	access, err := p.resolver.Resolve(ctx, principal.ID, principal.Type, principal.AccountID, applicationID)
	if err != nil {
		return false, err
	}
	return slices.Contains(access.Permissions, permission), nil
}
