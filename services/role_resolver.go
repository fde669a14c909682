package services

import (
	"context"
	"sort"

	"github.com/qodari/iam/domain"
)

// RoleResolver flattens a principal's role assignments into the role slugs
// and permission strings embedded in access tokens.
type RoleResolver struct {
	roles domain.RoleRepository
}

func NewRoleResolver(roles domain.RoleRepository) *RoleResolver {
	return &RoleResolver{roles: roles}
}

// Resolve returns the principal's roles within the given account and
// application, and the union of permissions those roles grant. Both lists
// are deduplicated and sorted so token payloads are stable.
func (r *RoleResolver) Resolve(ctx context.Context, principalID string, principalType domain.PrincipalType, accountID, applicationID string) (*domain.Access, error) {
	roles, err := r.roles.ListRolesForPrincipal(ctx, principalID, principalType, accountID, applicationID)
	if err != nil {
		return nil, err
	}

	roleIDs := make([]string, 0, len(roles))
	slugSet := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		roleIDs = append(roleIDs, role.ID)
		slugSet[role.Slug] = struct{}{}
	}

	access := &domain.Access{
		Roles:       make([]string, 0, len(slugSet)),
		Permissions: []string{},
	}
	for slug := range slugSet {
		access.Roles = append(access.Roles, slug)
	}
	sort.Strings(access.Roles)

	if len(roleIDs) == 0 {
		return access, nil
	}

	perms, err := r.roles.ListPermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	permSet := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		permSet[p.String()] = struct{}{}
	}
	for perm := range permSet {
		access.Permissions = append(access.Permissions, perm)
	}
	sort.Strings(access.Permissions)

	return access, nil
}
