package mongodb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/qodari/iam/domain"
)

// RoleRepository implements domain.RoleRepository across the roles,
// permissions and join collections.
type RoleRepository struct {
	roles           *mongo.Collection
	permissions     *mongo.Collection
	rolePermissions *mongo.Collection
	assignments     *mongo.Collection
}

// NewRoleRepository creates the repository and ensures join indexes.
func NewRoleRepository(ctx context.Context, db *mongo.Database) (*RoleRepository, error) {
	repo := &RoleRepository{
		roles:           db.Collection(RolesCollection),
		permissions:     db.Collection(PermissionsCollection),
		rolePermissions: db.Collection(RolePermissionsCollection),
		assignments:     db.Collection(RoleAssignmentsCollection),
	}

	_, err := repo.assignments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "principal_id", Value: 1}, {Key: "principal_type", Value: 1}},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for role_assignments collection")
	}
	_, err = repo.rolePermissions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "role_id", Value: 1}, {Key: "permission_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for role_permissions collection")
	}

	return repo, nil
}

// ListRolesForPrincipal joins the principal's assignments against the
// roles collection, keeping only roles of the requested account and
// application. Roles from other applications in the same account are
// excluded even when assigned.
func (r *RoleRepository) ListRolesForPrincipal(ctx context.Context, principalID string, principalType domain.PrincipalType, accountID, applicationID string) ([]*domain.Role, error) {
	cursor, err := r.assignments.Find(ctx, bson.M{
		"principal_id":   principalID,
		"principal_type": principalType,
	})
	if err != nil {
		log.Error().Err(err).Str("principalID", principalID).Msg("Error listing role assignments")
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}

	var assignments []domain.RoleAssignment
	if err := cursor.All(ctx, &assignments); err != nil {
		return nil, fmt.Errorf("failed to decode role assignments: %w", err)
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}

	roleCursor, err := r.roles.Find(ctx, bson.M{
		"_id":            bson.M{"$in": roleIDs},
		"account_id":     accountID,
		"application_id": applicationID,
	})
	if err != nil {
		log.Error().Err(err).Str("principalID", principalID).Msg("Error listing roles")
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	var roles []*domain.Role
	if err := roleCursor.All(ctx, &roles); err != nil {
		return nil, fmt.Errorf("failed to decode roles: %w", err)
	}
	return roles, nil
}

// ListPermissionsForRoles flattens the role-permission grants of the
// given roles into permission rows.
func (r *RoleRepository) ListPermissionsForRoles(ctx context.Context, roleIDs []string) ([]*domain.Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	cursor, err := r.rolePermissions.Find(ctx, bson.M{"role_id": bson.M{"$in": roleIDs}})
	if err != nil {
		log.Error().Err(err).Msg("Error listing role permission grants")
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}

	var grants []domain.RolePermission
	if err := cursor.All(ctx, &grants); err != nil {
		return nil, fmt.Errorf("failed to decode role permissions: %w", err)
	}
	if len(grants) == 0 {
		return nil, nil
	}

	permissionIDs := make([]string, 0, len(grants))
	for _, g := range grants {
		permissionIDs = append(permissionIDs, g.PermissionID)
	}

	permCursor, err := r.permissions.Find(ctx, bson.M{"_id": bson.M{"$in": permissionIDs}})
	if err != nil {
		log.Error().Err(err).Msg("Error listing permissions")
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}

	var permissions []*domain.Permission
	if err := permCursor.All(ctx, &permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return permissions, nil
}
