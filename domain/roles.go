package domain

import "time"

// PrincipalType discriminates the two kinds of principals that can hold
// role assignments.
type PrincipalType string

const (
	PrincipalTypeUser      PrincipalType = "user"
	PrincipalTypeApiClient PrincipalType = "api_client"
)

// Role is scoped to one (account, application) pair. Assignments to roles
// of other applications in the same account are ignored when resolving
// access for a given application.
type Role struct {
	ID            string    `bson:"_id,omitempty" json:"id"`
	AccountID     string    `bson:"account_id" json:"account_id"`
	ApplicationID string    `bson:"application_id" json:"application_id"`
	Slug          string    `bson:"slug" json:"slug"`
	Name          string    `bson:"name" json:"name"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// Permission is a (resource, action) pair scoped to one (account,
// application).
type Permission struct {
	ID            string    `bson:"_id,omitempty" json:"id"`
	AccountID     string    `bson:"account_id" json:"account_id"`
	ApplicationID string    `bson:"application_id" json:"application_id"`
	Resource      string    `bson:"resource" json:"resource"`
	Action        string    `bson:"action" json:"action"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// String returns the canonical "resource:action" form.
func (p *Permission) String() string {
	return p.Resource + ":" + p.Action
}

// RolePermission grants one permission to one role.
type RolePermission struct {
	RoleID       string `bson:"role_id" json:"role_id"`
	PermissionID string `bson:"permission_id" json:"permission_id"`
}

// RoleAssignment grants one role to a principal (user or api client).
type RoleAssignment struct {
	PrincipalID   string        `bson:"principal_id" json:"principal_id"`
	PrincipalType PrincipalType `bson:"principal_type" json:"principal_type"`
	RoleID        string        `bson:"role_id" json:"role_id"`
}

// Access is the resolved authorization state of a principal for one
// application: role slugs plus flattened, deduplicated "resource:action"
// permission strings.
type Access struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}
