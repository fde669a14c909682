package mongodb

const (
	AccountsCollection        = "accounts"
	ApplicationsCollection    = "applications"
	UsersCollection           = "users"
	ApiClientsCollection      = "api_clients"
	RolesCollection           = "roles"
	PermissionsCollection     = "permissions"
	RolePermissionsCollection = "role_permissions"
	RoleAssignmentsCollection = "role_assignments"
	AuthCodesCollection       = "oauth_auth_codes"
	RefreshTokensCollection   = "oauth_refresh_tokens"
	SessionsCollection        = "user_sessions"
	MfaChallengesCollection   = "mfa_challenges"
	RateLimitsCollection      = "rate_limit_counters"
)
