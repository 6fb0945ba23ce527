package shared

// Delegable IAM permissions, named resource:action. Role, permission,
// invitation, audit and access-request administration, and edits or deletes
// of other principals, are reserved to administrators and have no
// permission of their own.
const (
	PermUserList   = "user:list"
	PermUserRead   = "user:read"
	PermUserCreate = "user:create"
)

// System role names seeded on every installation.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUserList,
		PermUserRead,
		PermUserCreate,
	}
}
