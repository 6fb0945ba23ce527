package rbac

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// EffectivePermissions is the de-duplicated union of permission names across
// the principal's roles, sorted for stable output.
func EffectivePermissions(p Principal) []string {
	if isNil(p) {
		return []string{}
	}
	set := make(map[string]struct{})
	for _, grant := range p.GrantedRoles() {
		for _, perm := range grant.Permissions {
			name := normalize(perm.Name)
			if name == "" {
				continue
			}
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Authorize reports whether p may perform perm. Administrators are always
// allowed; a nil principal or an empty permission is always denied.
func Authorize(p Principal, perm string) bool {
	if isNil(p) {
		return false
	}
	perm = normalize(perm)
	if perm == "" {
		return false
	}
	if p.IsSuperUser() {
		return true
	}
	return slices.Contains(EffectivePermissions(p), perm)
}

// AuthorizeAdmin reports whether p is an active administrator. Operations
// that can grant privileges use it instead of a delegable permission.
func AuthorizeAdmin(p Principal) bool {
	return !isNil(p) && p.IsSuperUser()
}

// AuthorizeAny reports whether p holds at least one of perms.
func AuthorizeAny(p Principal, perms ...string) bool {
	for _, perm := range perms {
		if Authorize(p, perm) {
			return true
		}
	}
	return false
}

// AuthorizeSelfOrPermission allows p to act on its own record, or on any
// record when it holds perm.
func AuthorizeSelfOrPermission(p Principal, target uuid.UUID, perm string) bool {
	if isNil(p) {
		return false
	}
	if target != uuid.Nil && p.GetID() == target {
		return true
	}
	return Authorize(p, perm)
}

func normalize(perm string) string {
	return strings.ToLower(strings.TrimSpace(perm))
}

func isNil(p Principal) bool {
	if p == nil {
		return true
	}
	if a, ok := p.(*Actor); ok && a == nil {
		return true
	}
	return false
}
