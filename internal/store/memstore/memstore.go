// Package memstore is an in-memory store.Store. Transactions hold a single
// lock for their whole duration and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

type state struct {
	users           map[uuid.UUID]identity.User
	roles           map[uuid.UUID]identity.Role
	permissions     map[uuid.UUID]identity.Permission
	rolePermissions map[uuid.UUID]map[uuid.UUID]struct{}
	userRoles       map[uuid.UUID]map[uuid.UUID]struct{}
	invitations     map[uuid.UUID]identity.Invitation
	audit           []identity.AuditRecord
	accessRequests  map[uuid.UUID]identity.AccessRequest
	bootstrap       *uuid.UUID
}

func newState() *state {
	return &state{
		users:           map[uuid.UUID]identity.User{},
		roles:           map[uuid.UUID]identity.Role{},
		permissions:     map[uuid.UUID]identity.Permission{},
		rolePermissions: map[uuid.UUID]map[uuid.UUID]struct{}{},
		userRoles:       map[uuid.UUID]map[uuid.UUID]struct{}{},
		invitations:     map[uuid.UUID]identity.Invitation{},
		accessRequests:  map[uuid.UUID]identity.AccessRequest{},
	}
}

func cloneEdges(in map[uuid.UUID]map[uuid.UUID]struct{}) map[uuid.UUID]map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(in))
	for k, v := range in {
		out[k] = maps.Clone(v)
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		users:           maps.Clone(s.users),
		roles:           maps.Clone(s.roles),
		permissions:     maps.Clone(s.permissions),
		rolePermissions: cloneEdges(s.rolePermissions),
		userRoles:       cloneEdges(s.userRoles),
		invitations:     maps.Clone(s.invitations),
		audit:           slices.Clone(s.audit),
		accessRequests:  maps.Clone(s.accessRequests),
		bootstrap:       s.bootstrap,
	}
}

// Store keeps every entity in process memory.
type Store struct {
	queries
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	s := &Store{st: newState()}
	s.queries = queries{store: s}
	return s
}

// WithTx runs fn while holding the store lock, restoring the previous state
// when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return shared.Persistence("memstore: begin tx", err)
	}
	snapshot := s.st.clone()
	if err := fn(ctx, &queries{store: s, inTx: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type queries struct {
	store *Store
	inTx  bool
}

func (q *queries) with(fn func(st *state) error) error {
	if !q.inTx {
		q.store.mu.Lock()
		defer q.store.mu.Unlock()
	}
	return fn(q.store.st)
}

func notFound(entity string) error {
	return shared.Errorf(shared.ErrNotFound, "%s not found", entity)
}

func conflict(format string, args ...any) error {
	return shared.Errorf(shared.ErrConflict, format, args...)
}

// Users.

func (q *queries) CreateUser(_ context.Context, user identity.User) error {
	return q.with(func(st *state) error {
		if user.PasswordHash == "" {
			return shared.Errorf(shared.ErrValidation, "password hash required")
		}
		for _, existing := range st.users {
			if identity.NormalizeEmail(existing.Email) == identity.NormalizeEmail(user.Email) {
				return conflict("email already registered")
			}
		}
		st.users[user.ID] = user
		return nil
	})
}

func (q *queries) GetUser(_ context.Context, id uuid.UUID) (identity.User, error) {
	var out identity.User
	err := q.with(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return notFound("user")
		}
		out = user
		return nil
	})
	return out, err
}

func (q *queries) GetUserByEmail(_ context.Context, email string) (identity.User, error) {
	var out identity.User
	err := q.with(func(st *state) error {
		needle := identity.NormalizeEmail(email)
		for _, user := range st.users {
			if identity.NormalizeEmail(user.Email) == needle {
				out = user
				return nil
			}
		}
		return notFound("user")
	})
	return out, err
}

func (q *queries) ListUsers(_ context.Context, filter store.UserFilter) ([]identity.User, int, error) {
	var out []identity.User
	var total int
	err := q.with(func(st *state) error {
		search := strings.ToLower(strings.TrimSpace(filter.Search))
		all := make([]identity.User, 0, len(st.users))
		for _, user := range st.users {
			if search != "" && !strings.Contains(strings.ToLower(user.Email+" "+user.FullName()), search) {
				continue
			}
			all = append(all, user)
		}
		slices.SortFunc(all, func(a, b identity.User) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.Email, b.Email)
		})
		total = len(all)
		out = page(all, filter.Offset, filter.Limit)
		return nil
	})
	return out, total, err
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[max(offset, 0):]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (q *queries) UpdateUser(_ context.Context, user identity.User) error {
	return q.with(func(st *state) error {
		if _, ok := st.users[user.ID]; !ok {
			return notFound("user")
		}
		if user.PasswordHash == "" {
			return shared.Errorf(shared.ErrValidation, "password hash required")
		}
		for id, existing := range st.users {
			if id != user.ID && identity.NormalizeEmail(existing.Email) == identity.NormalizeEmail(user.Email) {
				return conflict("email already registered")
			}
		}
		st.users[user.ID] = user
		return nil
	})
}

func (q *queries) DeleteUser(_ context.Context, id uuid.UUID) error {
	return q.with(func(st *state) error {
		if _, ok := st.users[id]; !ok {
			return notFound("user")
		}
		delete(st.users, id)
		delete(st.userRoles, id)
		for reqID, req := range st.accessRequests {
			if req.RequesterID == id {
				delete(st.accessRequests, reqID)
			}
		}
		return nil
	})
}

func (q *queries) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return q.with(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return notFound("user")
		}
		user.LastLogin = &at
		st.users[id] = user
		return nil
	})
}

// Roles and permissions.

func (q *queries) CreateRole(_ context.Context, role identity.Role) error {
	return q.with(func(st *state) error {
		for _, existing := range st.roles {
			if strings.EqualFold(existing.Name, role.Name) {
				return conflict("role %q already exists", role.Name)
			}
		}
		st.roles[role.ID] = role
		return nil
	})
}

func (q *queries) GetRole(_ context.Context, id uuid.UUID) (identity.Role, error) {
	var out identity.Role
	err := q.with(func(st *state) error {
		role, ok := st.roles[id]
		if !ok {
			return notFound("role")
		}
		out = role
		return nil
	})
	return out, err
}

func (q *queries) GetRoleByName(_ context.Context, name string) (identity.Role, error) {
	var out identity.Role
	err := q.with(func(st *state) error {
		for _, role := range st.roles {
			if strings.EqualFold(role.Name, name) {
				out = role
				return nil
			}
		}
		return notFound("role")
	})
	return out, err
}

func (q *queries) ListRoles(_ context.Context) ([]identity.Role, error) {
	var out []identity.Role
	err := q.with(func(st *state) error {
		out = slices.SortedFunc(maps.Values(st.roles), func(a, b identity.Role) int {
			return strings.Compare(a.Name, b.Name)
		})
		return nil
	})
	return out, err
}

func (q *queries) UpdateRole(_ context.Context, role identity.Role) error {
	return q.with(func(st *state) error {
		if _, ok := st.roles[role.ID]; !ok {
			return notFound("role")
		}
		for id, existing := range st.roles {
			if id != role.ID && strings.EqualFold(existing.Name, role.Name) {
				return conflict("role %q already exists", role.Name)
			}
		}
		st.roles[role.ID] = role
		return nil
	})
}

func (q *queries) DeleteRole(_ context.Context, id uuid.UUID) error {
	return q.with(func(st *state) error {
		if _, ok := st.roles[id]; !ok {
			return notFound("role")
		}
		delete(st.roles, id)
		delete(st.rolePermissions, id)
		for _, edges := range st.userRoles {
			delete(edges, id)
		}
		for reqID, req := range st.accessRequests {
			if req.RoleID == id {
				delete(st.accessRequests, reqID)
			}
		}
		for invID, inv := range st.invitations {
			if inv.RoleID != nil && *inv.RoleID == id {
				inv.RoleID = nil
				st.invitations[invID] = inv
			}
		}
		return nil
	})
}

func (q *queries) CreatePermission(_ context.Context, perm identity.Permission) error {
	return q.with(func(st *state) error {
		for _, existing := range st.permissions {
			if existing.Name == perm.Name {
				return conflict("permission %q already exists", perm.Name)
			}
		}
		st.permissions[perm.ID] = perm
		return nil
	})
}

func (q *queries) GetPermissionByName(_ context.Context, name string) (identity.Permission, error) {
	var out identity.Permission
	err := q.with(func(st *state) error {
		for _, perm := range st.permissions {
			if perm.Name == name {
				out = perm
				return nil
			}
		}
		return notFound("permission")
	})
	return out, err
}

func sortPermissions(perms []identity.Permission) []identity.Permission {
	slices.SortFunc(perms, func(a, b identity.Permission) int {
		return strings.Compare(a.Name, b.Name)
	})
	return perms
}

func (q *queries) ListPermissions(_ context.Context) ([]identity.Permission, error) {
	var out []identity.Permission
	err := q.with(func(st *state) error {
		out = sortPermissions(slices.Collect(maps.Values(st.permissions)))
		return nil
	})
	return out, err
}

func (q *queries) PermissionsByID(_ context.Context, ids []uuid.UUID) ([]identity.Permission, error) {
	var out []identity.Permission
	err := q.with(func(st *state) error {
		seen := make(map[uuid.UUID]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			perm, ok := st.permissions[id]
			if !ok {
				return shared.Errorf(shared.ErrNotFound, "permission %s not found", id)
			}
			out = append(out, perm)
		}
		sortPermissions(out)
		return nil
	})
	return out, err
}

func (q *queries) SetRolePermissions(_ context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	return q.with(func(st *state) error {
		if _, ok := st.roles[roleID]; !ok {
			return notFound("role")
		}
		edges := make(map[uuid.UUID]struct{}, len(permissionIDs))
		for _, id := range permissionIDs {
			if _, ok := st.permissions[id]; !ok {
				return shared.Errorf(shared.ErrNotFound, "permission %s not found", id)
			}
			edges[id] = struct{}{}
		}
		st.rolePermissions[roleID] = edges
		return nil
	})
}

func (q *queries) PermissionsOf(_ context.Context, roleID uuid.UUID) ([]identity.Permission, error) {
	var out []identity.Permission
	err := q.with(func(st *state) error {
		out = []identity.Permission{}
		for id := range st.rolePermissions[roleID] {
			out = append(out, st.permissions[id])
		}
		sortPermissions(out)
		return nil
	})
	return out, err
}

func (q *queries) SetUserRoles(_ context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	return q.with(func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return notFound("user")
		}
		edges := make(map[uuid.UUID]struct{}, len(roleIDs))
		for _, id := range roleIDs {
			if _, ok := st.roles[id]; !ok {
				return shared.Errorf(shared.ErrNotFound, "role %s not found", id)
			}
			edges[id] = struct{}{}
		}
		st.userRoles[userID] = edges
		return nil
	})
}

func (q *queries) AddUserRole(_ context.Context, userID, roleID uuid.UUID) error {
	return q.with(func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return notFound("user")
		}
		if _, ok := st.roles[roleID]; !ok {
			return notFound("role")
		}
		if st.userRoles[userID] == nil {
			st.userRoles[userID] = map[uuid.UUID]struct{}{}
		}
		st.userRoles[userID][roleID] = struct{}{}
		return nil
	})
}

func (q *queries) RolesOf(_ context.Context, userID uuid.UUID) ([]identity.Role, error) {
	var out []identity.Role
	err := q.with(func(st *state) error {
		out = []identity.Role{}
		for id := range st.userRoles[userID] {
			out = append(out, st.roles[id])
		}
		slices.SortFunc(out, func(a, b identity.Role) int { return strings.Compare(a.Name, b.Name) })
		return nil
	})
	return out, err
}

// Invitations.

func active(inv identity.Invitation, now time.Time) bool {
	return inv.State(now) == identity.InvitationPending
}

func (q *queries) CreateInvitation(_ context.Context, inv identity.Invitation) error {
	return q.with(func(st *state) error {
		for _, existing := range st.invitations {
			if existing.TokenHash == inv.TokenHash {
				return conflict("invitation token collision")
			}
		}
		if inv.RoleID != nil {
			if _, ok := st.roles[*inv.RoleID]; !ok {
				return notFound("role")
			}
		}
		st.invitations[inv.ID] = inv
		return nil
	})
}

func (q *queries) GetInvitation(_ context.Context, id uuid.UUID) (identity.Invitation, error) {
	var out identity.Invitation
	err := q.with(func(st *state) error {
		inv, ok := st.invitations[id]
		if !ok {
			return notFound("invitation")
		}
		out = inv
		return nil
	})
	return out, err
}

func (q *queries) GetInvitationByTokenHash(_ context.Context, tokenHash string) (identity.Invitation, error) {
	var out identity.Invitation
	err := q.with(func(st *state) error {
		for _, inv := range st.invitations {
			if inv.TokenHash == tokenHash {
				out = inv
				return nil
			}
		}
		return notFound("invitation")
	})
	return out, err
}

func (q *queries) ListActiveInvitations(_ context.Context, now time.Time) ([]identity.Invitation, error) {
	var out []identity.Invitation
	err := q.with(func(st *state) error {
		out = []identity.Invitation{}
		for _, inv := range st.invitations {
			if active(inv, now) {
				out = append(out, inv)
			}
		}
		slices.SortFunc(out, func(a, b identity.Invitation) int { return b.CreatedAt.Compare(a.CreatedAt) })
		return nil
	})
	return out, err
}

func (q *queries) HasActiveInvitation(_ context.Context, email string, now time.Time) (bool, error) {
	var found bool
	err := q.with(func(st *state) error {
		needle := identity.NormalizeEmail(email)
		for _, inv := range st.invitations {
			if identity.NormalizeEmail(inv.Email) == needle && active(inv, now) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (q *queries) MarkInvitationUsed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	var changed bool
	err := q.with(func(st *state) error {
		inv, ok := st.invitations[id]
		if !ok {
			return notFound("invitation")
		}
		if inv.Used {
			return nil
		}
		inv.Used = true
		inv.UsedAt = &at
		st.invitations[id] = inv
		changed = true
		return nil
	})
	return changed, err
}

func (q *queries) RevokeInvitation(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	var changed bool
	err := q.with(func(st *state) error {
		inv, ok := st.invitations[id]
		if !ok {
			return notFound("invitation")
		}
		if inv.Used || inv.RevokedAt != nil {
			return nil
		}
		inv.RevokedAt = &at
		inv.ExpiresAt = at
		st.invitations[id] = inv
		changed = true
		return nil
	})
	return changed, err
}

// Audit.

func (q *queries) AppendAudit(_ context.Context, rec identity.AuditRecord) error {
	return q.with(func(st *state) error {
		st.audit = append(st.audit, rec)
		return nil
	})
}

func newerFirst(a, b identity.AuditRecord) int {
	if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID.String(), a.ID.String())
}

func (q *queries) ListAudit(_ context.Context, filter store.AuditFilter) ([]identity.AuditRecord, error) {
	var out []identity.AuditRecord
	err := q.with(func(st *state) error {
		out = []identity.AuditRecord{}
		for _, rec := range st.audit {
			if !auditMatches(rec, filter) {
				continue
			}
			out = append(out, rec)
		}
		slices.SortFunc(out, newerFirst)
		out = page(out, 0, filter.Limit)
		return nil
	})
	return out, err
}

func auditMatches(rec identity.AuditRecord, filter store.AuditFilter) bool {
	if filter.ActorID != nil && (rec.ActorID == nil || *rec.ActorID != *filter.ActorID) {
		return false
	}
	if filter.Action != "" && rec.Action != filter.Action {
		return false
	}
	if filter.ResourceType != "" && rec.ResourceType != filter.ResourceType {
		return false
	}
	if filter.ResourceID != "" && rec.ResourceID != filter.ResourceID {
		return false
	}
	if filter.Since != nil && rec.OccurredAt.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && !rec.OccurredAt.Before(*filter.Until) {
		return false
	}
	if filter.After != nil {
		cursor := identity.AuditRecord{ID: filter.After.ID, OccurredAt: filter.After.OccurredAt}
		if newerFirst(rec, cursor) <= 0 {
			return false
		}
	}
	return true
}

// Access requests.

func (q *queries) CreateAccessRequest(_ context.Context, req identity.AccessRequest) error {
	return q.with(func(st *state) error {
		if _, ok := st.users[req.RequesterID]; !ok {
			return notFound("user")
		}
		if _, ok := st.roles[req.RoleID]; !ok {
			return notFound("role")
		}
		st.accessRequests[req.ID] = req
		return nil
	})
}

func (q *queries) GetAccessRequest(_ context.Context, id uuid.UUID) (identity.AccessRequest, error) {
	var out identity.AccessRequest
	err := q.with(func(st *state) error {
		req, ok := st.accessRequests[id]
		if !ok {
			return notFound("access request")
		}
		out = req
		return nil
	})
	return out, err
}

func (q *queries) ListAccessRequests(_ context.Context, filter store.AccessRequestFilter) ([]identity.AccessRequest, error) {
	var out []identity.AccessRequest
	err := q.with(func(st *state) error {
		out = []identity.AccessRequest{}
		for _, req := range st.accessRequests {
			if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
				continue
			}
			if filter.Status != "" && req.Status != filter.Status {
				continue
			}
			out = append(out, req)
		}
		slices.SortFunc(out, func(a, b identity.AccessRequest) int { return b.CreatedAt.Compare(a.CreatedAt) })
		return nil
	})
	return out, err
}

func (q *queries) HasPendingAccessRequest(_ context.Context, userID, roleID uuid.UUID) (bool, error) {
	var found bool
	err := q.with(func(st *state) error {
		for _, req := range st.accessRequests {
			if req.RequesterID == userID && req.RoleID == roleID && req.Status == identity.AccessRequestPending {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

func (q *queries) DecideAccessRequest(_ context.Context, req identity.AccessRequest) (bool, error) {
	var changed bool
	err := q.with(func(st *state) error {
		current, ok := st.accessRequests[req.ID]
		if !ok {
			return notFound("access request")
		}
		if current.Status != identity.AccessRequestPending {
			return nil
		}
		current.Status = req.Status
		current.ApproverID = req.ApproverID
		current.ApprovalNotes = req.ApprovalNotes
		current.DecidedAt = req.DecidedAt
		current.UpdatedAt = req.UpdatedAt
		st.accessRequests[req.ID] = current
		changed = true
		return nil
	})
	return changed, err
}

// Bootstrap.

func (q *queries) ClaimBootstrap(_ context.Context, userID uuid.UUID, _ time.Time) (bool, error) {
	var claimed bool
	err := q.with(func(st *state) error {
		if st.bootstrap != nil {
			return nil
		}
		st.bootstrap = &userID
		claimed = true
		return nil
	})
	return claimed, err
}

// LockEmail is a no-op: transactions already hold the store lock.
func (q *queries) LockEmail(context.Context, string) error { return nil }
