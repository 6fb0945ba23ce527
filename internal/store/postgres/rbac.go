package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const (
	roleColumns       = `id, name, description, is_system, created_at, updated_at`
	permissionColumns = `id, name, description, resource, action, created_at`
)

func scanRole(row pgx.Row) (identity.Role, error) {
	var r identity.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row pgx.Row) (identity.Permission, error) {
	var p identity.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.CreatedAt)
	return p, err
}

func collectRoles(rows pgx.Rows, op string) ([]identity.Role, error) {
	defer rows.Close()
	roles := []identity.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		roles = append(roles, r)
	}
	return roles, mapError(op, rows.Err())
}

func collectPermissions(rows pgx.Rows, op string) ([]identity.Permission, error) {
	defer rows.Close()
	perms := []identity.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		perms = append(perms, p)
	}
	return perms, mapError(op, rows.Err())
}

func (q *queries) CreateRole(ctx context.Context, r identity.Role) error {
	_, err := q.db.Exec(ctx, `INSERT INTO roles (`+roleColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Name, r.Description, r.IsSystem, r.CreatedAt, r.UpdatedAt)
	return mapError("create role", err)
}

func (q *queries) GetRole(ctx context.Context, id uuid.UUID) (identity.Role, error) {
	r, err := scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Role{}, notFound("role")
	}
	return r, mapError("get role", err)
}

func (q *queries) GetRoleByName(ctx context.Context, name string) (identity.Role, error) {
	r, err := scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE LOWER(name) = LOWER($1)`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Role{}, notFound("role")
	}
	return r, mapError("get role by name", err)
}

func (q *queries) ListRoles(ctx context.Context) ([]identity.Role, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, mapError("list roles", err)
	}
	return collectRoles(rows, "list roles")
}

func (q *queries) UpdateRole(ctx context.Context, r identity.Role) error {
	tag, err := q.db.Exec(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
		r.ID, r.Name, r.Description, r.UpdatedAt)
	if err != nil {
		return mapError("update role", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("role")
	}
	return nil
}

func (q *queries) DeleteRole(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return mapError("delete role", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("role")
	}
	return nil
}

func (q *queries) CreatePermission(ctx context.Context, p identity.Permission) error {
	_, err := q.db.Exec(ctx, `INSERT INTO permissions (`+permissionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Description, p.Resource, p.Action, p.CreatedAt)
	return mapError("create permission", err)
}

func (q *queries) GetPermissionByName(ctx context.Context, name string) (identity.Permission, error) {
	p, err := scanPermission(q.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Permission{}, notFound("permission")
	}
	return p, mapError("get permission by name", err)
}

func (q *queries) ListPermissions(ctx context.Context) ([]identity.Permission, error) {
	rows, err := q.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, mapError("list permissions", err)
	}
	return collectPermissions(rows, "list permissions")
}

func (q *queries) PermissionsByID(ctx context.Context, ids []uuid.UUID) ([]identity.Permission, error) {
	unique := dedupe(ids)
	rows, err := q.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) ORDER BY name`, unique)
	if err != nil {
		return nil, mapError("permissions by id", err)
	}
	perms, err := collectPermissions(rows, "permissions by id")
	if err != nil {
		return nil, err
	}
	if len(perms) != len(unique) {
		return nil, shared.Errorf(shared.ErrNotFound, "one or more permissions not found")
	}
	return perms, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// replaceEdges rewrites a join table for owner. Callers run it inside a
// transaction so the delete and insert are atomic.
func (q *queries) replaceEdges(ctx context.Context, table, ownerCol, targetCol string, owner uuid.UUID, targets []uuid.UUID) error {
	op := "replace " + table
	if _, err := q.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, ownerCol), owner); err != nil {
		return mapError(op, err)
	}
	targets = dedupe(targets)
	if len(targets) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s, %s) SELECT $1, UNNEST($2::uuid[])`, table, ownerCol, targetCol), owner, targets)
	return mapError(op, err)
}

func (q *queries) SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if _, err := q.GetRole(ctx, roleID); err != nil {
		return err
	}
	return q.replaceEdges(ctx, "role_permissions", "role_id", "permission_id", roleID, permissionIDs)
}

func (q *queries) PermissionsOf(ctx context.Context, roleID uuid.UUID) ([]identity.Permission, error) {
	rows, err := q.db.Query(ctx, `SELECT p.id, p.name, p.description, p.resource, p.action, p.created_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, mapError("permissions of role", err)
	}
	return collectPermissions(rows, "permissions of role")
}

func (q *queries) SetUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	if _, err := q.GetUser(ctx, userID); err != nil {
		return err
	}
	return q.replaceEdges(ctx, "user_roles", "user_id", "role_id", userID, roleIDs)
}

func (q *queries) AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	return mapError("add user role", err)
}

func (q *queries) RolesOf(ctx context.Context, userID uuid.UUID) ([]identity.Role, error) {
	rows, err := q.db.Query(ctx, `SELECT r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, mapError("roles of user", err)
	}
	return collectRoles(rows, "roles of user")
}
