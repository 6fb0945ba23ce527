package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

const userColumns = `id, email, first_name, last_name, password_hash, is_active, is_admin, created_at, updated_at, last_login`

func scanUser(row pgx.Row) (identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin)
	return u, err
}

func (q *queries) CreateUser(ctx context.Context, u identity.User) error {
	_, err := q.db.Exec(ctx, `INSERT INTO users (`+userColumns+`, email_normalized)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.IsAdmin, u.CreatedAt, u.UpdatedAt, u.LastLogin,
		identity.NormalizeEmail(u.Email))
	return mapError("create user", err)
}

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (identity.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.User{}, notFound("user")
	}
	return u, mapError("get user", err)
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email_normalized = $1`, identity.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.User{}, notFound("user")
	}
	return u, mapError("get user by email", err)
}

func (q *queries) ListUsers(ctx context.Context, filter store.UserFilter) ([]identity.User, int, error) {
	search := ""
	if filter.Search != "" {
		search = "%" + filter.Search + "%"
	}
	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM users
		WHERE $1 = '' OR email ILIKE $1 OR (first_name || ' ' || last_name) ILIKE $1`, search).Scan(&total); err != nil {
		return nil, 0, mapError("count users", err)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE $1 = '' OR email ILIKE $1 OR (first_name || ' ' || last_name) ILIKE $1
		ORDER BY created_at, email
		LIMIT $2 OFFSET $3`, search, limit, filter.Offset)
	if err != nil {
		return nil, 0, mapError("list users", err)
	}
	defer rows.Close()
	users := []identity.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, mapError("scan user", err)
		}
		users = append(users, u)
	}
	return users, total, mapError("list users", rows.Err())
}

func (q *queries) UpdateUser(ctx context.Context, u identity.User) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET email = $2, email_normalized = $3, first_name = $4, last_name = $5,
		password_hash = $6, is_active = $7, is_admin = $8, updated_at = $9
		WHERE id = $1`,
		u.ID, u.Email, identity.NormalizeEmail(u.Email), u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.IsAdmin, u.UpdatedAt)
	if err != nil {
		return mapError("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user")
	}
	return nil
}

func (q *queries) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user")
	}
	return nil
}

func (q *queries) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapError("touch last login", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user")
	}
	return nil
}

func (q *queries) ClaimBootstrap(ctx context.Context, userID uuid.UUID, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `INSERT INTO bootstrap_marker (id, user_id, claimed_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING`, userID, at)
	if err != nil {
		return false, mapError("claim bootstrap", err)
	}
	return tag.RowsAffected() == 1, nil
}
