package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

const invitationColumns = `id, email, first_name, last_name, token_hash, role_id, invited_by, expires_at, used, used_at, revoked_at, created_at`

// activeInvitation matches unused, unrevoked invitations whose expiry has
// not passed at $now.
const activeInvitation = `NOT used AND revoked_at IS NULL AND expires_at >= $1`

func scanInvitation(row pgx.Row) (identity.Invitation, error) {
	var inv identity.Invitation
	err := row.Scan(&inv.ID, &inv.Email, &inv.FirstName, &inv.LastName, &inv.TokenHash, &inv.RoleID, &inv.InvitedBy,
		&inv.ExpiresAt, &inv.Used, &inv.UsedAt, &inv.RevokedAt, &inv.CreatedAt)
	return inv, err
}

func (q *queries) CreateInvitation(ctx context.Context, inv identity.Invitation) error {
	_, err := q.db.Exec(ctx, `INSERT INTO invitations (`+invitationColumns+`, email_normalized)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.ID, inv.Email, inv.FirstName, inv.LastName, inv.TokenHash, inv.RoleID, inv.InvitedBy,
		inv.ExpiresAt, inv.Used, inv.UsedAt, inv.RevokedAt, inv.CreatedAt, identity.NormalizeEmail(inv.Email))
	return mapError("create invitation", err)
}

func (q *queries) GetInvitation(ctx context.Context, id uuid.UUID) (identity.Invitation, error) {
	inv, err := scanInvitation(q.db.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Invitation{}, notFound("invitation")
	}
	return inv, mapError("get invitation", err)
}

func (q *queries) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (identity.Invitation, error) {
	inv, err := scanInvitation(q.db.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Invitation{}, notFound("invitation")
	}
	return inv, mapError("get invitation by token", err)
}

func (q *queries) ListActiveInvitations(ctx context.Context, now time.Time) ([]identity.Invitation, error) {
	rows, err := q.db.Query(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE `+activeInvitation+`
		ORDER BY created_at DESC`, now)
	if err != nil {
		return nil, mapError("list invitations", err)
	}
	defer rows.Close()
	out := []identity.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, mapError("scan invitation", err)
		}
		out = append(out, inv)
	}
	return out, mapError("list invitations", rows.Err())
}

func (q *queries) HasActiveInvitation(ctx context.Context, email string, now time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invitations
		WHERE `+activeInvitation+` AND email_normalized = $2)`, now, identity.NormalizeEmail(email)).Scan(&exists)
	return exists, mapError("check active invitation", err)
}

func (q *queries) MarkInvitationUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE invitations SET used = TRUE, used_at = $2 WHERE id = $1 AND used = FALSE`, id, at)
	if err != nil {
		return false, mapError("mark invitation used", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) RevokeInvitation(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE invitations SET expires_at = $2, revoked_at = $2
		WHERE id = $1 AND used = FALSE AND revoked_at IS NULL`, id, at)
	if err != nil {
		return false, mapError("revoke invitation", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := q.GetInvitation(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
