package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

const accessRequestColumns = `id, requester_id, role_id, status, reason, approver_id, approval_notes, created_at, updated_at, decided_at`

func scanAccessRequest(row pgx.Row) (identity.AccessRequest, error) {
	var req identity.AccessRequest
	var status string
	err := row.Scan(&req.ID, &req.RequesterID, &req.RoleID, &status, &req.Reason, &req.ApproverID, &req.ApprovalNotes,
		&req.CreatedAt, &req.UpdatedAt, &req.DecidedAt)
	req.Status = identity.AccessRequestStatus(status)
	return req, err
}

func (q *queries) CreateAccessRequest(ctx context.Context, req identity.AccessRequest) error {
	_, err := q.db.Exec(ctx, `INSERT INTO access_requests (`+accessRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.RequesterID, req.RoleID, string(req.Status), req.Reason, req.ApproverID, req.ApprovalNotes,
		req.CreatedAt, req.UpdatedAt, req.DecidedAt)
	return mapError("create access request", err)
}

func (q *queries) GetAccessRequest(ctx context.Context, id uuid.UUID) (identity.AccessRequest, error) {
	req, err := scanAccessRequest(q.db.QueryRow(ctx, `SELECT `+accessRequestColumns+` FROM access_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.AccessRequest{}, notFound("access request")
	}
	return req, mapError("get access request", err)
}

func (q *queries) ListAccessRequests(ctx context.Context, filter store.AccessRequestFilter) ([]identity.AccessRequest, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accessRequestColumns+` FROM access_requests
		WHERE ($1::uuid IS NULL OR requester_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`, filter.RequesterID, string(filter.Status))
	if err != nil {
		return nil, mapError("list access requests", err)
	}
	defer rows.Close()
	out := []identity.AccessRequest{}
	for rows.Next() {
		req, err := scanAccessRequest(rows)
		if err != nil {
			return nil, mapError("scan access request", err)
		}
		out = append(out, req)
	}
	return out, mapError("list access requests", rows.Err())
}

func (q *queries) HasPendingAccessRequest(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM access_requests
		WHERE requester_id = $1 AND role_id = $2 AND status = 'pending')`, userID, roleID).Scan(&exists)
	return exists, mapError("check pending access request", err)
}

func (q *queries) DecideAccessRequest(ctx context.Context, req identity.AccessRequest) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE access_requests
		SET status = $2, approver_id = $3, approval_notes = $4, decided_at = $5, updated_at = $6
		WHERE id = $1 AND status = 'pending'`,
		req.ID, string(req.Status), req.ApproverID, req.ApprovalNotes, req.DecidedAt, req.UpdatedAt)
	if err != nil {
		return false, mapError("decide access request", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := q.GetAccessRequest(ctx, req.ID); err != nil {
		return false, err
	}
	return false, nil
}
