package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

func (q *queries) AppendAudit(ctx context.Context, rec identity.AuditRecord) error {
	_, err := q.db.Exec(ctx, `INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, detail, ip_address, user_agent, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ActorID, rec.Action, rec.ResourceType, rec.ResourceID, rec.Detail, rec.IPAddress, rec.UserAgent, rec.OccurredAt)
	return mapError("append audit", err)
}

func (q *queries) ListAudit(ctx context.Context, filter store.AuditFilter) ([]identity.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, values ...any) {
		for _, v := range values {
			args = append(args, v)
			clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		where = append(where, clause)
	}
	if filter.ActorID != nil {
		add("actor_id = ?", *filter.ActorID)
	}
	if filter.Action != "" {
		add("action = ?", filter.Action)
	}
	if filter.ResourceType != "" {
		add("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = ?", filter.ResourceID)
	}
	if filter.Since != nil {
		add("occurred_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		add("occurred_at < ?", *filter.Until)
	}
	if filter.After != nil {
		add("(occurred_at, id) < (?, ?)", filter.After.OccurredAt, filter.After.ID)
	}

	query := `SELECT id, actor_id, action, resource_type, resource_id, detail, ip_address, user_agent, occurred_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list audit", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (identity.AuditRecord, error) {
		var rec identity.AuditRecord
		err := row.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.ResourceType, &rec.ResourceID, &rec.Detail, &rec.IPAddress, &rec.UserAgent, &rec.OccurredAt)
		return rec, err
	})
	if err != nil {
		return nil, mapError("list audit", err)
	}
	return records, nil
}
