package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/cleared-dev/trustrecon/internal/audit"
)

// AuditFilter narrows ListAudit. Results are oldest first.
type AuditFilter struct {
	OrganizationID string
	ResourceID     string
	Action         string
	Limit          int
}

// AppendAudit writes an audit entry. Inside WithTx a failure here aborts the whole unit.
func (q *queries) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, organization_id, actor, action, resource, resource_id, details, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrganizationID, e.Actor, e.Action, e.Resource, e.ResourceID, e.Details, formatTS(e.Timestamp))
	if err != nil {
		return fmt.Errorf("writing audit entry %s: %w", e.Action, err)
	}
	return nil
}

// ListAudit returns audit entries.
func (q *queries) ListAudit(ctx context.Context, f AuditFilter) ([]audit.Entry, error) {
	var where []string
	var args []any
	if f.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}

	query := `SELECT id, organization_id, actor, action, resource, resource_id, details, at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at, rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var at string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.Actor, &e.Action, &e.Resource, &e.ResourceID, &e.Details, &at); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		ts, err := parseTS(at)
		if err != nil {
			return nil, err
		}
		e.Timestamp = ts
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
