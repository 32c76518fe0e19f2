package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// AnomalyFilter narrows ListAnomalies.
type AnomalyFilter struct {
	OrganizationID string
	AccountID      string
	TransactionID  string
	OpenOnly       bool // detected or flagged
}

const anomalyColumns = `id, organization_id, trust_account_id, transaction_id, category, severity, score,
	confidence, details, status, assigned_to, resolution_notes, resolved_by, detected_at, updated_at`

// FindAnomaly looks up the anomaly for an (organization, transaction, category) key.
func (q *queries) FindAnomaly(ctx context.Context, orgID, txnID string, cat model.AnomalyCategory) (model.FinancialAnomaly, bool, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+anomalyColumns+` FROM financial_anomalies
		WHERE organization_id = ? AND transaction_id = ? AND category = ?`,
		orgID, txnID, string(cat))
	a, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FinancialAnomaly{}, false, nil
	}
	if err != nil {
		return model.FinancialAnomaly{}, false, fmt.Errorf("finding anomaly: %w", err)
	}
	return a, true, nil
}

// GetAnomaly returns an anomaly by ID.
func (q *queries) GetAnomaly(ctx context.Context, id string) (model.FinancialAnomaly, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+anomalyColumns+` FROM financial_anomalies WHERE id = ?`, id)
	a, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FinancialAnomaly{}, &model.NotFoundError{Resource: "anomaly", ID: id}
	}
	if err != nil {
		return model.FinancialAnomaly{}, fmt.Errorf("reading anomaly %s: %w", id, err)
	}
	return a, nil
}

// InsertAnomaly stores a new anomaly.
func (q *queries) InsertAnomaly(ctx context.Context, a model.FinancialAnomaly) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO financial_anomalies (`+anomalyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrganizationID, a.TrustAccountID, a.TransactionID, string(a.Category), string(a.Severity),
		a.Score, a.Confidence, a.Details, string(a.Status), a.AssignedTo, a.ResolutionNotes, a.ResolvedBy,
		formatTS(a.DetectedAt), formatTS(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting anomaly %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAnomaly overwrites the mutable fields of an anomaly.
func (q *queries) UpdateAnomaly(ctx context.Context, a model.FinancialAnomaly) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE financial_anomalies SET severity = ?, score = ?, confidence = ?, details = ?, status = ?,
			assigned_to = ?, resolution_notes = ?, resolved_by = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Severity), a.Score, a.Confidence, a.Details, string(a.Status), a.AssignedTo,
		a.ResolutionNotes, a.ResolvedBy, formatTS(a.UpdatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("updating anomaly %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Resource: "anomaly", ID: a.ID}
	}
	return nil
}

// ListAnomalies returns anomalies ordered by detection time.
func (q *queries) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]model.FinancialAnomaly, error) {
	var where []string
	var args []any
	if f.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if f.AccountID != "" {
		where = append(where, "trust_account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, f.TransactionID)
	}
	if f.OpenOnly {
		where = append(where, "status IN (?, ?)")
		args = append(args, string(model.AnomalyDetected), string(model.AnomalyFlagged))
	}

	query := `SELECT ` + anomalyColumns + ` FROM financial_anomalies`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at, transaction_id, category"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing anomalies: %w", err)
	}
	defer rows.Close()

	var out []model.FinancialAnomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAnomalyEvent appends to an anomaly's history.
func (q *queries) InsertAnomalyEvent(ctx context.Context, e model.AnomalyEvent) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO anomaly_events (id, anomaly_id, from_status, to_status, actor, notes, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AnomalyID, string(e.From), string(e.To), e.Actor, e.Notes, formatTS(e.At))
	if err != nil {
		return fmt.Errorf("inserting anomaly event: %w", err)
	}
	return nil
}

// ListAnomalyEvents returns an anomaly's history, oldest first.
func (q *queries) ListAnomalyEvents(ctx context.Context, anomalyID string) ([]model.AnomalyEvent, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, anomaly_id, from_status, to_status, actor, notes, at
		FROM anomaly_events WHERE anomaly_id = ? ORDER BY at, rowid`, anomalyID)
	if err != nil {
		return nil, fmt.Errorf("listing anomaly events: %w", err)
	}
	defer rows.Close()

	var events []model.AnomalyEvent
	for rows.Next() {
		var e model.AnomalyEvent
		var from, to, at string
		if err := rows.Scan(&e.ID, &e.AnomalyID, &from, &to, &e.Actor, &e.Notes, &at); err != nil {
			return nil, fmt.Errorf("scanning anomaly event: %w", err)
		}
		e.From = model.AnomalyStatus(from)
		e.To = model.AnomalyStatus(to)
		ts, err := parseTS(at)
		if err != nil {
			return nil, err
		}
		e.At = ts
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanAnomaly(s scanner) (model.FinancialAnomaly, error) {
	var a model.FinancialAnomaly
	var cat, sev, status, detected, updated string
	err := s.Scan(&a.ID, &a.OrganizationID, &a.TrustAccountID, &a.TransactionID, &cat, &sev, &a.Score,
		&a.Confidence, &a.Details, &status, &a.AssignedTo, &a.ResolutionNotes, &a.ResolvedBy, &detected, &updated)
	if err != nil {
		return model.FinancialAnomaly{}, err
	}
	a.Category = model.AnomalyCategory(cat)
	a.Severity = model.Severity(sev)
	a.Status = model.AnomalyStatus(status)
	if a.DetectedAt, err = parseTS(detected); err != nil {
		return model.FinancialAnomaly{}, err
	}
	if a.UpdatedAt, err = parseTS(updated); err != nil {
		return model.FinancialAnomaly{}, err
	}
	return a, nil
}
