package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// JobFilter narrows ListJobs. Results are newest first.
type JobFilter struct {
	OrganizationID string
	ScheduleID     string
	AccountID      string
	Limit          int
}

const jobColumns = `id, schedule_id, organization_id, trust_account_id, statement_id, status, started_at,
	completed_at, matched_count, unmatched_ledger_count, unmatched_statement_count, ledger_balance,
	statement_closing_balance, discrepancy, error_detail, created_by`

// InsertJob stores a sealed reconciliation job. Jobs are never updated afterwards.
func (q *queries) InsertJob(ctx context.Context, j model.ReconciliationJob) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO reconciliation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ScheduleID, j.OrganizationID, j.TrustAccountID, j.StatementID, string(j.Status),
		formatTS(j.StartedAt), formatTS(j.CompletedAt), j.MatchedCount, j.UnmatchedLedgerCount,
		j.UnmatchedStatementCount, j.LedgerBalance.String(), nullDecimal(j.StatementClosingBalance),
		nullDecimal(j.Discrepancy), j.ErrorDetail, j.CreatedBy)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", j.ID, err)
	}
	return nil
}

// ListJobs returns job history, newest first.
func (q *queries) ListJobs(ctx context.Context, f JobFilter) ([]model.ReconciliationJob, error) {
	var where []string
	var args []any
	if f.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if f.ScheduleID != "" {
		where = append(where, "schedule_id = ?")
		args = append(args, f.ScheduleID)
	}
	if f.AccountID != "" {
		where = append(where, "trust_account_id = ?")
		args = append(args, f.AccountID)
	}

	query := `SELECT ` + jobColumns + ` FROM reconciliation_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completed_at DESC, started_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.ReconciliationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(s scanner) (model.ReconciliationJob, error) {
	var j model.ReconciliationJob
	var status, started, completed, balance string
	var closing, discrepancy sql.NullString
	err := s.Scan(&j.ID, &j.ScheduleID, &j.OrganizationID, &j.TrustAccountID, &j.StatementID, &status,
		&started, &completed, &j.MatchedCount, &j.UnmatchedLedgerCount, &j.UnmatchedStatementCount,
		&balance, &closing, &discrepancy, &j.ErrorDetail, &j.CreatedBy)
	if err != nil {
		return model.ReconciliationJob{}, err
	}
	j.Status = model.JobStatus(status)
	if j.StartedAt, err = parseTS(started); err != nil {
		return model.ReconciliationJob{}, err
	}
	if j.CompletedAt, err = parseTS(completed); err != nil {
		return model.ReconciliationJob{}, err
	}
	if j.LedgerBalance, err = decimal.NewFromString(balance); err != nil {
		return model.ReconciliationJob{}, fmt.Errorf("parsing ledger balance %q: %w", balance, err)
	}
	if j.StatementClosingBalance, err = scanNullDecimal(closing); err != nil {
		return model.ReconciliationJob{}, err
	}
	if j.Discrepancy, err = scanNullDecimal(discrepancy); err != nil {
		return model.ReconciliationJob{}, err
	}
	return j, nil
}
