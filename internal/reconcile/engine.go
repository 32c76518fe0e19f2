// Package reconcile matches ledger transactions against parsed bank statements and seals
// reconciliation jobs.
//
// Clearing a matched transaction and writing its audit entry happen in one store transaction.
// Finalizing marks every matched transaction reconciled, which is irrevocable.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/id"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

// Result is the outcome of reconciling one statement against one trust account.
type Result struct {
	TrustAccountID          string
	OrganizationID          string
	PeriodStart             time.Time
	PeriodEnd               time.Time
	Matched                 []Match
	UnmatchedLedger         []model.TrustTransaction
	UnmatchedStatement      []model.StatementTransaction // possible missing ledger entries
	LedgerBalance           decimal.Decimal
	StatementClosingBalance *decimal.Decimal
	Discrepancy             *decimal.Decimal // LedgerBalance - StatementClosingBalance
}

// Engine reconciles statements against the ledger.
type Engine struct {
	db            store.DB
	toleranceDays int
	now           func() time.Time
}

// NewEngine creates an Engine matching amounts within toleranceDays of each other.
func NewEngine(db store.DB, toleranceDays int) *Engine {
	return &Engine{db: db, toleranceDays: toleranceDays, now: time.Now}
}

// Reconcile matches the statement and clears every matched ledger transaction with the
// statement's date. Nothing is cleared if any write, including an audit write, fails.
func (e *Engine) Reconcile(ctx context.Context, trustAccountID string, stmt *model.ParsedStatement, actor string) (*Result, error) {
	var res *Result
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = e.reconcile(ctx, tx, trustAccountID, stmt, actor, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Preview matches the statement without persisting anything.
func (e *Engine) Preview(ctx context.Context, trustAccountID string, stmt *model.ParsedStatement) (*Result, error) {
	return e.reconcile(ctx, e.db, trustAccountID, stmt, "", false)
}

// FinalizeParams describes the job to seal.
type FinalizeParams struct {
	Result      *Result
	ScheduleID  string
	StatementID string
	Actor       string
	StartedAt   time.Time
}

// Finalize marks every matched transaction reconciled and seals a completed job.
func (e *Engine) Finalize(ctx context.Context, p FinalizeParams) (*model.ReconciliationJob, error) {
	var job *model.ReconciliationJob
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		var err error
		job, err = e.finalize(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RunParams describes a combined reconcile-and-finalize run.
type RunParams struct {
	TrustAccountID string
	Statement      *model.ParsedStatement
	StatementID    string
	ScheduleID     string
	Actor          string
	StartedAt      time.Time
}

// ReconcileAndFinalize clears, reconciles and seals in a single store transaction.
func (e *Engine) ReconcileAndFinalize(ctx context.Context, p RunParams) (*Result, *model.ReconciliationJob, error) {
	var (
		res *Result
		job *model.ReconciliationJob
	)
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if res, err = e.reconcile(ctx, tx, p.TrustAccountID, p.Statement, p.Actor, true); err != nil {
			return err
		}
		job, err = e.finalize(ctx, tx, FinalizeParams{
			Result:      res,
			ScheduleID:  p.ScheduleID,
			StatementID: p.StatementID,
			Actor:       p.Actor,
			StartedAt:   p.StartedAt,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, job, nil
}

func (e *Engine) reconcile(ctx context.Context, tx store.Tx, accountID string, stmt *model.ParsedStatement, actor string, apply bool) (*Result, error) {
	if stmt == nil || len(stmt.Transactions) == 0 {
		return nil, &model.ValidationError{Field: "statement", Reason: "no transactions"}
	}
	acct, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Only postings that existed when the run started are candidates.
	snapshot := e.now().UTC()
	from := stmt.PeriodStart.AddDate(0, 0, -e.toleranceDays)
	to := stmt.PeriodEnd.AddDate(0, 0, e.toleranceDays)
	candidates, err := tx.ListTransactions(ctx, store.TransactionFilter{
		AccountID:     accountID,
		From:          &from,
		To:            &to,
		UnclearedOnly: true,
		CreatedBefore: &snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("reading ledger candidates: %w", err)
	}

	set := Pairs(candidates, stmt.Transactions, e.toleranceDays)

	if apply {
		for _, m := range set.Matched {
			cleared := m.Statement.Date
			if err := tx.SetCleared(ctx, m.Ledger.ID, true, &cleared); err != nil {
				return nil, err
			}
			details := fmt.Sprintf("cleared_date=%s method=%s statement_row=%d", cleared.Format("2006-01-02"), m.Method, m.StatementIndex+1)
			if err := tx.AppendAudit(ctx, audit.New(e.now(), acct.OrganizationID, actor, audit.ActionTransactionCleared, "transaction", m.Ledger.ID, details)); err != nil {
				return nil, err
			}
		}
	}

	periodEnd := stmt.PeriodEnd
	balance, err := tx.Balance(ctx, accountID, &periodEnd)
	if err != nil {
		return nil, err
	}

	res := &Result{
		TrustAccountID:          accountID,
		OrganizationID:          acct.OrganizationID,
		PeriodStart:             stmt.PeriodStart,
		PeriodEnd:               stmt.PeriodEnd,
		Matched:                 set.Matched,
		UnmatchedLedger:         set.UnmatchedLedger,
		UnmatchedStatement:      set.UnmatchedStatement,
		LedgerBalance:           balance,
		StatementClosingBalance: stmt.ClosingBalance,
	}
	if stmt.ClosingBalance != nil {
		d := balance.Sub(*stmt.ClosingBalance)
		res.Discrepancy = &d
	}
	return res, nil
}

func (e *Engine) finalize(ctx context.Context, tx store.Tx, p FinalizeParams) (*model.ReconciliationJob, error) {
	if p.Result == nil {
		return nil, &model.ValidationError{Field: "result", Reason: "required"}
	}
	r := p.Result
	now := e.now().UTC()
	reconciledOn := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for _, m := range r.Matched {
		if err := tx.MarkReconciled(ctx, m.Ledger.ID, reconciledOn); err != nil {
			return nil, err
		}
		if err := tx.AppendAudit(ctx, audit.New(now, r.OrganizationID, p.Actor, audit.ActionTransactionReconciled, "transaction", m.Ledger.ID, "")); err != nil {
			return nil, err
		}
	}

	started := p.StartedAt
	if started.IsZero() {
		started = now
	}
	job := &model.ReconciliationJob{
		ID:                      id.New(),
		ScheduleID:              p.ScheduleID,
		OrganizationID:          r.OrganizationID,
		TrustAccountID:          r.TrustAccountID,
		StatementID:             p.StatementID,
		Status:                  model.JobStatusCompleted,
		StartedAt:               started.UTC(),
		CompletedAt:             now,
		MatchedCount:            len(r.Matched),
		UnmatchedLedgerCount:    len(r.UnmatchedLedger),
		UnmatchedStatementCount: len(r.UnmatchedStatement),
		LedgerBalance:           r.LedgerBalance,
		StatementClosingBalance: r.StatementClosingBalance,
		Discrepancy:             r.Discrepancy,
		CreatedBy:               p.Actor,
	}
	if err := tx.InsertJob(ctx, *job); err != nil {
		return nil, err
	}

	details := fmt.Sprintf("matched=%d unmatched_ledger=%d unmatched_statement=%d", job.MatchedCount, job.UnmatchedLedgerCount, job.UnmatchedStatementCount)
	if job.Discrepancy != nil {
		details += " discrepancy=" + job.Discrepancy.StringFixed(2)
	}
	if err := tx.AppendAudit(ctx, audit.New(now, r.OrganizationID, p.Actor, audit.ActionJobSealed, "reconciliation_job", job.ID, details)); err != nil {
		return nil, err
	}
	return job, nil
}
