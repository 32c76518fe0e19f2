package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// TransactionFilter narrows ListTransactions. Zero values mean "no constraint".
type TransactionFilter struct {
	AccountID       string
	From            *time.Time // transaction date, inclusive
	To              *time.Time // transaction date, inclusive
	UnclearedOnly   bool       // uncleared and unreconciled
	ClearedOnly     bool
	CreatedBefore   *time.Time // inclusive; snapshot bound for matching
	ReferencePrefix string
}

const txnColumns = `id, trust_account_id, client_id, amount, transaction_date, description, category,
	check_number, reference, is_cleared, cleared_date, is_reconciled, reconciled_date, created_at`

// InsertTransaction stores a posted ledger transaction.
func (q *queries) InsertTransaction(ctx context.Context, t model.TrustTransaction) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO trust_transactions (`+txnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TrustAccountID, t.ClientID, t.Amount.String(), formatDate(t.TransactionDate),
		t.Description, t.Category, t.CheckNumber, t.Reference,
		boolInt(t.IsCleared), nullDate(t.ClearedDate), boolInt(t.IsReconciled), nullDate(t.ReconciledDate),
		formatTS(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
	}
	return nil
}

// GetTransaction returns a ledger transaction by ID.
func (q *queries) GetTransaction(ctx context.Context, id string) (model.TrustTransaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM trust_transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrustTransaction{}, &model.NotFoundError{Resource: "transaction", ID: id}
	}
	if err != nil {
		return model.TrustTransaction{}, fmt.Errorf("reading transaction %s: %w", id, err)
	}
	return t, nil
}

// ListTransactions returns transactions ordered by date, posting time and ID.
func (q *queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.TrustTransaction, error) {
	var where []string
	var args []any
	if f.AccountID != "" {
		where = append(where, "trust_account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.From != nil {
		where = append(where, "transaction_date >= ?")
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		where = append(where, "transaction_date <= ?")
		args = append(args, formatDate(*f.To))
	}
	if f.UnclearedOnly {
		where = append(where, "is_cleared = 0 AND is_reconciled = 0")
	}
	if f.ClearedOnly {
		where = append(where, "is_cleared = 1")
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTS(*f.CreatedBefore))
	}
	if f.ReferencePrefix != "" {
		where = append(where, "substr(reference, 1, ?) = ?")
		args = append(args, len(f.ReferencePrefix), f.ReferencePrefix)
	}

	query := `SELECT ` + txnColumns + ` FROM trust_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY transaction_date, created_at, id"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.TrustTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// SetCleared toggles the cleared flag of an unreconciled transaction.
// A reconciled transaction yields a ConflictError and is left unchanged.
func (q *queries) SetCleared(ctx context.Context, id string, cleared bool, date *time.Time) error {
	if !cleared {
		date = nil
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE trust_transactions SET is_cleared = ?, cleared_date = ?
		WHERE id = ? AND is_reconciled = 0`,
		boolInt(cleared), nullDate(date), id)
	if err != nil {
		return fmt.Errorf("updating cleared flag of %s: %w", id, err)
	}
	return q.checkTransition(ctx, res, id, "transaction is reconciled")
}

// MarkReconciled seals a cleared transaction. Reconciliation is irrevocable.
func (q *queries) MarkReconciled(ctx context.Context, id string, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE trust_transactions SET is_reconciled = 1, reconciled_date = ?
		WHERE id = ? AND is_cleared = 1 AND is_reconciled = 0`,
		formatDate(at), id)
	if err != nil {
		return fmt.Errorf("reconciling %s: %w", id, err)
	}
	return q.checkTransition(ctx, res, id, "transaction is not cleared or already reconciled")
}

// checkTransition turns a zero-row update into NotFound or Conflict.
func (q *queries) checkTransition(ctx context.Context, res sql.Result, id, reason string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := q.GetTransaction(ctx, id); err != nil {
		return err
	}
	return &model.ConflictError{Resource: "transaction", ID: id, Reason: reason}
}

// Balance sums an account's transactions dated on or before asOf (all when asOf is nil).
func (q *queries) Balance(ctx context.Context, accountID string, asOf *time.Time) (decimal.Decimal, error) {
	query := `SELECT amount FROM trust_transactions WHERE trust_account_id = ?`
	args := []any{accountID}
	if asOf != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, formatDate(*asOf))
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing balance of %s: %w", accountID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, fmt.Errorf("scanning amount: %w", err)
		}
		amt, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
		}
		total = total.Add(amt)
	}
	return total, rows.Err()
}

func scanTransaction(s scanner) (model.TrustTransaction, error) {
	var t model.TrustTransaction
	var amount, date, created string
	var cleared, reconciled int
	var clearedDate, reconciledDate sql.NullString
	err := s.Scan(&t.ID, &t.TrustAccountID, &t.ClientID, &amount, &date, &t.Description, &t.Category,
		&t.CheckNumber, &t.Reference, &cleared, &clearedDate, &reconciled, &reconciledDate, &created)
	if err != nil {
		return model.TrustTransaction{}, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.TrustTransaction{}, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	if t.TransactionDate, err = parseDate(date); err != nil {
		return model.TrustTransaction{}, err
	}
	if t.ClearedDate, err = scanNullDate(clearedDate); err != nil {
		return model.TrustTransaction{}, err
	}
	if t.ReconciledDate, err = scanNullDate(reconciledDate); err != nil {
		return model.TrustTransaction{}, err
	}
	if t.CreatedAt, err = parseTS(created); err != nil {
		return model.TrustTransaction{}, err
	}
	t.IsCleared = cleared == 1
	t.IsReconciled = reconciled == 1
	return t, nil
}
