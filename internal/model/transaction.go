package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxnType is the direction of money movement from the trust account's point of view.
type TxnType string

const (
	TxnDebit  TxnType = "debit"
	TxnCredit TxnType = "credit"
)

// TypeOf returns the direction implied by the sign of amount. Zero counts as a credit.
func TypeOf(amount decimal.Decimal) TxnType {
	if amount.IsNegative() {
		return TxnDebit
	}
	return TxnCredit
}

// Default transaction categories, used when the posting subsystem supplies none.
const (
	CategoryDeposit      = "deposit"
	CategoryDisbursement = "disbursement"
	CategoryInterest     = "interest"
)

// TrustTransaction is a posted ledger entry against a trust account.
//
// Once IsReconciled is true the cleared flag is frozen and the row can no longer be deleted.
type TrustTransaction struct {
	ID              string
	TrustAccountID  string
	ClientID        string          // client sub-ledger
	Amount          decimal.Decimal // negative = disbursement, positive = deposit
	TransactionDate time.Time
	Description     string
	Category        string
	CheckNumber     string
	Reference       string
	IsCleared       bool
	ClearedDate     *time.Time
	IsReconciled    bool
	ReconciledDate  *time.Time
	CreatedAt       time.Time
}

// Type returns the transaction direction.
func (t TrustTransaction) Type() TxnType { return TypeOf(t.Amount) }

// EffectiveCategory returns Category, falling back to a sign-derived default.
func (t TrustTransaction) EffectiveCategory() string {
	if t.Category != "" {
		return t.Category
	}
	if t.Amount.IsNegative() {
		return CategoryDisbursement
	}
	return CategoryDeposit
}

// StatementTransaction is one row parsed from a bank statement. It is never persisted.
type StatementTransaction struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Type        TxnType
	CheckNumber string
	Reference   string
}

// ParsedStatement is the canonical, format-independent output of statement parsing.
type ParsedStatement struct {
	Format         string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance *decimal.Decimal
	ClosingBalance *decimal.Decimal
	Transactions   []StatementTransaction

	// TotalRows counts candidate rows (CSV data rows or OFX transaction blocks);
	// SkippedRows counts those dropped because a date or amount could not be parsed.
	TotalRows   int
	SkippedRows int
}

// SkipRatio returns the fraction of candidate rows that were skipped.
func (p ParsedStatement) SkipRatio() float64 {
	if p.TotalRows == 0 {
		return 0
	}
	return float64(p.SkippedRows) / float64(p.TotalRows)
}

// StoredStatement is an ingested statement file kept for scheduled runs.
type StoredStatement struct {
	ID             string
	TrustAccountID string
	Format         string
	FileName       string
	Raw            []byte
	PeriodStart    time.Time
	PeriodEnd      time.Time
	IngestedAt     time.Time
}
