// Package ledger posts trust transactions and toggles their cleared flag under the finality
// rules: a reconciled transaction can never be cleared or uncleared again.
package ledger

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/id"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

// Service provides business logic for ledger postings.
type Service struct {
	db  store.DB
	now func() time.Time
}

// NewService creates a ledger Service.
func NewService(db store.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Post validates and inserts postings for one trust account, each with a posted audit entry.
// Either every posting is stored or none is. IDs are generated for postings without one.
func (s *Service) Post(ctx context.Context, accountID string, txns []model.TrustTransaction, actor string) ([]model.TrustTransaction, error) {
	now := s.now().UTC()
	posted := make([]model.TrustTransaction, len(txns))

	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		for i, t := range txns {
			if t.ID == "" {
				t.ID = id.New()
			}
			t.TrustAccountID = accountID
			if t.Category == "" {
				t.Category = t.EffectiveCategory()
			}
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if err := Validate(t, acct); err != nil {
				return fmt.Errorf("posting %d (%s): %w", i+1, t.ID, err)
			}
			if err := tx.InsertTransaction(ctx, t); err != nil {
				return err
			}
			details := fmt.Sprintf("client=%s amount=%s date=%s", t.ClientID, t.Amount.StringFixed(2), t.TransactionDate.Format(dateFormat))
			if err := tx.AppendAudit(ctx, audit.New(now, acct.OrganizationID, actor, audit.ActionTransactionPosted, "transaction", t.ID, details)); err != nil {
				return err
			}
			posted[i] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// Import reads ledger CSV postings and posts them to accountID.
func (s *Service) Import(ctx context.Context, accountID string, r io.Reader, actor string) ([]model.TrustTransaction, error) {
	txns, err := ReadTransactions(r)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, nil
	}
	return s.Post(ctx, accountID, txns, actor)
}

// Clear marks a transaction cleared as of date.
func (s *Service) Clear(ctx context.Context, txnID string, date time.Time, actor string) error {
	return s.SetCleared(ctx, txnID, true, &date, actor)
}

// Unclear removes the cleared flag.
func (s *Service) Unclear(ctx context.Context, txnID string, actor string) error {
	return s.SetCleared(ctx, txnID, false, nil, actor)
}

// SetCleared toggles the cleared flag together with its audit entry. A reconciled transaction
// yields a ConflictError and nothing changes.
func (s *Service) SetCleared(ctx context.Context, txnID string, cleared bool, date *time.Time, actor string) error {
	if cleared && date == nil {
		return &model.ValidationError{Field: "cleared_date", Reason: "required when clearing"}
	}
	return s.db.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.GetTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		if t.IsReconciled {
			return &model.ConflictError{Resource: "transaction", ID: txnID, Reason: "transaction is reconciled"}
		}
		acct, err := tx.GetAccount(ctx, t.TrustAccountID)
		if err != nil {
			return err
		}
		if err := tx.SetCleared(ctx, txnID, cleared, date); err != nil {
			return err
		}

		action, details := audit.ActionTransactionUncleared, ""
		if cleared {
			action, details = audit.ActionTransactionCleared, "cleared_date="+date.Format(dateFormat)
		}
		return tx.AppendAudit(ctx, audit.New(s.now(), acct.OrganizationID, actor, action, "transaction", txnID, details))
	})
}

// Balance returns the ledger balance of an account as of a date (all postings when asOf is nil).
func (s *Service) Balance(ctx context.Context, accountID string, asOf *time.Time) (decimal.Decimal, error) {
	if _, err := s.db.GetAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return s.db.Balance(ctx, accountID, asOf)
}

// ClientBalance is one client sub-ledger's balance.
type ClientBalance struct {
	ClientID string
	Balance  decimal.Decimal
}

// ClientBalances returns per-client sub-ledger balances ordered by client ID.
func (s *Service) ClientBalances(ctx context.Context, accountID string, asOf *time.Time) ([]ClientBalance, error) {
	txns, err := s.db.ListTransactions(ctx, store.TransactionFilter{AccountID: accountID, To: asOf})
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal)
	for _, t := range txns {
		sums[t.ClientID] = sums[t.ClientID].Add(t.Amount)
	}

	out := make([]ClientBalance, 0, len(sums))
	for c, b := range sums {
		out = append(out, ClientBalance{ClientID: c, Balance: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// Transactions lists an account's postings in date order.
func (s *Service) Transactions(ctx context.Context, f store.TransactionFilter) ([]model.TrustTransaction, error) {
	return s.db.ListTransactions(ctx, f)
}
