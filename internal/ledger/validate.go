package ledger

import (
	"errors"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// Validate checks a posting against its trust account. All violations are returned joined.
func Validate(t model.TrustTransaction, acct model.TrustAccount) error {
	var errs []error
	if t.TrustAccountID != acct.ID {
		errs = append(errs, &model.ValidationError{Field: "trust_account_id", Reason: "does not match account " + acct.ID})
	}
	if acct.Status != model.AccountStatusActive {
		errs = append(errs, &model.ValidationError{Field: "trust_account", Reason: "account " + acct.ID + " is " + string(acct.Status)})
	}
	if t.ClientID == "" {
		errs = append(errs, &model.ValidationError{Field: "client_id", Reason: "required"})
	}
	if t.Amount.IsZero() {
		errs = append(errs, &model.ValidationError{Field: "amount", Reason: "must be non-zero"})
	}
	if t.TransactionDate.IsZero() {
		errs = append(errs, &model.ValidationError{Field: "date", Reason: "required"})
	}
	if t.IsReconciled {
		errs = append(errs, &model.ValidationError{Field: "is_reconciled", Reason: "new postings cannot be reconciled"})
	}
	if t.IsCleared && t.ClearedDate == nil {
		errs = append(errs, &model.ValidationError{Field: "cleared_date", Reason: "required when cleared"})
	}
	return errors.Join(errs...)
}
