package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// AcquireLease takes the run lease for an account. An unexpired lease held by another holder
// yields a ConflictError; an expired one is taken over. The check and the write are a single
// statement, so two instances racing for the same account cannot both succeed.
func (q *queries) AcquireLease(ctx context.Context, accountID, holder string, now time.Time, ttl time.Duration) (model.Lease, error) {
	if ttl <= 0 {
		return model.Lease{}, &model.ValidationError{Field: "lease_ttl", Reason: "must be positive"}
	}
	lease := model.Lease{
		TrustAccountID: accountID,
		Holder:         holder,
		AcquiredAt:     now.UTC(),
		ExpiresAt:      now.Add(ttl).UTC(),
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO reconciliation_leases (trust_account_id, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trust_account_id) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE reconciliation_leases.expires_at <= excluded.acquired_at
			OR reconciliation_leases.holder = excluded.holder`,
		accountID, holder, formatTS(lease.AcquiredAt), formatTS(lease.ExpiresAt))
	if err != nil {
		return model.Lease{}, fmt.Errorf("acquiring lease on %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Lease{}, fmt.Errorf("acquiring lease on %s: %w", accountID, err)
	}
	if n == 0 {
		current, err := q.currentLease(ctx, accountID)
		if err != nil {
			return model.Lease{}, err
		}
		return model.Lease{}, &model.ConflictError{
			Resource: "trust account",
			ID:       accountID,
			Reason:   fmt.Sprintf("reconciliation already running (lease held until %s)", current.ExpiresAt.Format(time.RFC3339)),
		}
	}
	return lease, nil
}

// ReleaseLease drops a lease if it is still held by holder.
func (q *queries) ReleaseLease(ctx context.Context, accountID, holder string) error {
	_, err := q.q.ExecContext(ctx, `
		DELETE FROM reconciliation_leases WHERE trust_account_id = ? AND holder = ?`, accountID, holder)
	if err != nil {
		return fmt.Errorf("releasing lease on %s: %w", accountID, err)
	}
	return nil
}

func (q *queries) currentLease(ctx context.Context, accountID string) (model.Lease, error) {
	var l model.Lease
	var acquired, expires string
	err := q.q.QueryRowContext(ctx, `
		SELECT trust_account_id, holder, acquired_at, expires_at
		FROM reconciliation_leases WHERE trust_account_id = ?`, accountID).
		Scan(&l.TrustAccountID, &l.Holder, &acquired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lease{}, &model.NotFoundError{Resource: "lease", ID: accountID}
	}
	if err != nil {
		return model.Lease{}, fmt.Errorf("reading lease on %s: %w", accountID, err)
	}
	if l.AcquiredAt, err = parseTS(acquired); err != nil {
		return model.Lease{}, err
	}
	if l.ExpiresAt, err = parseTS(expires); err != nil {
		return model.Lease{}, err
	}
	return l, nil
}
