package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// SaveStatement stores an ingested statement file.
func (q *queries) SaveStatement(ctx context.Context, s model.StoredStatement) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO statements (id, trust_account_id, format, file_name, raw, period_start, period_end, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TrustAccountID, s.Format, s.FileName, s.Raw,
		formatDate(s.PeriodStart), formatDate(s.PeriodEnd), formatTS(s.IngestedAt))
	if err != nil {
		return fmt.Errorf("inserting statement %s: %w", s.ID, err)
	}
	return nil
}

// LatestStatement returns the most recently ingested statement for an account.
func (q *queries) LatestStatement(ctx context.Context, accountID string) (model.StoredStatement, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, trust_account_id, format, file_name, raw, period_start, period_end, ingested_at
		FROM statements WHERE trust_account_id = ?
		ORDER BY ingested_at DESC, period_end DESC LIMIT 1`, accountID)

	var s model.StoredStatement
	var start, end, ingested string
	err := row.Scan(&s.ID, &s.TrustAccountID, &s.Format, &s.FileName, &s.Raw, &start, &end, &ingested)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoredStatement{}, &model.NotFoundError{Resource: "statement for account", ID: accountID}
	}
	if err != nil {
		return model.StoredStatement{}, fmt.Errorf("reading latest statement of %s: %w", accountID, err)
	}

	if s.PeriodStart, err = parseDate(start); err != nil {
		return model.StoredStatement{}, err
	}
	if s.PeriodEnd, err = parseDate(end); err != nil {
		return model.StoredStatement{}, err
	}
	if s.IngestedAt, err = parseTS(ingested); err != nil {
		return model.StoredStatement{}, err
	}
	return s, nil
}
