package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// CreateAccount inserts a trust account.
func (q *queries) CreateAccount(ctx context.Context, a model.TrustAccount) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO trust_accounts (id, organization_id, name, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrganizationID, a.Name, a.Currency, string(a.Status), formatTS(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount returns a trust account by ID.
func (q *queries) GetAccount(ctx context.Context, id string) (model.TrustAccount, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, organization_id, name, currency, status, created_at
		FROM trust_accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrustAccount{}, &model.NotFoundError{Resource: "trust account", ID: id}
	}
	if err != nil {
		return model.TrustAccount{}, fmt.Errorf("reading account %s: %w", id, err)
	}
	return a, nil
}

// ListAccounts returns an organization's trust accounts; an empty orgID lists all.
func (q *queries) ListAccounts(ctx context.Context, orgID string) ([]model.TrustAccount, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, organization_id, name, currency, status, created_at
		FROM trust_accounts WHERE (? = '' OR organization_id = ?) ORDER BY id`, orgID, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.TrustAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (model.TrustAccount, error) {
	var a model.TrustAccount
	var status, created string
	if err := s.Scan(&a.ID, &a.OrganizationID, &a.Name, &a.Currency, &status, &created); err != nil {
		return model.TrustAccount{}, err
	}
	a.Status = model.AccountStatus(status)
	ts, err := parseTS(created)
	if err != nil {
		return model.TrustAccount{}, err
	}
	a.CreatedAt = ts
	return a, nil
}
