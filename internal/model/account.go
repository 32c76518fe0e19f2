package model

import "time"

// AccountStatus is the lifecycle state of a trust account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// TrustAccount is a bank account holding client funds, owned by exactly one organization.
// The ledger balance is derived from its transactions and never stored.
type TrustAccount struct {
	ID             string
	OrganizationID string
	Name           string
	Currency       string // ISO 4217, e.g. "USD"
	Status         AccountStatus
	CreatedAt      time.Time
}
