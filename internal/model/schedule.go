package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency controls how often a reconciliation schedule fires.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ReconciliationSchedule is a recurring automated reconciliation for one trust account.
// Schedules are deactivated, never deleted.
type ReconciliationSchedule struct {
	ID             string
	OrganizationID string
	TrustAccountID string
	Frequency      Frequency
	TimeOfDay      string // "HH:MM", 24h, in Timezone
	DayOfWeek      *int   // 0=Sunday..6, weekly only
	DayOfMonth     *int   // 1..31, monthly only; clamped to the month's last day
	Timezone       string // IANA zone name; empty means UTC
	IsActive       bool
	LastRunAt      *time.Time
	CreatedAt      time.Time
}

// JobStatus is the outcome of a sealed reconciliation job.
type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ReconciliationJob records one reconciliation run. It is immutable once stored.
type ReconciliationJob struct {
	ID                      string
	ScheduleID              string // empty for manual runs
	OrganizationID          string
	TrustAccountID          string
	StatementID             string
	Status                  JobStatus
	StartedAt               time.Time
	CompletedAt             time.Time
	MatchedCount            int
	UnmatchedLedgerCount    int
	UnmatchedStatementCount int
	LedgerBalance           decimal.Decimal
	StatementClosingBalance *decimal.Decimal
	Discrepancy             *decimal.Decimal // nil when the statement carried no closing balance
	ErrorDetail             string
	CreatedBy               string
}

// AlertKind names a derived scheduler alert.
type AlertKind string

const (
	AlertOverdue         AlertKind = "overdue"
	AlertRepeatedFailure AlertKind = "repeated_failure"
	AlertDiscrepancy     AlertKind = "discrepancy"
)

// Alert is computed from schedules and job history on demand. Alerts are never stored.
type Alert struct {
	Kind           AlertKind
	Severity       Severity
	ScheduleID     string
	TrustAccountID string
	Message        string
	DetectedAt     time.Time
}

// Lease is a persisted, expiring run guard for one trust account.
type Lease struct {
	TrustAccountID string
	Holder         string
	AcquiredAt     time.Time
	ExpiresAt      time.Time
}
