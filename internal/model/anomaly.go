package model

import "time"

// AnomalyCategory names the rule that produced an anomaly.
type AnomalyCategory string

const (
	AnomalyLargeAmount     AnomalyCategory = "large_amount"
	AnomalyStructuring     AnomalyCategory = "structuring"
	AnomalyDuplicate       AnomalyCategory = "duplicate"
	AnomalyOffHours        AnomalyCategory = "off_hours"
	AnomalyNegativeBalance AnomalyCategory = "negative_balance"
)

// Severity grades alerts and anomalies.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AnomalyStatus is the lifecycle state of a financial anomaly.
type AnomalyStatus string

const (
	AnomalyDetected  AnomalyStatus = "detected"
	AnomalyFlagged   AnomalyStatus = "flagged"
	AnomalyResolved  AnomalyStatus = "resolved"
	AnomalyDismissed AnomalyStatus = "dismissed"
	AnomalyEscalated AnomalyStatus = "escalated"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s AnomalyStatus) IsTerminal() bool {
	return s == AnomalyResolved || s == AnomalyDismissed || s == AnomalyEscalated
}

// FinancialAnomaly is a persisted detection result, unique per organization, transaction and category.
type FinancialAnomaly struct {
	ID              string
	OrganizationID  string
	TrustAccountID  string
	TransactionID   string
	Category        AnomalyCategory
	Severity        Severity
	Score           float64
	Confidence      float64
	Details         string
	Status          AnomalyStatus
	AssignedTo      string
	ResolutionNotes string
	ResolvedBy      string
	DetectedAt      time.Time
	UpdatedAt       time.Time
}

// AnomalyEvent is one entry in an anomaly's history.
type AnomalyEvent struct {
	ID        string
	AnomalyID string
	From      AnomalyStatus // empty for the initial detection
	To        AnomalyStatus
	Actor     string
	Notes     string
	At        time.Time
}
