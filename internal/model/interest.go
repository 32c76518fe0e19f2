package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClientApportionment is one client's share of the interest credited for a period.
type ClientApportionment struct {
	ClientID            string
	AverageDailyBalance decimal.Decimal
	Share               decimal.Decimal // fraction of the total positive ADB
	Amount              decimal.Decimal
}

// Remittance is the interest owed to the IOLTA foundation, net of bank fees.
type Remittance struct {
	Gross decimal.Decimal
	Fees  decimal.Decimal
	Net   decimal.Decimal
}

// InterestDistributionReport is the result of an interest apportionment run. It is not persisted.
type InterestDistributionReport struct {
	TrustAccountID           string
	Currency                 string
	PeriodStart              time.Time
	PeriodEnd                time.Time
	Days                     int
	TotalInterestEarned      decimal.Decimal
	TotalAverageDailyBalance decimal.Decimal
	Apportionments           []ClientApportionment
	Remittance               *Remittance
}
