// Package interest apportions interest credited to a pooled trust account across its client
// sub-ledgers in proportion to their average daily balances.
//
// Amounts are split in the currency's minor unit with the largest-remainder method, so the
// apportioned parts always sum to the credited total.
package interest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/id"
	"github.com/cleared-dev/trustrecon/internal/ledger"
	"github.com/cleared-dev/trustrecon/internal/logger"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

const dateFormat = "2006-01-02"

// Request describes one apportionment period.
type Request struct {
	TrustAccountID string
	PeriodStart    time.Time // inclusive
	PeriodEnd      time.Time // inclusive
	TotalInterest  decimal.Decimal
	BankFees       decimal.Decimal
	IOLTA          bool // compute the foundation remittance
}

func (r Request) validate() error {
	switch {
	case r.TrustAccountID == "":
		return &model.ValidationError{Field: "trust_account_id", Reason: "required"}
	case r.PeriodStart.IsZero() || r.PeriodEnd.IsZero():
		return &model.ValidationError{Field: "period", Reason: "start and end are required"}
	case r.PeriodEnd.Before(r.PeriodStart):
		return &model.ValidationError{Field: "period", Reason: "end is before start"}
	case r.TotalInterest.IsNegative():
		return &model.ValidationError{Field: "total_interest", Reason: "must not be negative"}
	case r.BankFees.IsNegative():
		return &model.ValidationError{Field: "bank_fees", Reason: "must not be negative"}
	}
	return nil
}

// Calculator computes and records interest distributions.
type Calculator struct {
	db  store.DB
	now func() time.Time
}

// NewCalculator creates a Calculator.
func NewCalculator(db store.DB) *Calculator {
	return &Calculator{db: db, now: time.Now}
}

// Calculate replays the account's cleared transactions over the period and apportions the
// interest. Clients whose average daily balance is not positive receive nothing.
func (c *Calculator) Calculate(ctx context.Context, req Request) (model.InterestDistributionReport, error) {
	if err := req.validate(); err != nil {
		return model.InterestDistributionReport{}, err
	}
	acct, err := c.db.GetAccount(ctx, req.TrustAccountID)
	if err != nil {
		return model.InterestDistributionReport{}, err
	}
	cur := money.GetCurrency(acct.Currency)
	if cur == nil {
		return model.InterestDistributionReport{}, &model.ValidationError{Field: "currency", Reason: "unknown currency " + acct.Currency}
	}
	totalUnits := req.TotalInterest.Shift(int32(cur.Fraction))
	if !totalUnits.Equal(totalUnits.Truncate(0)) {
		return model.InterestDistributionReport{}, &model.ValidationError{
			Field:  "total_interest",
			Reason: fmt.Sprintf("%s has more than %d decimal places", req.TotalInterest, cur.Fraction),
		}
	}

	start, end := truncateDay(req.PeriodStart), truncateDay(req.PeriodEnd)
	txns, err := c.db.ListTransactions(ctx, store.TransactionFilter{AccountID: acct.ID, ClearedOnly: true})
	if err != nil {
		return model.InterestDistributionReport{}, err
	}

	days := int(end.Sub(start).Hours()/24) + 1
	sums := dailyBalanceSums(txns, start, end)
	clients := make([]string, 0, len(sums))
	for client := range sums {
		clients = append(clients, client)
	}
	sort.Strings(clients)

	daysDec := decimal.NewFromInt(int64(days))
	report := model.InterestDistributionReport{
		TrustAccountID:           acct.ID,
		Currency:                 cur.Code,
		PeriodStart:              start,
		PeriodEnd:                end,
		Days:                     days,
		TotalInterestEarned:      req.TotalInterest,
		TotalAverageDailyBalance: decimal.Zero,
	}

	weights := make([]decimal.Decimal, len(clients))
	total := decimal.Zero
	for i, client := range clients {
		if sums[client].IsPositive() {
			weights[i] = sums[client]
			total = total.Add(sums[client])
		} else {
			weights[i] = decimal.Zero
		}
		report.Apportionments = append(report.Apportionments, model.ClientApportionment{
			ClientID:            client,
			AverageDailyBalance: sums[client].DivRound(daysDec, 2),
			Share:               decimal.Zero,
			Amount:              decimal.Zero,
		})
	}
	if total.IsZero() && totalUnits.IsPositive() {
		return model.InterestDistributionReport{}, &model.ValidationError{Field: "total_interest", Reason: "no client has a positive average daily balance"}
	}
	report.TotalAverageDailyBalance = total.DivRound(daysDec, 2)

	if total.IsPositive() {
		units := largestRemainder(totalUnits.IntPart(), weights, clients)
		for i := range report.Apportionments {
			report.Apportionments[i].Share = weights[i].DivRound(total, 6)
			report.Apportionments[i].Amount = decimal.NewFromInt(units[i]).Shift(-int32(cur.Fraction))
		}
	}

	if req.IOLTA {
		net := req.TotalInterest.Sub(req.BankFees)
		if net.IsNegative() {
			net = decimal.Zero
		}
		report.Remittance = &model.Remittance{Gross: req.TotalInterest, Fees: req.BankFees, Net: net}
	}
	return report, nil
}

// dailyBalanceSums replays txns by effective date and returns, per client, the sum of end-of-day
// balances over [start, end].
func dailyBalanceSums(txns []model.TrustTransaction, start, end time.Time) map[string]decimal.Decimal {
	sort.SliceStable(txns, func(i, j int) bool {
		di, dj := effectiveDate(txns[i]), effectiveDate(txns[j])
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return txns[i].ID < txns[j].ID
	})

	balances := make(map[string]decimal.Decimal)
	sums := make(map[string]decimal.Decimal)
	next := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for ; next < len(txns) && !effectiveDate(txns[next]).After(d); next++ {
			t := txns[next]
			balances[t.ClientID] = balances[t.ClientID].Add(t.Amount)
		}
		for client, bal := range balances {
			sums[client] = sums[client].Add(bal)
		}
	}
	return sums
}

func effectiveDate(t model.TrustTransaction) time.Time {
	if t.ClearedDate != nil {
		return truncateDay(*t.ClearedDate)
	}
	return truncateDay(t.TransactionDate)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// largestRemainder splits total minor units in proportion to weights. Each part gets the floor of
// its exact share; leftover units go one each to the largest remainders, ties broken by larger
// weight and then by lower key.
func largestRemainder(total int64, weights []decimal.Decimal, keys []string) []int64 {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	units := make([]int64, len(weights))
	remainders := make([]decimal.Decimal, len(weights))
	allocated := int64(0)
	t := decimal.NewFromInt(total)
	for i, w := range weights {
		q, r := t.Mul(w).QuoRem(sum, 0)
		units[i] = q.IntPart()
		remainders[i] = r
		allocated += units[i]
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if c := remainders[i].Cmp(remainders[j]); c != 0 {
			return c > 0
		}
		if c := weights[i].Cmp(weights[j]); c != 0 {
			return c > 0
		}
		return keys[i] < keys[j]
	})
	for k := int64(0); k < total-allocated; k++ {
		units[order[k]]++
	}
	return units
}

// Record posts one ledger transaction per non-zero apportionment, each with an audit entry, in a
// single atomic unit. Recording a period that already has interest postings is a ConflictError.
func (c *Calculator) Record(ctx context.Context, report model.InterestDistributionReport, actor string) ([]model.TrustTransaction, error) {
	now := c.now().UTC()
	prefix := id.InterestPrefix(report.PeriodStart, report.PeriodEnd)
	var posted []model.TrustTransaction

	err := c.db.WithTx(ctx, func(tx store.Tx) error {
		posted = nil
		acct, err := tx.GetAccount(ctx, report.TrustAccountID)
		if err != nil {
			return err
		}
		existing, err := tx.ListTransactions(ctx, store.TransactionFilter{AccountID: acct.ID, ReferencePrefix: prefix})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &model.ConflictError{
				Resource: "interest period",
				ID:       report.PeriodStart.Format(dateFormat) + ".." + report.PeriodEnd.Format(dateFormat),
				Reason:   "interest already recorded",
			}
		}

		for _, a := range report.Apportionments {
			if a.Amount.IsZero() {
				continue
			}
			t := model.TrustTransaction{
				ID:              id.New(),
				TrustAccountID:  acct.ID,
				ClientID:        a.ClientID,
				Amount:          a.Amount,
				TransactionDate: report.PeriodEnd,
				Description:     fmt.Sprintf("Interest %s to %s", report.PeriodStart.Format(dateFormat), report.PeriodEnd.Format(dateFormat)),
				Category:        model.CategoryInterest,
				Reference:       id.InterestReference(report.PeriodStart, report.PeriodEnd, a.ClientID),
				CreatedAt:       now,
			}
			if err := ledger.Validate(t, acct); err != nil {
				return fmt.Errorf("apportionment for %s: %w", a.ClientID, err)
			}
			if err := tx.InsertTransaction(ctx, t); err != nil {
				return err
			}
			details := fmt.Sprintf("client=%s amount=%s adb=%s share=%s", a.ClientID, a.Amount.StringFixed(2), a.AverageDailyBalance.StringFixed(2), a.Share)
			if err := tx.AppendAudit(ctx, audit.New(now, acct.OrganizationID, actor, audit.ActionInterestApportioned, "transaction", t.ID, details)); err != nil {
				return err
			}
			posted = append(posted, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("account_id", report.TrustAccountID).
		Str("period_start", report.PeriodStart.Format(dateFormat)).
		Str("period_end", report.PeriodEnd.Format(dateFormat)).
		Int("postings", len(posted)).
		Msg("interest apportionment recorded")
	return posted, nil
}
