// Package export writes reconciliation history and interest reports as CSV for downstream
// bookkeeping tools.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/model"
)

// JobHeader is the header row of WriteJobs.
var JobHeader = []string{
	"job_id", "schedule_id", "trust_account_id", "statement_id", "status", "started_at", "completed_at",
	"matched", "unmatched_ledger", "unmatched_statement", "ledger_balance", "statement_closing_balance",
	"discrepancy", "error", "created_by",
}

// InterestHeader is the header row of WriteInterestReport.
var InterestHeader = []string{
	"trust_account_id", "period_start", "period_end", "client_id", "average_daily_balance", "share",
	"amount", "display",
}

// FormatMoney renders amount in the currency's display format, e.g. "$1,234.50". Unknown
// currencies fall back to the plain decimal and code.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	units := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(units.IntPart())
}

// WriteJobs writes reconciliation jobs, one row each.
func WriteJobs(w io.Writer, jobs []model.ReconciliationJob) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(JobHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, j := range jobs {
		row := []string{
			j.ID,
			j.ScheduleID,
			j.TrustAccountID,
			j.StatementID,
			string(j.Status),
			j.StartedAt.UTC().Format(time.RFC3339),
			j.CompletedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(j.MatchedCount),
			strconv.Itoa(j.UnmatchedLedgerCount),
			strconv.Itoa(j.UnmatchedStatementCount),
			j.LedgerBalance.StringFixed(2),
			optional(j.StatementClosingBalance),
			optional(j.Discrepancy),
			j.ErrorDetail,
			j.CreatedBy,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing job %s: %w", j.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

// WriteInterestReport writes one row per client apportionment.
func WriteInterestReport(w io.Writer, r model.InterestDistributionReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(InterestHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	start, end := r.PeriodStart.Format("2006-01-02"), r.PeriodEnd.Format("2006-01-02")
	for _, a := range r.Apportionments {
		row := []string{
			r.TrustAccountID,
			start,
			end,
			a.ClientID,
			a.AverageDailyBalance.StringFixed(2),
			a.Share.String(),
			a.Amount.StringFixed(2),
			FormatMoney(a.Amount, r.Currency),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing apportionment for %s: %w", a.ClientID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAudit writes audit entries in the audit log CSV layout.
func WriteAudit(w io.Writer, entries []audit.Entry) error {
	return audit.WriteCSV(w, entries)
}
