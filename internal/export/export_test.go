package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func readAll(t *testing.T, b *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(b).ReadAll()
	require.NoError(t, err)
	return records
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$1,234.50", FormatMoney(dec("1234.5"), "USD"))
	assert.Equal(t, "-$0.07", FormatMoney(dec("-0.07"), "USD"))
	assert.Equal(t, "¥1,235", FormatMoney(dec("1234.5"), "JPY"))
	assert.Equal(t, "12.00 ZZZ", FormatMoney(dec("12"), "ZZZ"))
}

func TestWriteJobs(t *testing.T) {
	closing, disc := dec("1500"), dec("1")
	start := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	jobs := []model.ReconciliationJob{
		{
			ID: "job-1", ScheduleID: "sched-1", TrustAccountID: "acct-1", StatementID: "stmt-1",
			Status: model.JobStatusCompleted, StartedAt: start, CompletedAt: start.Add(time.Minute),
			MatchedCount: 3, UnmatchedLedgerCount: 1, LedgerBalance: dec("1499"),
			StatementClosingBalance: &closing, Discrepancy: &disc, CreatedBy: "scheduler",
		},
		{
			ID: "job-2", TrustAccountID: "acct-1", Status: model.JobStatusFailed,
			StartedAt: start, CompletedAt: start, LedgerBalance: dec("1499"),
			ErrorDetail: "statement: no rows, parse error", CreatedBy: "scheduler",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteJobs(&buf, jobs))
	records := readAll(t, &buf)
	require.Len(t, records, 3)
	assert.Equal(t, JobHeader, records[0])
	assert.Equal(t, []string{
		"job-1", "sched-1", "acct-1", "stmt-1", "completed", "2024-02-01T06:00:00Z", "2024-02-01T06:01:00Z",
		"3", "1", "0", "1499.00", "1500.00", "1.00", "", "scheduler",
	}, records[1])
	assert.Equal(t, "", records[2][11])
	assert.Equal(t, "statement: no rows, parse error", records[2][13])
}

func TestWriteInterestReport(t *testing.T) {
	report := model.InterestDistributionReport{
		TrustAccountID: "acct-1",
		Currency:       "USD",
		PeriodStart:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Apportionments: []model.ClientApportionment{
			{ClientID: "client-a", AverageDailyBalance: dec("2000"), Share: dec("0.666667"), Amount: dec("6.67")},
			{ClientID: "client-b", AverageDailyBalance: dec("1000"), Share: dec("0.333333"), Amount: dec("3.33")},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteInterestReport(&buf, report))
	records := readAll(t, &buf)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"acct-1", "2024-01-01", "2024-01-31", "client-a", "2000.00", "0.666667", "6.67", "$6.67"}, records[1])
}

func TestWriteAudit(t *testing.T) {
	at := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		audit.New(at, "org-1", "scheduler", audit.ActionJobSealed, "reconciliation_job", "job-1", "matched=3"),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteAudit(&buf, entries))

	got, err := audit.ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "job-1", got[0].ResourceID)
	assert.Equal(t, audit.ActionJobSealed, got[0].Action)
}
