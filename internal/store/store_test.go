package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trust.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var created = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, s *Store) model.TrustAccount {
	t.Helper()
	a := model.TrustAccount{ID: "acct-1", OrganizationID: "org-1", Name: "IOLTA", Currency: "USD", Status: model.AccountStatusActive, CreatedAt: created}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func seedTxn(t *testing.T, s *Store, id, amount string, d time.Time) model.TrustTransaction {
	t.Helper()
	txn := model.TrustTransaction{
		ID: id, TrustAccountID: "acct-1", ClientID: "client-a", Amount: dec(amount),
		TransactionDate: d, Description: "txn " + id, CreatedAt: created,
	}
	require.NoError(t, s.InsertTransaction(context.Background(), txn))
	return txn
}

func TestAccounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	list, err := s.ListAccounts(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListAccounts(ctx, "org-2")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.GetAccount(ctx, "missing")
	assert.True(t, model.IsNotFound(err))
}

func TestTransactionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)

	cleared := date(2024, 1, 6)
	txn := model.TrustTransaction{
		ID: "t1", TrustAccountID: "acct-1", ClientID: "client-a", Amount: dec("-500.00"),
		TransactionDate: date(2024, 1, 5), Description: "Check 1001", Category: "disbursement",
		CheckNumber: "1001", Reference: "REF-1", IsCleared: true, ClearedDate: &cleared, CreatedAt: created,
	}
	require.NoError(t, s.InsertTransaction(ctx, txn))

	got, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(txn.Amount))
	assert.Equal(t, txn.TransactionDate, got.TransactionDate)
	assert.Equal(t, txn.CheckNumber, got.CheckNumber)
	require.NotNil(t, got.ClearedDate)
	assert.Equal(t, cleared, *got.ClearedDate)
	assert.Nil(t, got.ReconciledDate)
	assert.Equal(t, created, got.CreatedAt)
}

func TestListTransactionsFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	seedTxn(t, s, "t1", "100", date(2024, 1, 1))
	seedTxn(t, s, "t2", "-50", date(2024, 1, 10))
	seedTxn(t, s, "t3", "25", date(2024, 2, 1))
	d := date(2024, 1, 10)
	require.NoError(t, s.SetCleared(ctx, "t2", true, &d))

	from, to := date(2024, 1, 1), date(2024, 1, 31)
	all, err := s.ListTransactions(ctx, TransactionFilter{AccountID: "acct-1", From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "t1", all[0].ID)

	unc, err := s.ListTransactions(ctx, TransactionFilter{AccountID: "acct-1", UnclearedOnly: true})
	require.NoError(t, err)
	assert.Len(t, unc, 2)

	clr, err := s.ListTransactions(ctx, TransactionFilter{AccountID: "acct-1", ClearedOnly: true})
	require.NoError(t, err)
	require.Len(t, clr, 1)
	assert.Equal(t, "t2", clr[0].ID)

	before := created.Add(-time.Second)
	none, err := s.ListTransactions(ctx, TransactionFilter{AccountID: "acct-1", CreatedBefore: &before})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBalance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	seedTxn(t, s, "t1", "1200.00", date(2024, 1, 6))
	seedTxn(t, s, "t2", "-500.00", date(2024, 1, 5))
	seedTxn(t, s, "t3", "-0.01", date(2024, 2, 1))

	total, err := s.Balance(ctx, "acct-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "699.99", total.StringFixed(2))

	asOf := date(2024, 1, 31)
	jan, err := s.Balance(ctx, "acct-1", &asOf)
	require.NoError(t, err)
	assert.Equal(t, "700.00", jan.StringFixed(2))
}

func TestReconciledTransactionIsFinal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	seedTxn(t, s, "t1", "-500.00", date(2024, 1, 5))

	// Cannot reconcile before clearing.
	err := s.MarkReconciled(ctx, "t1", date(2024, 1, 31))
	assert.True(t, model.IsConflict(err))

	d := date(2024, 1, 5)
	require.NoError(t, s.SetCleared(ctx, "t1", true, &d))
	require.NoError(t, s.MarkReconciled(ctx, "t1", date(2024, 1, 31)))

	err = s.SetCleared(ctx, "t1", false, nil)
	require.Error(t, err)
	var ce *model.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "t1", ce.ID)

	got, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.IsCleared)
	assert.True(t, got.IsReconciled)

	// The schema rejects direct writes too.
	_, err = s.db.Exec(`UPDATE trust_transactions SET is_cleared = 0 WHERE id = 't1'`)
	assert.Error(t, err)
	_, err = s.db.Exec(`DELETE FROM trust_transactions WHERE id = 't1'`)
	assert.Error(t, err)

	err = s.SetCleared(ctx, "missing", true, &d)
	assert.True(t, model.IsNotFound(err))
}

func TestJobsAreSealed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	disc := dec("0.50")
	job := model.ReconciliationJob{
		ID: "job-1", ScheduleID: "sch-1", OrganizationID: "org-1", TrustAccountID: "acct-1",
		Status: model.JobStatusCompleted, StartedAt: created, CompletedAt: created.Add(time.Minute),
		MatchedCount: 2, LedgerBalance: dec("100.50"), StatementClosingBalance: ptr(dec("100.00")),
		Discrepancy: &disc, CreatedBy: "user-1",
	}
	require.NoError(t, s.InsertJob(ctx, job))
	require.NoError(t, s.InsertJob(ctx, model.ReconciliationJob{
		ID: "job-2", ScheduleID: "sch-1", OrganizationID: "org-1", TrustAccountID: "acct-1",
		Status: model.JobStatusFailed, StartedAt: created.Add(time.Hour), CompletedAt: created.Add(time.Hour),
		LedgerBalance: decimal.Zero, ErrorDetail: "boom",
	}))

	jobs, err := s.ListJobs(ctx, JobFilter{ScheduleID: "sch-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].ID, "newest first")
	assert.Nil(t, jobs[0].Discrepancy)
	require.NotNil(t, jobs[1].Discrepancy)
	assert.Equal(t, "0.5", jobs[1].Discrepancy.String())

	limited, err := s.ListJobs(ctx, JobFilter{AccountID: "acct-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = s.db.Exec(`UPDATE reconciliation_jobs SET status = 'failed' WHERE id = 'job-1'`)
	assert.Error(t, err)
}

func TestWithTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	seedTxn(t, s, "t1", "-500.00", date(2024, 1, 5))

	boom := errors.New("audit unavailable")
	err := s.WithTx(ctx, func(tx Tx) error {
		d := date(2024, 1, 5)
		if err := tx.SetCleared(ctx, "t1", true, &d); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, got.IsCleared)
}

func TestLeases(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

	_, err := s.AcquireLease(ctx, "acct-1", "a", now, time.Minute)
	require.NoError(t, err)

	_, err = s.AcquireLease(ctx, "acct-1", "b", now.Add(30*time.Second), time.Minute)
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))

	// Other accounts are independent.
	_, err = s.AcquireLease(ctx, "acct-2", "b", now, time.Minute)
	require.NoError(t, err)

	// Expired leases are taken over.
	l, err := s.AcquireLease(ctx, "acct-1", "b", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", l.Holder)

	// Only the holder can release.
	require.NoError(t, s.ReleaseLease(ctx, "acct-1", "a"))
	_, err = s.AcquireLease(ctx, "acct-1", "c", now.Add(2*time.Minute), time.Minute)
	assert.True(t, model.IsConflict(err))

	require.NoError(t, s.ReleaseLease(ctx, "acct-1", "b"))
	_, err = s.AcquireLease(ctx, "acct-1", "c", now.Add(2*time.Minute), time.Minute)
	assert.NoError(t, err)
}

func TestLeases_NonPositiveTTLRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

	for _, ttl := range []time.Duration{0, -time.Minute} {
		_, err := s.AcquireLease(ctx, "acct-1", "a", now, ttl)
		var ve *model.ValidationError
		require.ErrorAs(t, err, &ve)
	}

	// Nothing was written, so a proper lease is still available and then exclusive.
	_, err := s.AcquireLease(ctx, "acct-1", "a", now, time.Minute)
	require.NoError(t, err)
	_, err = s.AcquireLease(ctx, "acct-1", "b", now, time.Minute)
	assert.True(t, model.IsConflict(err))
}

func TestSchedules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)

	dom := 31
	sch := model.ReconciliationSchedule{
		ID: "sch-1", OrganizationID: "org-1", TrustAccountID: "acct-1", Frequency: model.FrequencyMonthly,
		TimeOfDay: "06:30", DayOfMonth: &dom, Timezone: "America/New_York", IsActive: true, CreatedAt: created,
	}
	require.NoError(t, s.SaveSchedule(ctx, sch))

	got, err := s.GetSchedule(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, sch, got)

	ran := created.Add(48 * time.Hour)
	require.NoError(t, s.SetScheduleLastRun(ctx, "sch-1", ran))
	sch.IsActive = false
	sch.LastRunAt = &ran
	require.NoError(t, s.SaveSchedule(ctx, sch))

	active, err := s.ListSchedules(ctx, "org-1", true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListSchedules(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].LastRunAt)
	assert.Equal(t, ran, *all[0].LastRunAt)

	assert.True(t, model.IsNotFound(s.SetScheduleLastRun(ctx, "missing", ran)))
}

func TestStatements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)

	_, err := s.LatestStatement(ctx, "acct-1")
	assert.True(t, model.IsNotFound(err))

	for i, name := range []string{"jan.csv", "feb.csv"} {
		require.NoError(t, s.SaveStatement(ctx, model.StoredStatement{
			ID: name, TrustAccountID: "acct-1", Format: "csv", FileName: name, Raw: []byte("raw " + name),
			PeriodStart: date(2024, time.Month(i+1), 1), PeriodEnd: date(2024, time.Month(i+1), 28),
			IngestedAt: created.Add(time.Duration(i) * time.Hour),
		}))
	}

	latest, err := s.LatestStatement(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "feb.csv", latest.FileName)
	assert.Equal(t, []byte("raw feb.csv"), latest.Raw)
	assert.Equal(t, date(2024, 2, 28), latest.PeriodEnd)
}

func TestAnomalies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := model.FinancialAnomaly{
		ID: "an-1", OrganizationID: "org-1", TrustAccountID: "acct-1", TransactionID: "t1",
		Category: model.AnomalyDuplicate, Severity: model.SeverityMedium, Score: 0.48, Confidence: 0.8,
		Status: model.AnomalyDetected, DetectedAt: created, UpdatedAt: created,
	}
	require.NoError(t, s.InsertAnomaly(ctx, a))

	// The (organization, transaction, category) key is unique.
	dup := a
	dup.ID = "an-2"
	assert.Error(t, s.InsertAnomaly(ctx, dup))

	got, found, err := s.FindAnomaly(ctx, "org-1", "t1", model.AnomalyDuplicate)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a, got)

	_, found, err = s.FindAnomaly(ctx, "org-1", "t1", model.AnomalyOffHours)
	require.NoError(t, err)
	assert.False(t, found)

	a.Status = model.AnomalyDismissed
	a.UpdatedAt = created.Add(time.Hour)
	require.NoError(t, s.UpdateAnomaly(ctx, a))

	open, err := s.ListAnomalies(ctx, AnomalyFilter{OrganizationID: "org-1", OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, s.InsertAnomalyEvent(ctx, model.AnomalyEvent{ID: "e1", AnomalyID: "an-1", To: model.AnomalyDetected, Actor: "system", At: created}))
	require.NoError(t, s.InsertAnomalyEvent(ctx, model.AnomalyEvent{ID: "e2", AnomalyID: "an-1", From: model.AnomalyDetected, To: model.AnomalyDismissed, Actor: "u", At: created.Add(time.Hour)}))
	events, err := s.ListAnomalyEvents(ctx, "an-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.AnomalyDismissed, events[1].To)
}

func TestAuditLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e1 := audit.New(created, "org-1", "u", audit.ActionTransactionCleared, "transaction", "t1", "")
	e2 := audit.New(created.Add(time.Second), "org-1", "u", audit.ActionJobSealed, "job", "j1", "")
	require.NoError(t, s.AppendAudit(ctx, e1))
	require.NoError(t, s.AppendAudit(ctx, e2))

	all, err := s.ListAudit(ctx, AuditFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, []audit.Entry{e1, e2}, all)

	byRes, err := s.ListAudit(ctx, AuditFilter{ResourceID: "t1"})
	require.NoError(t, err)
	assert.Len(t, byRes, 1)

	_, err = s.db.Exec(`DELETE FROM audit_log`)
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
