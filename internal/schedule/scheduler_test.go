package schedule

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/config"
	"github.com/cleared-dev/trustrecon/internal/importer"
	mock_importer "github.com/cleared-dev/trustrecon/internal/importer/mocks"
	"github.com/cleared-dev/trustrecon/internal/logger"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/reconcile"
	"github.com/cleared-dev/trustrecon/internal/store"
)

const januaryCSV = "Date,Description,Amount\n2024-01-05,Check 1001,-500.00\n2024-01-06,Deposit,1200.00\n"

var clock = time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)

type fixture struct {
	sched  *Scheduler
	store  *store.Store
	source *mock_importer.MockSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "trust.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, acct := range []string{"acct-1", "acct-2"} {
		require.NoError(t, st.CreateAccount(ctx, model.TrustAccount{
			ID: acct, OrganizationID: "org-1", Name: acct, Currency: "USD",
			Status: model.AccountStatusActive, CreatedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		}))
	}
	require.NoError(t, st.InsertTransaction(ctx, model.TrustTransaction{
		ID: "t1", TrustAccountID: "acct-1", ClientID: "client-a", Amount: decimal.RequireFromString("-500.00"),
		TransactionDate: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), CreatedAt: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}))

	ctrl := gomock.NewController(t)
	src := mock_importer.NewMockSource(ctrl)

	cfg := config.Default("org-1", "Test").Scheduler
	s := New(st, reconcile.NewEngine(st, 3), src, cfg)
	s.now = func() time.Time { return clock }
	return &fixture{sched: s, store: st, source: src}
}

func (f *fixture) schedule(t *testing.T, id, account string, freq model.Frequency) model.ReconciliationSchedule {
	t.Helper()
	sch := model.ReconciliationSchedule{ID: id, TrustAccountID: account, Frequency: freq, TimeOfDay: "05:00"}
	switch freq {
	case model.FrequencyWeekly:
		sch.DayOfWeek = intp(1)
	case model.FrequencyMonthly:
		sch.DayOfMonth = intp(1)
	}
	created, err := f.sched.Create(context.Background(), sch)
	require.NoError(t, err)
	return created
}

// seed stores an active schedule directly, bypassing Create so CreatedAt can be backdated.
func (f *fixture) seed(t *testing.T, id, account string, freq model.Frequency, created time.Time) {
	t.Helper()
	sch := model.ReconciliationSchedule{
		ID: id, OrganizationID: "org-1", TrustAccountID: account, Frequency: freq,
		TimeOfDay: "05:00", IsActive: true, CreatedAt: created,
	}
	switch freq {
	case model.FrequencyWeekly:
		sch.DayOfWeek = intp(1)
	case model.FrequencyMonthly:
		sch.DayOfMonth = intp(1)
	}
	require.NoError(t, f.store.SaveSchedule(context.Background(), sch))
}

func january() *importer.RawStatement {
	return &importer.RawStatement{ID: "stmt-jan", FileName: "jan.csv", Format: "csv", Raw: []byte(januaryCSV)}
}

func TestRunAutomatedReconciliation_LogsSkippedRows(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))
	raw := []byte(januaryCSV + "not-a-date,Garbage,12.00\n")
	f.source.EXPECT().Latest(gomock.Any(), "acct-1").
		Return(&importer.RawStatement{ID: "stmt-jan", FileName: "jan.csv", Format: "csv", Raw: raw}, nil)

	job, err := f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "", "system")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Contains(t, buf.String(), `"message":"statement rows skipped"`)
	assert.Contains(t, buf.String(), `"skipped":1`)
}

func TestRunAutomatedReconciliation_Completes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.schedule(t, "sch-1", "acct-1", model.FrequencyDaily)
	f.source.EXPECT().Latest(gomock.Any(), "acct-1").Return(january(), nil)

	job, err := f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "sch-1", "system")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, "stmt-jan", job.StatementID)
	assert.Equal(t, "sch-1", job.ScheduleID)
	assert.Equal(t, 1, job.MatchedCount)
	assert.Equal(t, 1, job.UnmatchedStatementCount)
	assert.Equal(t, clock, job.StartedAt)

	txn, err := f.store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, txn.IsReconciled)

	sch, err := f.store.GetSchedule(ctx, "sch-1")
	require.NoError(t, err)
	require.NotNil(t, sch.LastRunAt)

	// The lease was released.
	_, err = f.store.AcquireLease(ctx, "acct-1", "other", clock, time.Minute)
	assert.NoError(t, err)
}

func TestRunAutomatedReconciliation_FailuresBecomeJobs(t *testing.T) {
	cases := map[string]func(*fixture){
		"source error": func(f *fixture) {
			f.source.EXPECT().Latest(gomock.Any(), "acct-1").Return(nil, errors.New("bucket unreachable"))
		},
		"no statement": func(f *fixture) {
			f.source.EXPECT().Latest(gomock.Any(), "acct-1").Return(nil, &model.NotFoundError{Resource: "statement for account", ID: "acct-1"})
		},
		"parse error": func(f *fixture) {
			f.source.EXPECT().Latest(gomock.Any(), "acct-1").Return(&importer.RawStatement{ID: "bad", Format: "csv", Raw: []byte("Foo,Bar\n1,2\n")}, nil)
		},
		"panic": func(f *fixture) {
			f.source.EXPECT().Latest(gomock.Any(), "acct-1").DoAndReturn(func(context.Context, string) (*importer.RawStatement, error) {
				panic("nil statement")
			})
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.schedule(t, "sch-1", "acct-1", model.FrequencyDaily)
			setup(f)

			job, err := f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "sch-1", "system")
			require.NoError(t, err, "failures are recorded, not returned")
			assert.Equal(t, model.JobStatusFailed, job.Status)
			assert.NotEmpty(t, job.ErrorDetail)
			assert.Equal(t, "-500.00", job.LedgerBalance.StringFixed(2))

			jobs, err := f.store.ListJobs(ctx, store.JobFilter{ScheduleID: "sch-1"})
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			assert.Equal(t, job.ID, jobs[0].ID)

			failed, err := f.store.ListAudit(ctx, store.AuditFilter{Action: audit.ActionJobFailed})
			require.NoError(t, err)
			assert.Len(t, failed, 1)

			txn, err := f.store.GetTransaction(ctx, "t1")
			require.NoError(t, err)
			assert.False(t, txn.IsCleared, "nothing applied on failure")

			_, err = f.store.AcquireLease(ctx, "acct-1", "other", clock, time.Minute)
			assert.NoError(t, err, "lease released after failure")
		})
	}
}

func TestRunAutomatedReconciliation_LookupErrorsAreReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.schedule(t, "sch-2", "acct-2", model.FrequencyDaily)

	_, err := f.sched.RunAutomatedReconciliation(ctx, "org-1", "missing", "", "system")
	assert.True(t, model.IsNotFound(err))

	_, err = f.sched.RunAutomatedReconciliation(ctx, "org-2", "acct-1", "", "system")
	assert.True(t, model.IsNotFound(err))

	_, err = f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "sch-2", "system")
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)

	jobs, err := f.store.ListJobs(ctx, store.JobFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRunAutomatedReconciliation_HeldLeaseIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AcquireLease(ctx, "acct-1", "other-instance", clock.Add(-time.Minute), time.Hour)
	require.NoError(t, err)

	// No EXPECT: the source must not be called.
	job, err := f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "", "system")
	assert.Nil(t, job)
	assert.True(t, model.IsConflict(err))

	// An expired lease is taken over.
	f.sched.now = func() time.Time { return clock.Add(2 * time.Hour) }
	f.source.EXPECT().Latest(gomock.Any(), "acct-1").Return(january(), nil)
	job, err = f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "", "system")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
}

func TestRunAutomatedReconciliation_ConcurrentRunsAreExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.source.EXPECT().Latest(gomock.Any(), "acct-1").Times(1).
		DoAndReturn(func(context.Context, string) (*importer.RawStatement, error) {
			close(started)
			<-release
			return january(), nil
		})

	var (
		wg       sync.WaitGroup
		firstJob *model.ReconciliationJob
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstJob, firstErr = f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "", "system")
	}()

	<-started
	secondJob, secondErr := f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "", "system")
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, model.JobStatusCompleted, firstJob.Status)
	assert.Nil(t, secondJob)
	assert.True(t, model.IsConflict(secondErr))

	jobs, err := f.store.ListJobs(ctx, store.JobFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRunAutomatedReconciliation_OtherAccountsRunConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.source.EXPECT().Latest(gomock.Any(), "acct-1").DoAndReturn(func(context.Context, string) (*importer.RawStatement, error) {
		close(started)
		<-release
		return january(), nil
	})
	f.source.EXPECT().Latest(gomock.Any(), "acct-2").Return(january(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-1", "", "system")
	}()

	<-started
	job, err := f.sched.RunAutomatedReconciliation(ctx, "org-1", "acct-2", "", "system")
	close(release)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.MatchedCount)
}

func TestRunDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "sch-1", "acct-1", model.FrequencyDaily, clock.AddDate(0, 0, -2))
	f.seed(t, "sch-2", "acct-2", model.FrequencyDaily, clock.AddDate(0, 0, -2))
	// Created now, so its first run is Mar 1.
	f.seed(t, "sch-3", "acct-2", model.FrequencyMonthly, clock)
	// Created now, so its first 05:00 run is tomorrow.
	f.seed(t, "sch-4", "acct-1", model.FrequencyDaily, clock)

	f.source.EXPECT().Latest(gomock.Any(), "acct-1").Return(january(), nil)
	f.source.EXPECT().Latest(gomock.Any(), "acct-2").Return(nil, errors.New("bucket unreachable"))

	report, err := f.sched.RunDue(ctx, "org-1", "system")
	require.NoError(t, err)
	require.Len(t, report.Jobs, 2, "a failed account does not stop the batch")
	assert.Empty(t, report.Skipped)

	byAccount := map[string]model.JobStatus{}
	for _, j := range report.Jobs {
		byAccount[j.TrustAccountID] = j.Status
	}
	assert.Equal(t, model.JobStatusCompleted, byAccount["acct-1"])
	assert.Equal(t, model.JobStatusFailed, byAccount["acct-2"])

	for _, id := range []string{"sch-3", "sch-4"} {
		jobs, err := f.store.ListJobs(ctx, store.JobFilter{ScheduleID: id})
		require.NoError(t, err)
		assert.Empty(t, jobs, id)
	}
}

func TestRunDue_SkipsHeldLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "sch-1", "acct-1", model.FrequencyDaily, clock.AddDate(0, 0, -2))

	_, err := f.store.AcquireLease(ctx, "acct-1", "other", clock, time.Hour)
	require.NoError(t, err)

	report, err := f.sched.RunDue(ctx, "", "system")
	require.NoError(t, err)
	assert.Empty(t, report.Jobs)
	require.Len(t, report.Skipped, 1)
	assert.True(t, model.IsConflict(report.Skipped[0].Err))
}

func TestCreateAndDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.Create(ctx, model.ReconciliationSchedule{TrustAccountID: "acct-1", Frequency: "hourly", TimeOfDay: "05:00"})
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = f.sched.Create(ctx, model.ReconciliationSchedule{TrustAccountID: "acct-1", OrganizationID: "org-9", Frequency: model.FrequencyDaily, TimeOfDay: "05:00"})
	assert.ErrorAs(t, err, &ve)

	sch := f.schedule(t, "", "acct-1", model.FrequencyWeekly)
	assert.NotEmpty(t, sch.ID)
	assert.Equal(t, "org-1", sch.OrganizationID)
	assert.True(t, sch.IsActive)

	require.NoError(t, f.sched.Deactivate(ctx, sch.ID))
	require.NoError(t, f.sched.Deactivate(ctx, sch.ID))
	active, err := f.store.ListSchedules(ctx, "org-1", true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := f.store.ListSchedules(ctx, "org-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 1, "deactivated, not deleted")

	assert.True(t, model.IsNotFound(f.sched.Deactivate(ctx, "missing")))
}
