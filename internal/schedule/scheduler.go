// Package schedule owns recurring reconciliation schedules: next-run computation, automated
// runs guarded by a persisted per-account lease, job history and derived alerts.
package schedule

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/config"
	"github.com/cleared-dev/trustrecon/internal/id"
	"github.com/cleared-dev/trustrecon/internal/importer"
	"github.com/cleared-dev/trustrecon/internal/logger"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/reconcile"
	"github.com/cleared-dev/trustrecon/internal/store"
)

// Scheduler runs reconciliations for schedules. It keeps no in-process state between calls:
// every invocation is a bounded synchronous batch, and exclusivity lives in the store.
type Scheduler struct {
	db       store.DB
	engine   *reconcile.Engine
	source   importer.Source
	registry *importer.Registry
	cfg      config.SchedulerConfig
	host     string
	now      func() time.Time
}

// New creates a Scheduler.
func New(db store.DB, engine *reconcile.Engine, source importer.Source, cfg config.SchedulerConfig) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		db:       db,
		engine:   engine,
		source:   source,
		registry: importer.DefaultRegistry(),
		cfg:      cfg,
		host:     host,
		now:      time.Now,
	}
}

// Create validates and stores a new active schedule.
func (s *Scheduler) Create(ctx context.Context, sch model.ReconciliationSchedule) (model.ReconciliationSchedule, error) {
	if err := Validate(sch); err != nil {
		return model.ReconciliationSchedule{}, err
	}
	acct, err := s.db.GetAccount(ctx, sch.TrustAccountID)
	if err != nil {
		return model.ReconciliationSchedule{}, err
	}
	if sch.OrganizationID == "" {
		sch.OrganizationID = acct.OrganizationID
	}
	if sch.OrganizationID != acct.OrganizationID {
		return model.ReconciliationSchedule{}, &model.ValidationError{Field: "organization_id", Reason: "account belongs to another organization"}
	}
	if sch.ID == "" {
		sch.ID = id.New()
	}
	sch.IsActive = true
	sch.LastRunAt = nil
	sch.CreatedAt = s.now().UTC()

	if err := s.db.SaveSchedule(ctx, sch); err != nil {
		return model.ReconciliationSchedule{}, err
	}
	return sch, nil
}

// Deactivate stops a schedule from running. Schedules are never deleted.
func (s *Scheduler) Deactivate(ctx context.Context, scheduleID string) error {
	sch, err := s.db.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !sch.IsActive {
		return nil
	}
	sch.IsActive = false
	return s.db.SaveSchedule(ctx, sch)
}

// RunAutomatedReconciliation reconciles the account's latest statement and seals a job.
//
// Lookup errors and a held lease are returned as errors. Once the lease is held, every outcome
// is recorded as a job: failures become a failed job and the returned error is nil.
func (s *Scheduler) RunAutomatedReconciliation(ctx context.Context, orgID, trustAccountID, scheduleID, actorID string) (*model.ReconciliationJob, error) {
	log := logger.FromContext(ctx).With().
		Str("account", trustAccountID).
		Str("schedule", scheduleID).
		Logger()

	acct, err := s.db.GetAccount(ctx, trustAccountID)
	if err != nil {
		return nil, err
	}
	if acct.OrganizationID != orgID {
		return nil, &model.NotFoundError{Resource: "trust account", ID: trustAccountID}
	}
	if scheduleID != "" {
		sch, err := s.db.GetSchedule(ctx, scheduleID)
		if err != nil {
			return nil, err
		}
		if sch.TrustAccountID != trustAccountID || sch.OrganizationID != orgID {
			return nil, &model.ValidationError{Field: "schedule_id", Reason: "schedule does not belong to this account"}
		}
	}

	// Each run holds its own lease, so two runs in one process also exclude each other.
	lease, err := s.db.AcquireLease(ctx, trustAccountID, id.LeaseHolder(s.host), s.now(), s.cfg.LeaseTTL)
	if err != nil {
		log.Warn().Err(err).Msg("reconciliation skipped")
		return nil, err
	}
	defer func() {
		// Release even if ctx was cancelled; an unreleased lease only expires after the TTL.
		if err := s.db.ReleaseLease(context.WithoutCancel(ctx), trustAccountID, lease.Holder); err != nil {
			log.Error().Err(err).Msg("releasing lease")
		}
	}()

	startedAt := s.now().UTC()
	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	job, runErr := s.run(runCtx, trustAccountID, scheduleID, actorID, startedAt)
	if runErr != nil {
		log.Error().Err(runErr).Msg("reconciliation failed")
		job, err = s.sealFailed(context.WithoutCancel(ctx), acct, scheduleID, actorID, startedAt, runErr)
		if err != nil {
			return nil, fmt.Errorf("recording failed job: %w", err)
		}
	} else {
		log.Info().
			Str("job", job.ID).
			Int("matched", job.MatchedCount).
			Int("unmatched_statement", job.UnmatchedStatementCount).
			Msg("reconciliation completed")
	}

	if scheduleID != "" {
		if err := s.db.SetScheduleLastRun(context.WithoutCancel(ctx), scheduleID, job.CompletedAt); err != nil {
			log.Error().Err(err).Msg("updating last run")
		}
	}
	return job, nil
}

// run does the work that is captured as job data on failure, including panics.
func (s *Scheduler) run(ctx context.Context, accountID, scheduleID, actor string, startedAt time.Time) (job *model.ReconciliationJob, err error) {
	defer func() {
		if r := recover(); r != nil {
			job, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	raw, err := s.source.Latest(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("fetching latest statement: %w", err)
	}
	stmt, err := s.registry.Parse(raw.Raw, raw.Format)
	if err != nil {
		return nil, err
	}
	if stmt.SkippedRows > 0 {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("statement", raw.ID).
			Int("skipped", stmt.SkippedRows).
			Float64("skip_ratio", stmt.SkipRatio()).
			Msg("statement rows skipped")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, job, err = s.engine.ReconcileAndFinalize(ctx, reconcile.RunParams{
		TrustAccountID: accountID,
		Statement:      stmt,
		StatementID:    raw.ID,
		ScheduleID:     scheduleID,
		Actor:          actor,
		StartedAt:      startedAt,
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Scheduler) sealFailed(ctx context.Context, acct model.TrustAccount, scheduleID, actor string, startedAt time.Time, cause error) (*model.ReconciliationJob, error) {
	job := &model.ReconciliationJob{
		ID:             id.New(),
		ScheduleID:     scheduleID,
		OrganizationID: acct.OrganizationID,
		TrustAccountID: acct.ID,
		Status:         model.JobStatusFailed,
		StartedAt:      startedAt,
		CompletedAt:    s.now().UTC(),
		LedgerBalance:  decimal.Zero,
		ErrorDetail:    cause.Error(),
		CreatedBy:      actor,
	}
	if bal, err := s.db.Balance(ctx, acct.ID, nil); err == nil {
		job.LedgerBalance = bal
	}
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertJob(ctx, *job); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.New(job.CompletedAt, acct.OrganizationID, actor, audit.ActionJobFailed, "reconciliation_job", job.ID, job.ErrorDetail))
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Skip records a due schedule that did not produce a job.
type Skip struct {
	ScheduleID     string
	TrustAccountID string
	Err            error
}

// DueReport summarizes one RunDue batch.
type DueReport struct {
	Jobs    []model.ReconciliationJob
	Skipped []Skip
}

// RunDue runs every active schedule whose next run time has passed, one account after another.
// An empty orgID covers all organizations. A failure on one account never stops the others.
func (s *Scheduler) RunDue(ctx context.Context, orgID, actor string) (*DueReport, error) {
	schedules, err := s.db.ListSchedules(ctx, orgID, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	report := &DueReport{}
	for _, sch := range schedules {
		due, err := s.dueAt(sch)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{ScheduleID: sch.ID, TrustAccountID: sch.TrustAccountID, Err: err})
			continue
		}
		if due.After(now) {
			continue
		}
		job, err := s.RunAutomatedReconciliation(ctx, sch.OrganizationID, sch.TrustAccountID, sch.ID, actor)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{ScheduleID: sch.ID, TrustAccountID: sch.TrustAccountID, Err: err})
			continue
		}
		report.Jobs = append(report.Jobs, *job)
	}
	return report, nil
}

// dueAt returns the next run after the schedule's last run, or after its creation.
func (s *Scheduler) dueAt(sch model.ReconciliationSchedule) (time.Time, error) {
	base := sch.CreatedAt
	if sch.LastRunAt != nil {
		base = *sch.LastRunAt
	}
	return NextRun(sch, base)
}

// Jobs lists job history, newest first.
func (s *Scheduler) Jobs(ctx context.Context, f store.JobFilter) ([]model.ReconciliationJob, error) {
	return s.db.ListJobs(ctx, f)
}

