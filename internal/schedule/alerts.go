package schedule

import (
	"context"
	"fmt"
	"sort"

	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

// recentJobs bounds how far back the discrepancy alert looks for a completed job.
const recentJobs = 20

// overdueSeverity scales with how long a missed period leaves the account unreconciled.
var overdueSeverity = map[model.Frequency]model.Severity{
	model.FrequencyDaily:   model.SeverityMedium,
	model.FrequencyWeekly:  model.SeverityHigh,
	model.FrequencyMonthly: model.SeverityCritical,
}

// Alerts derives the current alerts for an organization's active schedules. Nothing is stored.
func (s *Scheduler) Alerts(ctx context.Context, orgID string) ([]model.Alert, error) {
	schedules, err := s.db.ListSchedules(ctx, orgID, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	materiality := s.cfg.MaterialityThreshold
	var alerts []model.Alert

	for _, sch := range schedules {
		due, err := s.dueAt(sch)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
		following, err := NextRun(sch, due)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
		if now.After(following) {
			alerts = append(alerts, model.Alert{
				Kind:           model.AlertOverdue,
				Severity:       overdueSeverity[sch.Frequency],
				ScheduleID:     sch.ID,
				TrustAccountID: sch.TrustAccountID,
				Message:        fmt.Sprintf("%s reconciliation overdue since %s", sch.Frequency, due.Format("2006-01-02 15:04 MST")),
				DetectedAt:     now,
			})
		}

		limit := recentJobs
		if s.cfg.FailureThreshold > limit {
			limit = s.cfg.FailureThreshold
		}
		jobs, err := s.db.ListJobs(ctx, store.JobFilter{ScheduleID: sch.ID, Limit: limit})
		if err != nil {
			return nil, err
		}

		if n := s.cfg.FailureThreshold; n > 0 && len(jobs) >= n && allFailed(jobs[:n]) {
			alerts = append(alerts, model.Alert{
				Kind:           model.AlertRepeatedFailure,
				Severity:       model.SeverityHigh,
				ScheduleID:     sch.ID,
				TrustAccountID: sch.TrustAccountID,
				Message:        fmt.Sprintf("last %d runs failed: %s", n, jobs[0].ErrorDetail),
				DetectedAt:     now,
			})
		}

		if job := latestCompleted(jobs); job != nil && job.Discrepancy != nil && job.Discrepancy.Abs().GreaterThan(materiality) {
			alerts = append(alerts, model.Alert{
				Kind:           model.AlertDiscrepancy,
				Severity:       model.SeverityHigh,
				ScheduleID:     sch.ID,
				TrustAccountID: sch.TrustAccountID,
				Message:        fmt.Sprintf("job %s discrepancy %s exceeds %s", job.ID, job.Discrepancy.StringFixed(2), materiality.StringFixed(2)),
				DetectedAt:     now,
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].TrustAccountID != alerts[j].TrustAccountID {
			return alerts[i].TrustAccountID < alerts[j].TrustAccountID
		}
		return alerts[i].ScheduleID < alerts[j].ScheduleID
	})
	return alerts, nil
}

func allFailed(jobs []model.ReconciliationJob) bool {
	for _, j := range jobs {
		if j.Status != model.JobStatusFailed {
			return false
		}
	}
	return true
}

func latestCompleted(jobs []model.ReconciliationJob) *model.ReconciliationJob {
	for i := range jobs {
		if jobs[i].Status == model.JobStatusCompleted {
			return &jobs[i]
		}
	}
	return nil
}
