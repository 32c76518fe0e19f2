package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cleared-dev/trustrecon/internal/model"
)

const scheduleColumns = `id, organization_id, trust_account_id, frequency, time_of_day, day_of_week,
	day_of_month, timezone, is_active, last_run_at, created_at`

// SaveSchedule inserts or replaces a reconciliation schedule.
func (q *queries) SaveSchedule(ctx context.Context, s model.ReconciliationSchedule) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO reconciliation_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			frequency = excluded.frequency,
			time_of_day = excluded.time_of_day,
			day_of_week = excluded.day_of_week,
			day_of_month = excluded.day_of_month,
			timezone = excluded.timezone,
			is_active = excluded.is_active,
			last_run_at = excluded.last_run_at`,
		s.ID, s.OrganizationID, s.TrustAccountID, string(s.Frequency), s.TimeOfDay,
		nullInt(s.DayOfWeek), nullInt(s.DayOfMonth), s.Timezone, boolInt(s.IsActive),
		nullTS(s.LastRunAt), formatTS(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving schedule %s: %w", s.ID, err)
	}
	return nil
}

// GetSchedule returns a schedule by ID.
func (q *queries) GetSchedule(ctx context.Context, id string) (model.ReconciliationSchedule, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM reconciliation_schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReconciliationSchedule{}, &model.NotFoundError{Resource: "schedule", ID: id}
	}
	if err != nil {
		return model.ReconciliationSchedule{}, fmt.Errorf("reading schedule %s: %w", id, err)
	}
	return s, nil
}

// ListSchedules returns an organization's schedules; an empty orgID lists all.
func (q *queries) ListSchedules(ctx context.Context, orgID string, activeOnly bool) ([]model.ReconciliationSchedule, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM reconciliation_schedules
		WHERE (? = '' OR organization_id = ?) AND (? = 0 OR is_active = 1)
		ORDER BY trust_account_id, created_at, id`,
		orgID, orgID, boolInt(activeOnly))
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.ReconciliationSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// SetScheduleLastRun records when a schedule last ran.
func (q *queries) SetScheduleLastRun(ctx context.Context, id string, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `UPDATE reconciliation_schedules SET last_run_at = ? WHERE id = ?`, formatTS(at), id)
	if err != nil {
		return fmt.Errorf("updating last run of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Resource: "schedule", ID: id}
	}
	return nil
}

func scanSchedule(s scanner) (model.ReconciliationSchedule, error) {
	var sc model.ReconciliationSchedule
	var freq, created string
	var active int
	var dow, dom sql.NullInt64
	var lastRun sql.NullString
	err := s.Scan(&sc.ID, &sc.OrganizationID, &sc.TrustAccountID, &freq, &sc.TimeOfDay, &dow, &dom,
		&sc.Timezone, &active, &lastRun, &created)
	if err != nil {
		return model.ReconciliationSchedule{}, err
	}
	sc.Frequency = model.Frequency(freq)
	sc.DayOfWeek = scanNullInt(dow)
	sc.DayOfMonth = scanNullInt(dom)
	sc.IsActive = active == 1
	if sc.LastRunAt, err = scanNullTS(lastRun); err != nil {
		return model.ReconciliationSchedule{}, err
	}
	if sc.CreatedAt, err = parseTS(created); err != nil {
		return model.ReconciliationSchedule{}, err
	}
	return sc, nil
}
