package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// Validate checks schedule fields before anything is persisted.
func Validate(s model.ReconciliationSchedule) error {
	if s.TrustAccountID == "" {
		return &model.ValidationError{Field: "trust_account_id", Reason: "required"}
	}
	if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
		return err
	}
	if _, err := location(s.Timezone); err != nil {
		return err
	}

	switch s.Frequency {
	case model.FrequencyDaily:
	case model.FrequencyWeekly:
		if s.DayOfWeek == nil {
			return &model.ValidationError{Field: "day_of_week", Reason: "required for weekly schedules"}
		}
		if *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return &model.ValidationError{Field: "day_of_week", Reason: fmt.Sprintf("%d out of range 0-6", *s.DayOfWeek)}
		}
	case model.FrequencyMonthly:
		if s.DayOfMonth == nil {
			return &model.ValidationError{Field: "day_of_month", Reason: "required for monthly schedules"}
		}
		if *s.DayOfMonth < 1 || *s.DayOfMonth > 31 {
			return &model.ValidationError{Field: "day_of_month", Reason: fmt.Sprintf("%d out of range 1-31", *s.DayOfMonth)}
		}
	default:
		return &model.ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", s.Frequency)}
	}
	return nil
}

// parseTimeOfDay parses a 24h "HH:MM".
func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, &model.ValidationError{Field: "time_of_day", Reason: fmt.Sprintf("%q is not HH:MM", s)}
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, &model.ValidationError{Field: "time_of_day", Reason: fmt.Sprintf("bad hour in %q", s)}
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, &model.ValidationError{Field: "time_of_day", Reason: fmt.Sprintf("bad minute in %q", s)}
	}
	return hour, minute, nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &model.ValidationError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", tz)}
	}
	return loc, nil
}

// NextRun returns the first scheduled time strictly after after, computed in the schedule's
// time zone. A monthly day beyond the month's length runs on the month's last day.
func NextRun(s model.ReconciliationSchedule, after time.Time) (time.Time, error) {
	if err := Validate(s); err != nil {
		return time.Time{}, err
	}
	hour, minute, _ := parseTimeOfDay(s.TimeOfDay)
	loc, _ := location(s.Timezone)
	local := after.In(loc)
	y, m, d := local.Date()

	switch s.Frequency {
	case model.FrequencyDaily:
		next := time.Date(y, m, d, hour, minute, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
		}
		return next, nil

	case model.FrequencyWeekly:
		ahead := (*s.DayOfWeek - int(local.Weekday()) + 7) % 7
		next := time.Date(y, m, d+ahead, hour, minute, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(y, m, d+ahead+7, hour, minute, 0, 0, loc)
		}
		return next, nil

	default:
		next := monthlyRun(y, m, *s.DayOfMonth, hour, minute, loc)
		if !next.After(after) {
			next = monthlyRun(y, m+1, *s.DayOfMonth, hour, minute, loc)
		}
		return next, nil
	}
}

func monthlyRun(y int, m time.Month, day, hour, minute int, loc *time.Location) time.Time {
	if last := daysIn(y, m, loc); day > last {
		day = last
	}
	return time.Date(y, m, day, hour, minute, 0, 0, loc)
}

// daysIn returns the number of days in month m of year y. m may be out of range.
func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 12, 0, 0, 0, loc).Day()
}
