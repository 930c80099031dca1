// Package schedule validates report schedules and turns them into queued
// report runs.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/reportmailer/internal/models"
	"github.com/robfig/cron/v3"
)

// ConfigError rejects a schedule at registration time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid schedule: %s %s", e.Field, e.Reason)
}

var weekdays = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Validate checks spec against now. A one-off schedule needs an execute_at
// strictly in the future; a recurring one needs its type and time, a weekday
// only when weekly and a monthday only when monthly.
func Validate(spec models.ScheduleSpec, now time.Time) error {
	if !spec.Periodic {
		if spec.ExecuteAt == nil {
			return &ConfigError{Field: "execute_at", Reason: "is required for a one-off schedule"}
		}
		if !spec.ExecuteAt.After(now) {
			return &ConfigError{Field: "execute_at", Reason: "must be in the future"}
		}
		if spec.Type != "" || spec.Time != "" || spec.Weekday != "" || spec.Monthday != 0 {
			return &ConfigError{Field: "is_periodic", Reason: "must be set when periodic fields are given"}
		}
		return nil
	}

	if spec.ExecuteAt != nil {
		return &ConfigError{Field: "execute_at", Reason: "is not allowed on a recurring schedule"}
	}
	switch spec.Type {
	case models.PeriodicityDaily, models.PeriodicityWeekly, models.PeriodicityMonthly:
	case "":
		return &ConfigError{Field: "periodic_type", Reason: "is required"}
	default:
		return &ConfigError{Field: "periodic_type", Reason: fmt.Sprintf("%q is not daily, weekly or monthly", spec.Type)}
	}
	if spec.Time == "" {
		return &ConfigError{Field: "periodic_time", Reason: "is required"}
	}
	if _, _, err := parseClock(spec.Time); err != nil {
		return &ConfigError{Field: "periodic_time", Reason: "must be HH:MM"}
	}

	if spec.Type == models.PeriodicityWeekly {
		if spec.Weekday == "" {
			return &ConfigError{Field: "periodic_weekday", Reason: "is required for a weekly schedule"}
		}
		if _, ok := weekdays[strings.ToLower(spec.Weekday)]; !ok {
			return &ConfigError{Field: "periodic_weekday", Reason: fmt.Sprintf("%q is not one of mon..sun", spec.Weekday)}
		}
	} else if spec.Weekday != "" {
		return &ConfigError{Field: "periodic_weekday", Reason: "is only allowed on a weekly schedule"}
	}

	if spec.Type == models.PeriodicityMonthly {
		if spec.Monthday < 1 || spec.Monthday > 31 {
			return &ConfigError{Field: "periodic_monthday", Reason: "must be between 1 and 31 for a monthly schedule"}
		}
	} else if spec.Monthday != 0 {
		return &ConfigError{Field: "periodic_monthday", Reason: "is only allowed on a monthly schedule"}
	}
	return nil
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// CronExpr renders a recurring spec as a five-field cron expression.
func CronExpr(spec models.ScheduleSpec) (string, error) {
	if !spec.Periodic {
		return "", &ConfigError{Field: "is_periodic", Reason: "one-off schedules have no cron expression"}
	}
	hour, minute, err := parseClock(spec.Time)
	if err != nil {
		return "", &ConfigError{Field: "periodic_time", Reason: "must be HH:MM"}
	}
	switch spec.Type {
	case models.PeriodicityDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case models.PeriodicityWeekly:
		dow, ok := weekdays[strings.ToLower(spec.Weekday)]
		if !ok {
			return "", &ConfigError{Field: "periodic_weekday", Reason: "is required for a weekly schedule"}
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, dow), nil
	case models.PeriodicityMonthly:
		if spec.Monthday < 1 || spec.Monthday > 31 {
			return "", &ConfigError{Field: "periodic_monthday", Reason: "must be between 1 and 31 for a monthly schedule"}
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, spec.Monthday), nil
	default:
		return "", &ConfigError{Field: "periodic_type", Reason: "is required"}
	}
}

// Next returns the first firing of spec strictly after after, evaluated in
// loc. Months lacking the configured monthday are skipped.
func Next(spec models.ScheduleSpec, after time.Time, loc *time.Location) (time.Time, error) {
	if !spec.Periodic {
		if spec.ExecuteAt != nil && spec.ExecuteAt.After(after) {
			return *spec.ExecuteAt, nil
		}
		return time.Time{}, nil
	}
	expr, err := CronExpr(spec)
	if err != nil {
		return time.Time{}, err
	}
	return nextFromExpr(expr, after, loc)
}

func nextFromExpr(expr string, after time.Time, loc *time.Location) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return sched.Next(after.In(loc)), nil
}
