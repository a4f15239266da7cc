package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule reports an unparsable cron expression or an unknown
// timezone. Callers surface it at creation/update time.
var ErrInvalidSchedule = errors.New("invalid cron schedule")

var (
	fiveFieldParser = cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
	sixFieldParser = cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
)

// Parse validates a 5- or 6-field cron expression. The 6-field form places
// seconds first; detection is purely structural by field count.
func Parse(expr string) (cron.Schedule, error) {
	switch len(strings.Fields(expr)) {
	case 5:
		sched, err := fiveFieldParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
		}
		return sched, nil
	case 6:
		sched, err := sixFieldParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
		}
		return sched, nil
	default:
		return nil, fmt.Errorf("%w: %q: expected 5 or 6 fields", ErrInvalidSchedule, expr)
	}
}

// Validate checks an expression and timezone without computing anything.
func Validate(expr, timezone string) error {
	if _, err := Parse(expr); err != nil {
		return err
	}
	if _, err := loadLocation(timezone); err != nil {
		return err
	}
	return nil
}

// Next computes the earliest occurrence of expr strictly after base,
// evaluated in the given IANA timezone and returned in UTC. Calendar
// arithmetic happens in the location, so DST transitions are honored.
func Next(expr string, base time.Time, timezone string) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(base.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q: no occurrence after %s", ErrInvalidSchedule, expr, base.UTC().Format(time.RFC3339))
	}
	return next.UTC(), nil
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, timezone)
	}
	return loc, nil
}
