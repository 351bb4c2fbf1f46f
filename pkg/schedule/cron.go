// Package schedule derives workflow run times from cron expressions and
// fires due schedules through a dispatcher. Next fire times are always
// computed from the expression and timezone, never stored.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/entrhq/reprise/pkg/types"
)

// NextRunTime returns the next fire time for a standard 5-field cron
// expression evaluated in the given IANA timezone, or nil when the
// expression or timezone cannot be parsed. It never panics: a stored
// schedule with a bad expression must not take the scheduler down.
func NextRunTime(expr, timezone string) *time.Time {
	return nextRunAfter(expr, timezone, time.Now())
}

func nextRunAfter(expr, timezone string, after time.Time) *time.Time {
	sched, err := parse(expr, timezone)
	if err != nil {
		return nil
	}
	next := sched.Next(after)
	if next.IsZero() {
		return nil
	}
	return &next
}

// ValidateCronExpression rejects expressions NextRunTime would return nil
// for, with the parse failure attached.
func ValidateCronExpression(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return types.WrapError(types.CodeCronParse, err, "invalid cron expression %q", expr)
	}
	return nil
}

// parse combines the expression with its timezone the way the cron library
// expects. An empty timezone means the scheduler host's local time.
func parse(expr, timezone string) (cron.Schedule, error) {
	spec := expr
	if timezone != "" {
		spec = "CRON_TZ=" + timezone + " " + expr
	}
	return cron.ParseStandard(spec)
}
