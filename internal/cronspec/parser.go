// Package cronspec validates six-field (seconds-first) cron expressions,
// computes their next fire time, and estimates a minimum firing interval
// used for missed-execution detection (C8).
package cronspec

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts seconds, minutes, hours, day-of-month, month, and
// day-of-week fields, in that order (spec §4.7's six-field format).
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate parses expr and returns an error if it isn't a well-formed
// six-field cron expression.
func Validate(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextFire returns the first fire time strictly after from.
func NextFire(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}
