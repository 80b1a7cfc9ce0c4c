package cronspec

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// MinInterval estimates a cron expression's minimum firing interval from its
// seconds field (the first of six), used to decide whether a scheduled
// handler's last firing is overdue (spec §4.7's deliberately conservative
// estimator):
//
//	*/k  -> k seconds
//	*    -> 1 second
//	N    -> 60 seconds (a single fixed second, so the next fire is a minute away)
//	a,b,c -> the minimum gap between successive values, in seconds
//	anything else -> 60 seconds
func MinInterval(expr string) time.Duration {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return 60 * time.Second
	}
	seconds := fields[0]

	switch {
	case seconds == "*":
		return time.Second
	case strings.HasPrefix(seconds, "*/"):
		k, err := strconv.Atoi(seconds[2:])
		if err != nil || k <= 0 {
			return 60 * time.Second
		}
		return time.Duration(k) * time.Second
	case strings.Contains(seconds, ","):
		return minCommaGap(seconds)
	default:
		if _, err := strconv.Atoi(seconds); err == nil {
			return 60 * time.Second
		}
		return 60 * time.Second
	}
}

// minCommaGap returns the smallest gap between successive sorted values in a
// comma-separated list of integers, in seconds. Falls back to 60s if the
// list doesn't parse cleanly or has fewer than two values.
func minCommaGap(list string) time.Duration {
	parts := strings.Split(list, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 60 * time.Second
		}
		values = append(values, v)
	}
	if len(values) < 2 {
		return 60 * time.Second
	}
	sort.Ints(values)

	min := 60 - (values[len(values)-1] - values[0]) // wrap-around gap, seconds in a minute
	for i := 1; i < len(values); i++ {
		if gap := values[i] - values[i-1]; gap < min {
			min = gap
		}
	}
	if min <= 0 {
		return 60 * time.Second
	}
	return time.Duration(min) * time.Second
}

// ShouldHaveRun reports whether a scheduled handler with the given cron
// expression is overdue: lastFire plus the estimated minimum interval has
// already passed, and lastFire is strictly before now (spec §4.7).
func ShouldHaveRun(expr string, lastFire, now time.Time) bool {
	if lastFire.IsZero() {
		return false
	}
	if !lastFire.Before(now) {
		return false
	}
	minInterval := MinInterval(expr)
	return !lastFire.Add(minInterval).After(now)
}
