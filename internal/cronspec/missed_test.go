package cronspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMinInterval(t *testing.T) {
	require.Equal(t, time.Second, MinInterval("* * * * * *"))
	require.Equal(t, 10*time.Second, MinInterval("*/10 * * * * *"))
	require.Equal(t, 60*time.Second, MinInterval("30 * * * * *"))
	require.Equal(t, 15*time.Second, MinInterval("0,15,30,45 * * * * *"))
	require.Equal(t, 60*time.Second, MinInterval(""))
	require.Equal(t, 60*time.Second, MinInterval("? * * * * *"))
}

// TestMinInterval_UnevenCommaList covers a comma-list whose forward gaps are
// not the true minimum: the wrap-around gap (from the last value back to the
// first, through the top of the minute) is smaller. "0,45" has a forward gap
// of 45s but a wrap-around gap of only 60-45=15s, so the estimate must be 15s,
// not 45s — otherwise ShouldHaveRun underestimates how often this fires and
// misses catch-up runs.
func TestMinInterval_UnevenCommaList(t *testing.T) {
	require.Equal(t, 15*time.Second, MinInterval("0,45 * * * * *"))
}

func TestShouldHaveRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, ShouldHaveRun("*/10 * * * * *", now.Add(-30*time.Second), now))
	require.False(t, ShouldHaveRun("*/10 * * * * *", now.Add(-5*time.Second), now))
	require.False(t, ShouldHaveRun("*/10 * * * * *", time.Time{}, now))
	require.False(t, ShouldHaveRun("*/10 * * * * *", now.Add(time.Second), now))
}
