package calendar

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestWeekdayFallback(t *testing.T) {
	cal := NewMarket(nil, zerolog.Nop())

	assert.True(t, cal.IsBusinessDay(mustDate(t, "2026-08-04")), "Tuesday")
	assert.False(t, cal.IsBusinessDay(mustDate(t, "2026-08-01")), "Saturday")
	assert.False(t, cal.IsBusinessDay(mustDate(t, "2026-08-02")), "Sunday")
}

func TestFeedOverridesWeekday(t *testing.T) {
	cal := NewMarket([]Day{
		{Date: mustDate(t, "2026-08-10"), Open: false}, // Monday holiday
	}, zerolog.Nop())

	assert.False(t, cal.IsBusinessDay(mustDate(t, "2026-08-10")))
	assert.True(t, cal.IsBusinessDay(mustDate(t, "2026-08-11")))
}

func TestPreviousBusinessDay(t *testing.T) {
	cal := NewMarket([]Day{
		{Date: mustDate(t, "2026-08-10"), Open: false},
	}, zerolog.Nop())

	// Tuesday after a Monday holiday reaches back to Friday.
	prev := cal.PreviousBusinessDay(mustDate(t, "2026-08-11"))
	assert.Equal(t, "2026-08-07", FormatDate(prev))

	// Monday without a holiday reaches back over the weekend.
	prev = cal.PreviousBusinessDay(mustDate(t, "2026-08-17"))
	assert.Equal(t, "2026-08-14", FormatDate(prev))
}

func TestBusinessDaysInRange(t *testing.T) {
	cal := NewMarket([]Day{
		{Date: mustDate(t, "2026-08-12"), Open: false}, // Wednesday closed
	}, zerolog.Nop())

	days := cal.BusinessDaysInRange(mustDate(t, "2026-08-10"), mustDate(t, "2026-08-16"))

	var got []string
	for _, d := range days {
		got = append(got, FormatDate(d))
	}
	assert.Equal(t, []string{"2026-08-10", "2026-08-11", "2026-08-13", "2026-08-14"}, got)
}

func TestDateHelpers(t *testing.T) {
	ts := time.Date(2026, 8, 4, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-08-04", FormatDate(DateOf(ts)))
	assert.Equal(t, "2026-08-05", FormatDate(NextDay(ts)))
	assert.Equal(t, "2026-08-03", FormatDate(PrevDay(ts)))
	assert.True(t, SameDate(ts, DateOf(ts)))
	assert.False(t, SameDate(ts, NextDay(ts)))
}
