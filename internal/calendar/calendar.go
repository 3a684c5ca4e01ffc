// Package calendar classifies operational dates as business or non-business days.
// The market calendar itself comes from an external feed; when a date is not
// covered by the feed the classifier falls back to a weekday check.
package calendar

import (
	"time"

	"github.com/rs/zerolog"
)

// DateLayout is the canonical date format used across the screener.
const DateLayout = "2006-01-02"

// Calendar answers business-day questions for operational dates.
type Calendar interface {
	IsBusinessDay(date time.Time) bool
	PreviousBusinessDay(date time.Time) time.Time
	BusinessDaysInRange(from, to time.Time) []time.Time
}

// Day is one row of the external market calendar feed.
type Day struct {
	Date time.Time
	Open bool
}

// Market is a Calendar backed by market calendar rows with a weekday fallback
// for dates the feed does not cover.
type Market struct {
	days map[string]bool
	log  zerolog.Logger
}

// NewMarket builds a Market calendar from feed rows.
func NewMarket(rows []Day, log zerolog.Logger) *Market {
	days := make(map[string]bool, len(rows))
	for _, row := range rows {
		days[FormatDate(row.Date)] = row.Open
	}
	return &Market{
		days: days,
		log:  log.With().Str("component", "calendar").Logger(),
	}
}

// IsBusinessDay reports whether date is a trading day. Dates outside the feed
// fall back to Monday-Friday.
func (m *Market) IsBusinessDay(date time.Time) bool {
	if open, ok := m.days[FormatDate(date)]; ok {
		return open
	}
	m.log.Debug().Str("date", FormatDate(date)).Msg("Date not in market calendar, falling back to weekday check")
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PreviousBusinessDay returns the closest business day strictly before date.
func (m *Market) PreviousBusinessDay(date time.Time) time.Time {
	day := PrevDay(date)
	for !m.IsBusinessDay(day) {
		day = PrevDay(day)
	}
	return day
}

// BusinessDaysInRange returns all business days in [from, to], ascending.
func (m *Market) BusinessDaysInRange(from, to time.Time) []time.Time {
	var result []time.Time
	for d := DateOf(from); !d.After(DateOf(to)); d = NextDay(d) {
		if m.IsBusinessDay(d) {
			result = append(result, d)
		}
	}
	return result
}

// DateOf normalizes a timestamp to its calendar date (UTC midnight).
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date using DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a DateLayout string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// NextDay returns the following calendar day.
func NextDay(t time.Time) time.Time {
	return DateOf(t).AddDate(0, 0, 1)
}

// PrevDay returns the preceding calendar day.
func PrevDay(t time.Time) time.Time {
	return DateOf(t).AddDate(0, 0, -1)
}

// SameDate reports whether two timestamps fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return FormatDate(a) == FormatDate(b)
}
