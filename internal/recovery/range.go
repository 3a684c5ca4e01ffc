package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/jobs"
)

// Mode selects which primary families a range replay covers.
type Mode string

const (
	// ModeCloseOnly replays only the close family.
	ModeCloseOnly Mode = "close_only"
	// ModeMorningClose replays morning then close for each day.
	ModeMorningClose Mode = "morning_close"
)

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	return m == ModeCloseOnly || m == ModeMorningClose
}

// maxReportEntries bounds the per-day lists in a range report so a replay of
// a long span stays summarisable.
const maxReportEntries = 20

// RangeReport summarises one range replay.
type RangeReport struct {
	From          time.Time
	To            time.Time
	Mode          Mode
	BusinessDays  int
	OKDays        []string
	FailedDays    []string
	FailedDetails map[string]string
	Truncated     bool
}

// RangeRunner replays historical spans through the same job entry point the
// scheduler uses. It is deliberately cursor-neutral: replaying last quarter
// must never make the live coordinator believe recent days are complete.
type RangeRunner struct {
	cal   calendar.Calendar
	entry Entry
	log   zerolog.Logger
}

// NewRangeRunner creates a range runner.
func NewRangeRunner(cal calendar.Calendar, entry Entry, log zerolog.Logger) *RangeRunner {
	return &RangeRunner{
		cal:   cal,
		entry: entry,
		log:   log.With().Str("component", "range_runner").Logger(),
	}
}

// Run replays every business day in [from, to] ascending. Days fail
// independently: a failed Tuesday does not stop Wednesday. The returned
// report is always non-nil when the arguments validate.
func (r *RangeRunner) Run(ctx context.Context, from, to time.Time, mode Mode) (*RangeReport, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown range recovery mode %q", mode)
	}
	from, to = calendar.DateOf(from), calendar.DateOf(to)
	if from.After(to) {
		return nil, fmt.Errorf("range start %s is after end %s",
			calendar.FormatDate(from), calendar.FormatDate(to))
	}

	families := []jobs.Family{jobs.FamilyClose}
	if mode == ModeMorningClose {
		families = []jobs.Family{jobs.FamilyMorning, jobs.FamilyClose}
	}

	days := r.cal.BusinessDaysInRange(from, to)
	report := &RangeReport{
		From:          from,
		To:            to,
		Mode:          mode,
		BusinessDays:  len(days),
		FailedDetails: make(map[string]string),
	}

	r.log.Info().
		Str("from", calendar.FormatDate(from)).
		Str("to", calendar.FormatDate(to)).
		Str("mode", string(mode)).
		Int("business_days", len(days)).
		Msg("Starting range recovery")

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var dayErr *multierror.Error
		for _, family := range families {
			if err := r.entry.Run(ctx, family, day); err != nil {
				dayErr = multierror.Append(dayErr,
					fmt.Errorf("%s: %w", family, err))
			}
		}

		key := calendar.FormatDate(day)
		if err := dayErr.ErrorOrNil(); err != nil {
			r.log.Error().Err(err).Str("date", key).Msg("Range recovery day failed")
			r.record(&report.FailedDays, key, report)
			if len(report.FailedDetails) < maxReportEntries {
				report.FailedDetails[key] = err.Error()
			}
			continue
		}
		r.record(&report.OKDays, key, report)
	}

	r.log.Info().
		Int("ok", len(report.OKDays)).
		Int("failed", len(report.FailedDays)).
		Bool("truncated", report.Truncated).
		Msg("Range recovery finished")
	return report, nil
}

func (r *RangeRunner) record(list *[]string, key string, report *RangeReport) {
	if len(*list) >= maxReportEntries {
		report.Truncated = true
		return
	}
	*list = append(*list, key)
}
