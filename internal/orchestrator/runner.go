package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/deepdive"
	"github.com/aristath/screener/internal/jobs"
	"github.com/aristath/screener/internal/notify"
)

// Runner executes job families with full run accounting. It is the single
// entry point shared by the scheduler loop, the catch-up coordinator and the
// range recovery runner, so every execution path gets the same guarding.
type Runner struct {
	cfg       Config
	cal       calendar.Calendar
	runs      *jobs.RunRepository
	cursors   *jobs.CursorRepository
	morning   Engine
	close     Engine
	allocator *deepdive.Allocator
	market    MarketData
	events    notify.Emitter
	log       zerolog.Logger
}

// NewRunner creates a job runner. market may be nil to disable close polling.
func NewRunner(
	cfg Config,
	cal calendar.Calendar,
	runs *jobs.RunRepository,
	cursors *jobs.CursorRepository,
	morning Engine,
	closeEngine Engine,
	allocator *deepdive.Allocator,
	market MarketData,
	events notify.Emitter,
	log zerolog.Logger,
) *Runner {
	if events == nil {
		events = notify.Nop{}
	}
	return &Runner{
		cfg:       cfg,
		cal:       cal,
		runs:      runs,
		cursors:   cursors,
		morning:   morning,
		close:     closeEngine,
		allocator: allocator,
		market:    market,
		events:    events,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes a primary family for an operational date. It satisfies the
// recovery entry point; the deep-dive family is session-scoped and goes
// through RunDeepDive instead.
func (r *Runner) Run(ctx context.Context, family jobs.Family, date time.Time) error {
	if !family.IsPrimary() {
		return fmt.Errorf("family %s is not runnable by date alone", family)
	}
	return r.runRecorded(ctx, family, calendar.DateOf(date), sessionFor(family), func(ctx context.Context) error {
		return r.executePrimary(ctx, family, calendar.DateOf(date))
	})
}

// RunDeepDive executes one deep-dive session for an operational date.
func (r *Runner) RunDeepDive(ctx context.Context, date time.Time, session jobs.Session) error {
	date = calendar.DateOf(date)
	return r.runRecorded(ctx, jobs.FamilyDeepDive, date, session, func(ctx context.Context) error {
		return r.executeDeepDive(ctx, date, session)
	})
}

// RunScheduled handles a live trigger firing: it runs today's invocation and,
// on success, advances the recovery cursor when today is contiguous with it.
// Matches scheduler.DispatchFunc when wrapped with a context.
func (r *Runner) RunScheduled(ctx context.Context, family jobs.Family, session jobs.Session) {
	today := calendar.DateOf(time.Now())

	var err error
	if family == jobs.FamilyDeepDive {
		err = r.RunDeepDive(ctx, today, session)
	} else {
		err = r.Run(ctx, family, today)
		if err == nil {
			r.maybeAdvanceCursor(family, today)
		}
	}
	if err != nil && !errors.Is(err, jobs.ErrRunInFlight) {
		r.log.Error().Err(err).
			Str("family", string(family)).
			Str("date", calendar.FormatDate(today)).
			Msg("Scheduled invocation failed")
	}
}

// runRecorded wraps one execution in the job run lifecycle: dedup against
// in-flight attempts, pending -> running -> terminal, and completion events.
func (r *Runner) runRecorded(ctx context.Context, family jobs.Family, date time.Time, session jobs.Session, fn func(context.Context) error) error {
	active, err := r.runs.HasActiveRun(family, date, r.cfg.StaleRunningAfter)
	if err != nil {
		return err
	}
	if active {
		r.log.Warn().
			Str("family", string(family)).
			Str("date", calendar.FormatDate(date)).
			Msg("Run already in flight, skipping duplicate invocation")
		return fmt.Errorf("%w: %s %s", jobs.ErrRunInFlight, family, calendar.FormatDate(date))
	}

	run, err := r.runs.Create(family, date, session)
	if err != nil {
		return err
	}
	if err := r.runs.MarkRunning(run.ID); err != nil {
		return err
	}

	r.log.Info().
		Str("run_id", run.ID).
		Str("family", string(family)).
		Str("date", calendar.FormatDate(date)).
		Str("session", string(session)).
		Msg("Job run started")

	if err := fn(ctx); err != nil {
		if markErr := r.runs.MarkFailed(run.ID, err.Error()); markErr != nil {
			r.log.Error().Err(markErr).Str("run_id", run.ID).Msg("Failed to record run failure")
		}
		r.events.Emit(ctx, notify.Event{
			Kind:    notify.KindJobFailed,
			Date:    date,
			Family:  family,
			Session: session,
			Detail:  map[string]string{"error": err.Error()},
		})
		return fmt.Errorf("%s run for %s failed: %w", family, calendar.FormatDate(date), err)
	}

	if err := r.runs.MarkSucceeded(run.ID); err != nil {
		return err
	}
	r.events.Emit(ctx, notify.Event{
		Kind:    notify.KindJobCompleted,
		Date:    date,
		Family:  family,
		Session: session,
	})
	r.log.Info().Str("run_id", run.ID).Str("family", string(family)).Msg("Job run succeeded")
	return nil
}

func (r *Runner) executePrimary(ctx context.Context, family jobs.Family, date time.Time) error {
	if !r.cal.IsBusinessDay(date) {
		if !(family == jobs.FamilyMorning && r.cfg.MorningOnHoliday) {
			r.skipHoliday(ctx, family, "", date)
			return nil
		}
	}

	switch family {
	case jobs.FamilyMorning:
		// The morning screen works on data from the last completed session.
		return r.morning.Run(ctx, r.cal.PreviousBusinessDay(date))
	case jobs.FamilyClose:
		r.waitForCloseData(ctx, date)
		return r.close.Run(ctx, date)
	}
	return fmt.Errorf("no engine for family %s", family)
}

func (r *Runner) executeDeepDive(ctx context.Context, date time.Time, session jobs.Session) error {
	target := date
	if !r.cal.IsBusinessDay(date) {
		if !r.cfg.DeepDiveOnHoliday {
			r.skipHoliday(ctx, jobs.FamilyDeepDive, session, date)
			return nil
		}
		if r.cfg.DeepDiveUsePreviousBusinessDay {
			target = r.cal.PreviousBusinessDay(date)
		}
	}

	result, err := r.allocator.RunSession(ctx, target, session)
	if err != nil {
		return err
	}
	r.log.Info().
		Str("date", calendar.FormatDate(target)).
		Str("session", string(session)).
		Int("executed", result.Executed).
		Int("failed", result.Failed).
		Msg("Deep-dive session run finished")
	return nil
}

// waitForCloseData polls until close data is visible for the date or the
// waiting budget runs out. On timeout the run proceeds best-effort; the
// screen will work with whatever is there.
func (r *Runner) waitForCloseData(ctx context.Context, date time.Time) {
	if !r.cfg.PollCloseData || r.market == nil {
		return
	}

	deadline := time.Now().Add(r.cfg.PollMaxWait)
	for {
		ready, err := r.market.HasDataFor(ctx, date)
		if err != nil {
			r.log.Warn().Err(err).
				Str("date", calendar.FormatDate(date)).
				Msg("Close data check failed, will retry")
		}
		if ready {
			return
		}
		if time.Now().After(deadline) {
			r.log.Warn().
				Str("date", calendar.FormatDate(date)).
				Dur("waited", r.cfg.PollMaxWait).
				Msg("Close data still not visible, proceeding best-effort")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// maybeAdvanceCursor advances the family cursor after a scheduled success,
// but only when date is the next business day after the cursor (or the first
// success ever). A non-contiguous success leaves the cursor alone so the
// catch-up coordinator still sees the gap.
func (r *Runner) maybeAdvanceCursor(family jobs.Family, date time.Time) {
	if !r.cal.IsBusinessDay(date) {
		return
	}

	current, exists, err := r.cursors.Get(family)
	if err != nil {
		r.log.Error().Err(err).Str("family", string(family)).Msg("Failed to read cursor")
		return
	}
	if exists {
		if !date.After(current) {
			return
		}
		between := r.cal.BusinessDaysInRange(calendar.NextDay(current), date)
		if len(between) != 1 {
			r.log.Info().
				Str("family", string(family)).
				Str("cursor", calendar.FormatDate(current)).
				Str("date", calendar.FormatDate(date)).
				Msg("Gap behind scheduled success, leaving cursor to catch-up")
			return
		}
	}

	if err := r.cursors.Advance(family, date); err != nil {
		r.log.Error().Err(err).Str("family", string(family)).Msg("Failed to advance cursor")
	}
}

func (r *Runner) skipHoliday(ctx context.Context, family jobs.Family, session jobs.Session, date time.Time) {
	r.log.Info().
		Str("family", string(family)).
		Str("date", calendar.FormatDate(date)).
		Msg("Non-business day, skipping run")
	r.events.Emit(ctx, notify.Event{
		Kind:    notify.KindHolidaySkip,
		Date:    date,
		Family:  family,
		Session: session,
	})
}

func sessionFor(family jobs.Family) jobs.Session {
	if family == jobs.FamilyClose {
		return jobs.SessionClose
	}
	return jobs.SessionMorning
}
