// Package recovery replays missed execution windows. The coordinator brings
// the primary families back in sync after downtime; the range runner replays
// arbitrary historical spans on demand without touching live recovery state.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/jobs"
	"github.com/aristath/screener/internal/notify"
)

// Entry invokes one job family for one operational date. Implemented by the
// orchestrator; the coordinator only decides which (family, date) pairs to
// replay and in what order.
type Entry interface {
	Run(ctx context.Context, family jobs.Family, date time.Time) error
}

// PauseGate is consulted before each replayed day so catch-up yields to an
// imminent scheduled primary run instead of racing it.
type PauseGate interface {
	Allowed(family jobs.Family, now time.Time) bool
}

// FireSchedule answers when a family last fired. It decides whether today
// already counts as a missed window; without one, today is left to the live
// scheduler and catch-up stops at the previous business day.
type FireSchedule interface {
	LastFireBefore(family jobs.Family, now time.Time) (time.Time, bool)
}

// Config controls the catch-up coordinator.
type Config struct {
	Enabled              bool
	LookbackBusinessDays int
	MaxDaysPerRun        int
}

// Coordinator reconciles the recovery cursors of the primary families with
// the business-day calendar. Families are replayed strictly in
// jobs.CatchUpOrder: while the morning family has missing dates, the close
// family is not touched at all.
type Coordinator struct {
	cfg      Config
	cal      calendar.Calendar
	cursors  *jobs.CursorRepository
	runs     *jobs.RunRepository
	entry    Entry
	gate     PauseGate
	schedule FireSchedule
	events   notify.Emitter
	caughtUp atomic.Bool
	log      zerolog.Logger
}

// NewCoordinator creates a catch-up coordinator. The pause gate is wired
// after construction via SetGate because the gate itself needs the
// coordinator's catch-up status.
func NewCoordinator(
	cfg Config,
	cal calendar.Calendar,
	cursors *jobs.CursorRepository,
	runs *jobs.RunRepository,
	entry Entry,
	events notify.Emitter,
	log zerolog.Logger,
) *Coordinator {
	if events == nil {
		events = notify.Nop{}
	}
	return &Coordinator{
		cfg:     cfg,
		cal:     cal,
		cursors: cursors,
		runs:    runs,
		entry:   entry,
		events:  events,
		log:     log.With().Str("component", "catchup_coordinator").Logger(),
	}
}

// SetGate wires the pause gate. Must be called before Activate when a
// scheduler is running alongside.
func (c *Coordinator) SetGate(gate PauseGate) {
	c.gate = gate
}

// SetSchedule wires the trigger table so today's already-passed windows are
// replayed too.
func (c *Coordinator) SetSchedule(schedule FireSchedule) {
	c.schedule = schedule
}

// CaughtUp reports whether the last activation left every primary family
// with no missing dates. It starts false: background work stays gated until
// the first activation proves the cursors are current.
func (c *Coordinator) CaughtUp() bool {
	return c.caughtUp.Load()
}

// Activate performs one catch-up pass as of now. Each pass replays at most
// MaxDaysPerRun dates per family, oldest first, so a long outage is drained
// across successive ticks instead of one unbounded burst. A failed date stops
// the pass; the same date is retried on the next activation.
func (c *Coordinator) Activate(ctx context.Context, now time.Time) error {
	if !c.cfg.Enabled {
		c.caughtUp.Store(true)
		return nil
	}

	for _, family := range jobs.CatchUpOrder {
		complete, err := c.catchUpFamily(ctx, family, now)
		if err != nil {
			c.caughtUp.Store(false)
			return err
		}
		if !complete {
			// Strict ordering: a later family must not run for dates the
			// earlier family has not completed.
			c.caughtUp.Store(false)
			return nil
		}
	}

	c.caughtUp.Store(true)
	return nil
}

// catchUpFamily replays the family's missing dates and reports whether the
// family is fully caught up afterwards.
func (c *Coordinator) catchUpFamily(ctx context.Context, family jobs.Family, now time.Time) (bool, error) {
	missing, err := c.missingDates(family, now)
	if err != nil {
		return false, err
	}
	if len(missing) == 0 {
		return true, nil
	}

	batch := missing
	if c.cfg.MaxDaysPerRun > 0 && len(batch) > c.cfg.MaxDaysPerRun {
		batch = batch[:c.cfg.MaxDaysPerRun]
	}

	c.log.Info().
		Str("family", string(family)).
		Int("missing", len(missing)).
		Int("batch", len(batch)).
		Str("oldest", calendar.FormatDate(batch[0])).
		Msg("Catching up family")

	for _, date := range batch {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if c.gate != nil && !c.gate.Allowed(family, time.Now()) {
			c.log.Info().
				Str("family", string(family)).
				Str("date", calendar.FormatDate(date)).
				Msg("Yielding catch-up to imminent scheduled run")
			return false, nil
		}

		done, err := c.runs.HasSucceeded(family, date)
		if err != nil {
			return false, err
		}
		if done {
			// A prior attempt (or a scheduled run) already covered this date;
			// only the cursor is behind.
			if err := c.cursors.Advance(family, date); err != nil {
				return false, err
			}
			continue
		}

		if err := c.entry.Run(ctx, family, date); err != nil {
			if errors.Is(err, jobs.ErrRunInFlight) {
				// Another attempt owns the date right now; the cursor must not
				// move until that attempt reaches a terminal state.
				c.log.Info().
					Str("family", string(family)).
					Str("date", calendar.FormatDate(date)).
					Msg("Yielding catch-up to an in-flight run")
				return false, nil
			}
			c.log.Error().Err(err).
				Str("family", string(family)).
				Str("date", calendar.FormatDate(date)).
				Msg("Catch-up run failed, halting pass")
			c.events.Emit(ctx, notify.Event{
				Kind:   notify.KindCatchUpBlocked,
				Date:   date,
				Family: family,
				Detail: map[string]string{"error": err.Error()},
			})
			return false, fmt.Errorf("%w: family=%s date=%s: %v",
				ErrCatchUpBlocked, family, calendar.FormatDate(date), err)
		}

		if err := c.cursors.Advance(family, date); err != nil {
			return false, err
		}
	}

	return len(batch) == len(missing), nil
}

// missingDates returns the family's uncompleted business days, oldest first.
// The window is the last LookbackBusinessDays business days ending at the
// previous business day, or at today itself once the family's trigger for
// today has already fired. Dates at or before the cursor are complete by
// definition.
func (c *Coordinator) missingDates(family jobs.Family, now time.Time) ([]time.Time, error) {
	today := calendar.DateOf(now)
	until := calendar.PrevDay(today)
	if c.todayAlreadyFired(family, now) {
		until = today
	}

	// A wide calendar span guarantees the window holds at least the requested
	// number of business days even across holiday clusters.
	from := today.AddDate(0, 0, -c.cfg.LookbackBusinessDays*4-7)
	days := c.cal.BusinessDaysInRange(from, until)
	if len(days) > c.cfg.LookbackBusinessDays {
		days = days[len(days)-c.cfg.LookbackBusinessDays:]
	}

	cursor, hasCursor, err := c.cursors.Get(family)
	if err != nil {
		return nil, err
	}

	var missing []time.Time
	for _, day := range days {
		if hasCursor && !day.After(cursor) {
			continue
		}
		missing = append(missing, day)
	}
	return missing, nil
}

// todayAlreadyFired reports whether the family's scheduled trigger for today
// has passed. Without a wired schedule today stays with the live scheduler.
func (c *Coordinator) todayAlreadyFired(family jobs.Family, now time.Time) bool {
	if c.schedule == nil {
		return false
	}
	fire, ok := c.schedule.LastFireBefore(family, now)
	return ok && calendar.SameDate(fire, now)
}
