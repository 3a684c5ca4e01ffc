// Package scheduler owns the trigger table, the cron loop that fires typed
// job invocations, and the pause gate that suppresses background work around
// primary execution windows.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aristath/screener/internal/jobs"
)

// Trigger is one row of the trigger table: a cron expression bound to a job
// family and session. The table is data consulted by the loop and the pause
// gate, not scheduling code.
type Trigger struct {
	Spec     string
	Family   jobs.Family
	Session  jobs.Session
	Schedule cron.Schedule
}

// TriggerTable holds the parsed triggers for all job families.
type TriggerTable struct {
	triggers []Trigger
}

// NewTriggerTable parses standard 5-field cron expressions into a trigger
// table. Expressions are evaluated in the given location.
func NewTriggerTable(entries []TriggerSpec, loc *time.Location) (*TriggerTable, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	table := &TriggerTable{}
	for _, e := range entries {
		if !e.Family.Valid() {
			return nil, fmt.Errorf("unknown job family %q in trigger table", e.Family)
		}
		sched, err := parser.Parse(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q for %s: %w", e.Spec, e.Family, err)
		}
		if spec, ok := sched.(*cron.SpecSchedule); ok {
			spec.Location = loc
		}
		table.triggers = append(table.triggers, Trigger{
			Spec:     e.Spec,
			Family:   e.Family,
			Session:  e.Session,
			Schedule: sched,
		})
	}
	return table, nil
}

// TriggerSpec is the unparsed form of a trigger table row.
type TriggerSpec struct {
	Spec    string
	Family  jobs.Family
	Session jobs.Session
}

// All returns every trigger in the table.
func (t *TriggerTable) All() []Trigger {
	return t.triggers
}

// Primaries returns the triggers of the primary job families.
func (t *TriggerTable) Primaries() []Trigger {
	var out []Trigger
	for _, tr := range t.triggers {
		if tr.Family.IsPrimary() {
			out = append(out, tr)
		}
	}
	return out
}

// LastFireBefore returns the family's most recent scheduled fire time at or
// before now, looking back one day. The second return value is false when the
// family had no firing in that span.
func (t *TriggerTable) LastFireBefore(family jobs.Family, now time.Time) (time.Time, bool) {
	var last time.Time
	for _, tr := range t.triggers {
		if tr.Family != family {
			continue
		}
		cursor := now.AddDate(0, 0, -1)
		for {
			next := tr.Schedule.Next(cursor)
			if next.IsZero() || next.After(now) {
				break
			}
			if next.After(last) {
				last = next
			}
			cursor = next
		}
	}
	return last, !last.IsZero()
}

// NextFire returns the earliest upcoming fire time across the given triggers,
// strictly after now. Returns the zero time for an empty slice.
func NextFire(triggers []Trigger, now time.Time) time.Time {
	var next time.Time
	for _, tr := range triggers {
		fire := tr.Schedule.Next(now)
		if next.IsZero() || fire.Before(next) {
			next = fire
		}
	}
	return next
}
