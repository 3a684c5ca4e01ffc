package scheduler

import (
	"time"

	"github.com/aristath/screener/internal/jobs"
)

// CatchUpStatus reports whether the primary families are fully caught up.
// Implemented by the recovery coordinator.
type CatchUpStatus interface {
	CaughtUp() bool
}

// Gate decides whether lower-priority work may run at a given instant.
// It is a pure function of the trigger table and current catch-up state and
// is re-evaluated on every tick; nothing is cached.
type Gate struct {
	triggers    *TriggerTable
	lead        time.Duration // suppression starts this long before a primary fire
	expectedRun time.Duration // suppression lasts this long after a primary fire
	catchUp     CatchUpStatus // may be nil when no coordinator is wired
}

// NewGate creates a pause gate over the trigger table.
func NewGate(triggers *TriggerTable, lead, expectedRun time.Duration, catchUp CatchUpStatus) *Gate {
	return &Gate{
		triggers:    triggers,
		lead:        lead,
		expectedRun: expectedRun,
		catchUp:     catchUp,
	}
}

// Allowed reports whether the family may run at now.
//
// The deep-dive family is gated off entirely while any primary family is
// behind. Any queried family is suppressed inside a primary pause window
// [fire - lead, fire + expectedRun): a scheduled primary invocation does not
// pass through the gate, so this only ever defers lower-priority work.
func (g *Gate) Allowed(family jobs.Family, now time.Time) bool {
	if family == jobs.FamilyDeepDive && g.catchUp != nil && !g.catchUp.CaughtUp() {
		return false
	}

	for _, tr := range g.triggers.Primaries() {
		// The next fire strictly after (now - expectedRun) is the only one
		// whose window can still contain now.
		fire := tr.Schedule.Next(now.Add(-g.expectedRun))
		if !fire.After(now.Add(g.lead)) {
			return false
		}
	}
	return true
}
