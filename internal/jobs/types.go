// Package jobs defines the scheduled job families of the screener and the
// persisted execution state that makes them resumable: per-attempt job runs
// and per-family recovery cursors.
package jobs

import (
	"time"
)

// Family identifies one of the scheduled workloads. The two primary families
// carry a recovery cursor; the deep-dive family is background work gated
// behind them.
type Family string

const (
	// FamilyMorning is the pre-open screening run (works on the previous
	// business day's close data).
	FamilyMorning Family = "morning"
	// FamilyClose is the post-close screening run.
	FamilyClose Family = "close"
	// FamilyDeepDive is the background enrichment family.
	FamilyDeepDive Family = "deepdive"
)

// CatchUpOrder is the order in which families are replayed after downtime.
// The close run depends on morning state for the same date, so morning is
// always caught up first.
var CatchUpOrder = []Family{FamilyMorning, FamilyClose}

// IsPrimary reports whether the family carries a recovery cursor.
func (f Family) IsPrimary() bool {
	return f == FamilyMorning || f == FamilyClose
}

// Valid reports whether the family is one of the known workloads.
func (f Family) Valid() bool {
	switch f {
	case FamilyMorning, FamilyClose, FamilyDeepDive:
		return true
	}
	return false
}

// Session is a named time-of-day slot used to partition the deep-dive budget.
type Session string

const (
	// SessionMorning is the earlier slot.
	SessionMorning Session = "morning"
	// SessionClose is the later slot.
	SessionClose Session = "close"
)

// Valid reports whether the session is a known slot.
func (s Session) Valid() bool {
	return s == SessionMorning || s == SessionClose
}

// RunStatus is the lifecycle state of one job run attempt.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// statusTransitions is the closed transition table for run attempts.
// Failed is terminal per attempt; a retry creates a new run.
var statusTransitions = map[RunStatus][]RunStatus{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {},
	StatusFailed:    {},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run is one invocation attempt of a job family for an operational date.
type Run struct {
	ID         string
	Family     Family
	Date       time.Time
	Session    Session
	Status     RunStatus
	StartedAt  *time.Time
	FinishedAt *time.Time
	Error      string
	CreatedAt  time.Time
}
