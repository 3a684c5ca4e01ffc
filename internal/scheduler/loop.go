package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/jobs"
)

// DispatchFunc invokes a job family for the current operational date.
type DispatchFunc func(family jobs.Family, session jobs.Session)

// Loop evaluates the trigger table on a cron clock and emits job invocations.
// Firings for different families are independent; firings for the same family
// are serialized, and a firing that finds its family still busy is skipped (a
// missed window is recovered by the catch-up coordinator, never re-fired
// here).
type Loop struct {
	cron     *cron.Cron
	table    *TriggerTable
	gate     *Gate
	dispatch DispatchFunc
	busy     map[jobs.Family]*sync.Mutex
	log      zerolog.Logger
	started  bool
	mu       sync.Mutex
}

// NewLoop creates a scheduler loop over the trigger table.
func NewLoop(table *TriggerTable, gate *Gate, dispatch DispatchFunc, loc *time.Location, log zerolog.Logger) (*Loop, error) {
	l := &Loop{
		cron:     cron.New(cron.WithLocation(loc)),
		table:    table,
		gate:     gate,
		dispatch: dispatch,
		busy:     make(map[jobs.Family]*sync.Mutex),
		log:      log.With().Str("component", "scheduler_loop").Logger(),
	}

	for _, tr := range table.All() {
		tr := tr
		if l.busy[tr.Family] == nil {
			l.busy[tr.Family] = &sync.Mutex{}
		}
		if _, err := l.cron.AddFunc(tr.Spec, func() { l.fire(tr) }); err != nil {
			return nil, err
		}
		l.log.Info().
			Str("schedule", tr.Spec).
			Str("family", string(tr.Family)).
			Str("session", string(tr.Session)).
			Msg("Trigger registered")
	}

	return l, nil
}

// AddTick registers an auxiliary periodic function (e.g. the catch-up tick).
// The spec accepts the same syntax as triggers plus @every descriptors.
func (l *Loop) AddTick(spec, name string, fn func()) error {
	_, err := l.cron.AddFunc(spec, func() {
		l.log.Debug().Str("tick", name).Msg("Tick fired")
		fn()
	})
	if err != nil {
		return err
	}
	l.log.Info().Str("schedule", spec).Str("tick", name).Msg("Tick registered")
	return nil
}

// Start starts the cron clock.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		l.log.Warn().Msg("Scheduler loop already started, ignoring")
		return
	}
	l.started = true
	l.cron.Start()
	l.log.Info().Msg("Scheduler loop started")
}

// Stop stops the cron clock and waits for in-flight invocations.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.mu.Unlock()

	ctx := l.cron.Stop()
	<-ctx.Done()
	l.log.Info().Msg("Scheduler loop stopped")
}

// fire handles one trigger activation.
func (l *Loop) fire(tr Trigger) {
	now := time.Now()

	if tr.Family == jobs.FamilyDeepDive && l.gate != nil && !l.gate.Allowed(tr.Family, now) {
		l.log.Info().
			Str("family", string(tr.Family)).
			Str("session", string(tr.Session)).
			Msg("Background trigger suppressed by pause gate")
		return
	}

	mu := l.busy[tr.Family]
	if !mu.TryLock() {
		l.log.Warn().
			Str("family", string(tr.Family)).
			Msg("Previous invocation still running, skipping firing")
		return
	}
	defer mu.Unlock()

	l.log.Info().
		Str("family", string(tr.Family)).
		Str("session", string(tr.Session)).
		Msg("Trigger fired")
	l.dispatch(tr.Family, tr.Session)
}
