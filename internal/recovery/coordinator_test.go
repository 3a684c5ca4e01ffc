package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/jobs"
	"github.com/aristath/screener/internal/notify"
	"github.com/aristath/screener/internal/testutil"
)

type call struct {
	family jobs.Family
	date   string
}

type fakeEntry struct {
	mu     sync.Mutex
	calls  []call
	failOn map[string]error // "family/date"
}

func (e *fakeEntry) Run(ctx context.Context, family jobs.Family, date time.Time) error {
	key := fmt.Sprintf("%s/%s", family, calendar.FormatDate(date))

	e.mu.Lock()
	e.calls = append(e.calls, call{family: family, date: calendar.FormatDate(date)})
	e.mu.Unlock()

	return e.failOn[key]
}

func (e *fakeEntry) callsFor(family jobs.Family) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, c := range e.calls {
		if c.family == family {
			out = append(out, c.date)
		}
	}
	return out
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type blockedGate struct{}

func (blockedGate) Allowed(jobs.Family, time.Time) bool { return false }

type fixedSchedule struct {
	fire time.Time
	ok   bool
}

func (f fixedSchedule) LastFireBefore(jobs.Family, time.Time) (time.Time, bool) {
	return f.fire, f.ok
}

type coordinatorFixture struct {
	coordinator *Coordinator
	cursors     *jobs.CursorRepository
	runs        *jobs.RunRepository
	entry       *fakeEntry
	emitter     *recordingEmitter
}

func newCoordinatorFixture(t *testing.T, cfg Config) *coordinatorFixture {
	t.Helper()

	conn := testutil.NewDB(t)
	log := testutil.Logger()
	cursors := jobs.NewCursorRepository(conn, log)
	runs := jobs.NewRunRepository(conn, log)
	entry := &fakeEntry{failOn: map[string]error{}}
	emitter := &recordingEmitter{}
	cal := calendar.NewMarket(nil, zerolog.Nop())

	return &coordinatorFixture{
		coordinator: NewCoordinator(cfg, cal, cursors, runs, entry, emitter, log),
		cursors:     cursors,
		runs:        runs,
		entry:       entry,
		emitter:     emitter,
	}
}

// Monday noon; the five business days before it are Aug 10-14.
func monday(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-08-17T12:00:00Z")
	require.NoError(t, err)
	return ts
}

func mustAdvance(t *testing.T, f *coordinatorFixture, family jobs.Family, date string) {
	t.Helper()
	d, err := calendar.ParseDate(date)
	require.NoError(t, err)
	require.NoError(t, f.cursors.Advance(family, d))
}

func TestCatchUpDrainsOldestFirstInBatches(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 5, MaxDaysPerRun: 2})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-10")
	mustAdvance(t, f, jobs.FamilyClose, "2026-08-14")

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Equal(t, []string{"2026-08-11", "2026-08-12"}, f.entry.callsFor(jobs.FamilyMorning),
		"the first pass replays the two oldest missing days")
	assert.Empty(t, f.entry.callsFor(jobs.FamilyClose),
		"later families wait while an earlier one is behind")
	assert.False(t, f.coordinator.CaughtUp())

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Equal(t, []string{"2026-08-11", "2026-08-12", "2026-08-13", "2026-08-14"},
		f.entry.callsFor(jobs.FamilyMorning))
	assert.True(t, f.coordinator.CaughtUp())

	cursor, _, err := f.cursors.Get(jobs.FamilyMorning)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-14", calendar.FormatDate(cursor))
}

func TestCatchUpFamiliesAreOrdered(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 5, MaxDaysPerRun: 10})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-13")
	mustAdvance(t, f, jobs.FamilyClose, "2026-08-13")
	f.entry.failOn["morning/2026-08-14"] = fmt.Errorf("simulated failure")

	err := f.coordinator.Activate(context.Background(), monday(t))
	assert.ErrorIs(t, err, ErrCatchUpBlocked)

	assert.Empty(t, f.entry.callsFor(jobs.FamilyClose),
		"a blocked morning family must keep the close family untouched")
	assert.False(t, f.coordinator.CaughtUp())

	// The cursor stays on the last completed day so the same date retries.
	cursor, _, err := f.cursors.Get(jobs.FamilyMorning)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-13", calendar.FormatDate(cursor))

	f.emitter.mu.Lock()
	defer f.emitter.mu.Unlock()
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, notify.KindCatchUpBlocked, f.emitter.events[0].Kind)
}

func TestCatchUpFastForwardsOverSucceededRuns(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 5, MaxDaysPerRun: 10})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-13")
	mustAdvance(t, f, jobs.FamilyClose, "2026-08-14")

	// Aug 14 already succeeded (e.g. a scheduled run before a crash); only the
	// cursor is behind.
	d, err := calendar.ParseDate("2026-08-14")
	require.NoError(t, err)
	run, err := f.runs.Create(jobs.FamilyMorning, d, jobs.SessionMorning)
	require.NoError(t, err)
	require.NoError(t, f.runs.MarkRunning(run.ID))
	require.NoError(t, f.runs.MarkSucceeded(run.ID))

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Empty(t, f.entry.calls, "nothing is re-executed")
	assert.True(t, f.coordinator.CaughtUp())

	cursor, _, err := f.cursors.Get(jobs.FamilyMorning)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-14", calendar.FormatDate(cursor))
}

func TestCatchUpYieldsToThePauseGate(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 5, MaxDaysPerRun: 10})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-13")
	f.coordinator.SetGate(blockedGate{})

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Empty(t, f.entry.calls)
	assert.False(t, f.coordinator.CaughtUp())
}

func TestCatchUpDisabled(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: false})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-10")

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Empty(t, f.entry.calls)
	assert.True(t, f.coordinator.CaughtUp(), "disabled recovery never gates background work")
}

func TestCatchUpFreshInstallReplaysLookbackWindow(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 3, MaxDaysPerRun: 10})

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Equal(t, []string{"2026-08-12", "2026-08-13", "2026-08-14"},
		f.entry.callsFor(jobs.FamilyMorning),
		"no cursor means the whole lookback window is missing")
	assert.True(t, f.coordinator.CaughtUp())
}

func TestCatchUpYieldsToAnInFlightRun(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 5, MaxDaysPerRun: 10})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-13")
	f.entry.failOn["morning/2026-08-14"] = fmt.Errorf("wrapped: %w", jobs.ErrRunInFlight)

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)),
		"an in-flight duplicate is a yield, not a blocked family")

	assert.False(t, f.coordinator.CaughtUp())

	cursor, _, err := f.cursors.Get(jobs.FamilyMorning)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-13", calendar.FormatDate(cursor),
		"the cursor waits for the other attempt to finish")

	f.emitter.mu.Lock()
	defer f.emitter.mu.Unlock()
	assert.Empty(t, f.emitter.events)
}

func TestCatchUpIncludesTodayAfterItsFireTime(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 5, MaxDaysPerRun: 10})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-14")
	mustAdvance(t, f, jobs.FamilyClose, "2026-08-14")

	// Monday's triggers fired at 08:00 and the process was down for them.
	f.coordinator.SetSchedule(fixedSchedule{fire: monday(t).Add(-4 * time.Hour), ok: true})

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Equal(t, []string{"2026-08-17"}, f.entry.callsFor(jobs.FamilyMorning))
	assert.Equal(t, []string{"2026-08-17"}, f.entry.callsFor(jobs.FamilyClose))
	assert.True(t, f.coordinator.CaughtUp())
}

func TestCatchUpLeavesTodayBeforeItsFireTime(t *testing.T) {
	f := newCoordinatorFixture(t, Config{Enabled: true, LookbackBusinessDays: 5, MaxDaysPerRun: 10})
	mustAdvance(t, f, jobs.FamilyMorning, "2026-08-14")
	mustAdvance(t, f, jobs.FamilyClose, "2026-08-14")

	// The most recent firing was Friday; Monday's has not happened yet.
	friday, err := calendar.ParseDate("2026-08-14")
	require.NoError(t, err)
	f.coordinator.SetSchedule(fixedSchedule{fire: friday.Add(8 * time.Hour), ok: true})

	require.NoError(t, f.coordinator.Activate(context.Background(), monday(t)))

	assert.Empty(t, f.entry.calls, "today belongs to the live scheduler until its trigger passes")
	assert.True(t, f.coordinator.CaughtUp())
}
