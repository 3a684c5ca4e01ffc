package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/screener/internal/testutil"
)

func TestRunLifecycle(t *testing.T) {
	repo := NewRunRepository(testutil.NewDB(t), testutil.Logger())
	date := day(t, "2026-08-04")

	run, err := repo.Create(FamilyMorning, date, SessionMorning)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusPending, run.Status)

	require.NoError(t, repo.MarkRunning(run.ID))
	require.NoError(t, repo.MarkSucceeded(run.ID))

	ok, err := repo.HasSucceeded(FamilyMorning, date)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunInvalidTransition(t *testing.T) {
	repo := NewRunRepository(testutil.NewDB(t), testutil.Logger())

	run, err := repo.Create(FamilyClose, day(t, "2026-08-04"), SessionClose)
	require.NoError(t, err)

	// pending -> succeeded skips running
	err = repo.MarkSucceeded(run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, repo.MarkRunning(run.ID))
	require.NoError(t, repo.MarkFailed(run.ID, "backend down"))

	// failed is terminal for the attempt
	err = repo.MarkRunning(run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEachAttemptGetsItsOwnRun(t *testing.T) {
	repo := NewRunRepository(testutil.NewDB(t), testutil.Logger())
	date := day(t, "2026-08-04")

	first, err := repo.Create(FamilyClose, date, SessionClose)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunning(first.ID))
	require.NoError(t, repo.MarkFailed(first.ID, "transient"))

	second, err := repo.Create(FamilyClose, date, SessionClose)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	require.NoError(t, repo.MarkRunning(second.ID))
	require.NoError(t, repo.MarkSucceeded(second.ID))

	ok, err := repo.HasSucceeded(FamilyClose, date)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasActiveRunHonoursStaleness(t *testing.T) {
	repo := NewRunRepository(testutil.NewDB(t), testutil.Logger())
	date := day(t, "2026-08-04")

	run, err := repo.Create(FamilyMorning, date, SessionMorning)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunning(run.ID))

	active, err := repo.HasActiveRun(FamilyMorning, date, time.Hour)
	require.NoError(t, err)
	assert.True(t, active, "a fresh running row blocks new attempts")

	// With a zero threshold every running row counts as abandoned.
	active, err = repo.HasActiveRun(FamilyMorning, date, 0)
	require.NoError(t, err)
	assert.False(t, active, "stale running rows must not block retries")
}

func TestHasActiveRunIgnoresTerminalRows(t *testing.T) {
	repo := NewRunRepository(testutil.NewDB(t), testutil.Logger())
	date := day(t, "2026-08-04")

	run, err := repo.Create(FamilyMorning, date, SessionMorning)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunning(run.ID))
	require.NoError(t, repo.MarkSucceeded(run.ID))

	active, err := repo.HasActiveRun(FamilyMorning, date, time.Hour)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestLatestSucceededDate(t *testing.T) {
	repo := NewRunRepository(testutil.NewDB(t), testutil.Logger())

	_, found, err := repo.LatestSucceededDate(FamilyMorning)
	require.NoError(t, err)
	assert.False(t, found)

	for _, d := range []string{"2026-08-03", "2026-08-05", "2026-08-04"} {
		run, err := repo.Create(FamilyMorning, day(t, d), SessionMorning)
		require.NoError(t, err)
		require.NoError(t, repo.MarkRunning(run.ID))
		require.NoError(t, repo.MarkSucceeded(run.ID))
	}

	latest, found, err := repo.LatestSucceededDate(FamilyMorning)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2026-08-05", latest.Format("2006-01-02"))
}
