package deepdive

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/screener/internal/jobs"
	"github.com/aristath/screener/internal/testutil"
)

func testDate(t *testing.T) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", "2026-08-04")
	require.NoError(t, err)
	return d
}

func TestBudgetAdmitUpToSessionCap(t *testing.T) {
	repo := NewBudgetRepository(testutil.NewDB(t), testutil.Logger())
	date := testDate(t)

	require.NoError(t, repo.Ensure(date, jobs.SessionMorning, 4))

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.TryAdmit(date, jobs.SessionMorning, 10))
	}
	err := repo.TryAdmit(date, jobs.SessionMorning, 10)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	used, err := repo.Used(date, jobs.SessionMorning)
	require.NoError(t, err)
	assert.Equal(t, 4, used)
}

func TestBudgetDailyCapSpansSessions(t *testing.T) {
	repo := NewBudgetRepository(testutil.NewDB(t), testutil.Logger())
	date := testDate(t)

	require.NoError(t, repo.Ensure(date, jobs.SessionMorning, 4))
	require.NoError(t, repo.Ensure(date, jobs.SessionClose, 6))

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.TryAdmit(date, jobs.SessionMorning, 8))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.TryAdmit(date, jobs.SessionClose, 8))
	}

	// Close has session room left but the daily cap of 8 is spent.
	err := repo.TryAdmit(date, jobs.SessionClose, 8)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	total, err := repo.UsedTotal(date)
	require.NoError(t, err)
	assert.Equal(t, 8, total)
}

func TestBudgetRefund(t *testing.T) {
	repo := NewBudgetRepository(testutil.NewDB(t), testutil.Logger())
	date := testDate(t)

	require.NoError(t, repo.Ensure(date, jobs.SessionClose, 2))
	require.NoError(t, repo.TryAdmit(date, jobs.SessionClose, 10))
	require.NoError(t, repo.Refund(date, jobs.SessionClose))

	used, err := repo.Used(date, jobs.SessionClose)
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	// Refund never goes below zero.
	require.NoError(t, repo.Refund(date, jobs.SessionClose))
	used, err = repo.Used(date, jobs.SessionClose)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestBudgetConcurrentAdmissionsNeverOverspend(t *testing.T) {
	repo := NewBudgetRepository(testutil.NewDB(t), testutil.Logger())
	date := testDate(t)

	require.NoError(t, repo.Ensure(date, jobs.SessionClose, 6))

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.TryAdmit(date, jobs.SessionClose, 10); err == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(6), admitted)

	used, err := repo.Used(date, jobs.SessionClose)
	require.NoError(t, err)
	assert.Equal(t, 6, used)
}

func TestBudgetMissingRowReadsAsZero(t *testing.T) {
	repo := NewBudgetRepository(testutil.NewDB(t), testutil.Logger())

	used, err := repo.Used(testDate(t), jobs.SessionMorning)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}
