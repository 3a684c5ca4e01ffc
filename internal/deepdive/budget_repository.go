package deepdive

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/jobs"
)

// BudgetRepository persists the per-day, per-session deep-dive counters.
// used_count only ever increments (admission) or decrements (refund of an
// admission that turned out to be a duplicate) and never exceeds the session
// cap; the sum across sessions never exceeds the daily cap.
type BudgetRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBudgetRepository creates a budget repository.
func NewBudgetRepository(db *sql.DB, log zerolog.Logger) *BudgetRepository {
	return &BudgetRepository{
		db:  db,
		log: log.With().Str("component", "budget_repository").Logger(),
	}
}

// Ensure creates the budget row for (date, session) with the given cap if it
// does not exist yet.
func (r *BudgetRepository) Ensure(date time.Time, session jobs.Session, cap int) error {
	_, err := r.db.Exec(
		`INSERT INTO daily_budgets (budget_date, session, used_count, cap)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT (budget_date, session) DO NOTHING`,
		calendar.FormatDate(date), string(session), cap,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure budget row: %w", err)
	}
	return nil
}

// TryAdmit atomically increments used_count for (date, session) if both the
// session cap and the family daily cap still have room. The guard lives in
// the UPDATE's WHERE clause, so two racing admissions can never both pass a
// read-then-write check; the loser sees zero affected rows and gets
// ErrBudgetExceeded.
func (r *BudgetRepository) TryAdmit(date time.Time, session jobs.Session, dailyCap int) error {
	day := calendar.FormatDate(date)
	res, err := r.db.Exec(
		`UPDATE daily_budgets
		 SET used_count = used_count + 1
		 WHERE budget_date = ? AND session = ?
		   AND used_count < cap
		   AND (SELECT COALESCE(SUM(used_count), 0) FROM daily_budgets WHERE budget_date = ?) < ?`,
		day, string(session), day, dailyCap,
	)
	if err != nil {
		return fmt.Errorf("failed to admit against budget: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read admission result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: date=%s session=%s", ErrBudgetExceeded, day, session)
	}
	return nil
}

// Refund releases one previously admitted slot. Used when an admission hit an
// already-existing task key and therefore consumed no new work.
func (r *BudgetRepository) Refund(date time.Time, session jobs.Session) error {
	_, err := r.db.Exec(
		`UPDATE daily_budgets
		 SET used_count = used_count - 1
		 WHERE budget_date = ? AND session = ? AND used_count > 0`,
		calendar.FormatDate(date), string(session),
	)
	if err != nil {
		return fmt.Errorf("failed to refund budget slot: %w", err)
	}
	return nil
}

// Used returns the consumed count for (date, session). Missing rows count as
// zero.
func (r *BudgetRepository) Used(date time.Time, session jobs.Session) (int, error) {
	var used int
	err := r.db.QueryRow(
		"SELECT used_count FROM daily_budgets WHERE budget_date = ? AND session = ?",
		calendar.FormatDate(date), string(session),
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read budget usage: %w", err)
	}
	return used, nil
}

// UsedTotal returns the consumed count across all sessions for a date.
func (r *BudgetRepository) UsedTotal(date time.Time) (int, error) {
	var used int
	err := r.db.QueryRow(
		"SELECT COALESCE(SUM(used_count), 0) FROM daily_budgets WHERE budget_date = ?",
		calendar.FormatDate(date),
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to read total budget usage: %w", err)
	}
	return used, nil
}
