package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/database"
)

// RunRepository persists job run attempts. Every attempt gets its own row and
// id, so a crash that leaves a row in "running" never blocks a later retry:
// stale running rows are simply ignored once they pass the staleness
// threshold.
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a run repository.
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("component", "run_repository").Logger(),
	}
}

// Create inserts a new pending run attempt and returns it.
func (r *RunRepository) Create(family Family, date time.Time, session Session) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Family:    family,
		Date:      calendar.DateOf(date),
		Session:   session,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.Exec(
		`INSERT INTO job_runs (id, family, run_date, session, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Family), calendar.FormatDate(run.Date), string(run.Session),
		string(run.Status), run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job run: %w", err)
	}
	return run, nil
}

// MarkRunning transitions a run from pending to running and stamps started_at.
func (r *RunRepository) MarkRunning(id string) error {
	return r.transition(id, StatusRunning, "")
}

// MarkSucceeded transitions a run from running to succeeded.
func (r *RunRepository) MarkSucceeded(id string) error {
	return r.transition(id, StatusSucceeded, "")
}

// MarkFailed transitions a run from running to failed. Failed is terminal for
// the attempt; retries create a new run.
func (r *RunRepository) MarkFailed(id string, reason string) error {
	return r.transition(id, StatusFailed, reason)
}

func (r *RunRepository) transition(id string, to RunStatus, errMsg string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRow("SELECT status FROM job_runs WHERE id = ?", id).Scan(&raw)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to read job run %s: %w", id, err)
		}

		from := RunStatus(raw)
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s (run %s)", ErrInvalidTransition, from, to, id)
		}

		now := time.Now().UTC().Format(time.RFC3339)
		switch to {
		case StatusRunning:
			_, err = tx.Exec(
				"UPDATE job_runs SET status = ?, started_at = ? WHERE id = ?",
				string(to), now, id,
			)
		case StatusSucceeded:
			_, err = tx.Exec(
				"UPDATE job_runs SET status = ?, finished_at = ? WHERE id = ?",
				string(to), now, id,
			)
		case StatusFailed:
			_, err = tx.Exec(
				"UPDATE job_runs SET status = ?, finished_at = ?, error = ? WHERE id = ?",
				string(to), now, errMsg, id,
			)
		default:
			return fmt.Errorf("%w: %s -> %s (run %s)", ErrInvalidTransition, from, to, id)
		}
		if err != nil {
			return fmt.Errorf("failed to update job run %s: %w", id, err)
		}
		return nil
	})
}

// HasSucceeded reports whether any attempt for (family, date) succeeded.
func (r *RunRepository) HasSucceeded(family Family, date time.Time) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM job_runs WHERE family = ? AND run_date = ? AND status = ?",
		string(family), calendar.FormatDate(date), string(StatusSucceeded),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check job run success: %w", err)
	}
	return count > 0, nil
}

// HasActiveRun reports whether a run for (family, date) is currently pending
// or running and is younger than staleAfter. Rows older than the threshold
// are treated as abandoned by a crashed process and do not block retries.
func (r *RunRepository) HasActiveRun(family Family, date time.Time, staleAfter time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-staleAfter).Format(time.RFC3339)
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM job_runs
		 WHERE family = ? AND run_date = ? AND status IN (?, ?) AND created_at > ?`,
		string(family), calendar.FormatDate(date),
		string(StatusPending), string(StatusRunning), cutoff,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active job run: %w", err)
	}
	return count > 0, nil
}

// LatestSucceededDate returns the most recent operational date with a
// succeeded run for the family. The second return value is false when no run
// has succeeded yet.
func (r *RunRepository) LatestSucceededDate(family Family) (time.Time, bool, error) {
	var raw string
	err := r.db.QueryRow(
		"SELECT MAX(run_date) FROM job_runs WHERE family = ? AND status = ?",
		string(family), string(StatusSucceeded),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		// MAX over zero rows scans NULL into a string, which also errors.
		return time.Time{}, false, nil
	}

	date, err := calendar.ParseDate(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt run date %q for %s: %w", raw, family, err)
	}
	return date, true, nil
}
