package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/database"
)

// CursorRepository persists the last completed operational date per family.
// Cursors advance monotonically forward and are never rewound automatically.
type CursorRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCursorRepository creates a cursor repository.
func NewCursorRepository(db *sql.DB, log zerolog.Logger) *CursorRepository {
	return &CursorRepository{
		db:  db,
		log: log.With().Str("component", "cursor_repository").Logger(),
	}
}

// Get returns the cursor date for a family. The second return value is false
// when the family has never completed a run.
func (r *CursorRepository) Get(family Family) (time.Time, bool, error) {
	var raw string
	err := r.db.QueryRow(
		"SELECT last_completed_date FROM recovery_cursors WHERE family = ?",
		string(family),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read cursor for %s: %w", family, err)
	}

	date, err := calendar.ParseDate(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cursor date %q for %s: %w", raw, family, err)
	}
	return date, true, nil
}

// Advance moves the cursor for a family forward to date. Advancing to the
// current cursor date is an idempotent no-op; advancing backwards returns
// ErrOutOfOrderUpdate and leaves the cursor untouched.
func (r *CursorRepository) Advance(family Family, date time.Time) error {
	date = calendar.DateOf(date)

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRow(
			"SELECT last_completed_date FROM recovery_cursors WHERE family = ?",
			string(family),
		).Scan(&raw)

		now := time.Now().UTC().Format(time.RFC3339)

		if err == sql.ErrNoRows {
			_, err = tx.Exec(
				"INSERT INTO recovery_cursors (family, last_completed_date, updated_at) VALUES (?, ?, ?)",
				string(family), calendar.FormatDate(date), now,
			)
			if err != nil {
				return fmt.Errorf("failed to create cursor for %s: %w", family, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read cursor for %s: %w", family, err)
		}

		current, err := calendar.ParseDate(raw)
		if err != nil {
			return fmt.Errorf("corrupt cursor date %q for %s: %w", raw, family, err)
		}

		if date.Equal(current) {
			// Same-day re-run with replace semantics; nothing to move.
			return nil
		}
		if date.Before(current) {
			r.log.Error().
				Str("family", string(family)).
				Str("cursor", raw).
				Str("attempted", calendar.FormatDate(date)).
				Msg("Rejected cursor rewind attempt")
			return fmt.Errorf("%w: family=%s cursor=%s attempted=%s",
				ErrOutOfOrderUpdate, family, raw, calendar.FormatDate(date))
		}

		_, err = tx.Exec(
			"UPDATE recovery_cursors SET last_completed_date = ?, updated_at = ? WHERE family = ?",
			calendar.FormatDate(date), now, string(family),
		)
		if err != nil {
			return fmt.Errorf("failed to advance cursor for %s: %w", family, err)
		}
		return nil
	})
}
