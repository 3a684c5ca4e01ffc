package screening

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/database"
	"github.com/aristath/screener/internal/deepdive"
	"github.com/aristath/screener/internal/jobs"
)

// CandidateRepository persists screen candidate snapshots per date. A re-run
// for the same date replaces the snapshot wholesale; the deep-dive queue is
// the only place where same-day re-entry is deduplicated instead.
type CandidateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCandidateRepository creates a candidate repository.
func NewCandidateRepository(db *sql.DB, log zerolog.Logger) *CandidateRepository {
	return &CandidateRepository{
		db:  db,
		log: log.With().Str("component", "candidate_repository").Logger(),
	}
}

// ReplaceForDate replaces the candidate snapshot for a date.
func (r *CandidateRepository) ReplaceForDate(date time.Time, rows []CandidateRow) error {
	day := calendar.FormatDate(date)
	now := time.Now().UTC().Format(time.RFC3339)

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM screen_candidates WHERE snap_date = ?", day); err != nil {
			return fmt.Errorf("failed to clear candidate snapshot: %w", err)
		}
		for _, row := range rows {
			_, err := tx.Exec(
				`INSERT INTO screen_candidates
				 (symbol, snap_date, fund_state, fund_score, has_new_filing, theme_strength, theme_delta, high_signal_tag, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				row.Symbol, day, row.FundState, row.FundScore,
				boolToInt(row.HasNewFiling), row.ThemeStrength, row.ThemeDelta,
				boolToInt(row.HasHighSignalTag), now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert candidate %s: %w", row.Symbol, err)
			}
		}
		return nil
	})
}

// ForDate returns the candidate snapshot for a date as deep-dive candidates.
func (r *CandidateRepository) ForDate(date time.Time) ([]deepdive.Candidate, error) {
	rows, err := r.db.Query(
		`SELECT symbol, fund_state, fund_score, has_new_filing, theme_strength, theme_delta, high_signal_tag
		 FROM screen_candidates WHERE snap_date = ?`,
		calendar.FormatDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list screen candidates: %w", err)
	}
	defer rows.Close()

	var out []deepdive.Candidate
	for rows.Next() {
		var (
			c                     deepdive.Candidate
			newFiling, highSignal int
		)
		if err := rows.Scan(&c.Symbol, &c.FundState, &c.FundScore, &newFiling,
			&c.ThemeStrength, &c.ThemeDelta, &highSignal); err != nil {
			return nil, fmt.Errorf("failed to scan screen candidate: %w", err)
		}
		c.HasNewFiling = newFiling != 0
		c.HasHighSignalTag = highSignal != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// Candidates implements deepdive.Pool over the stored snapshots. The session
// is part of the pool contract but both sessions draw from the same day's
// snapshot; the budget partitioning happens at admission.
func (r *CandidateRepository) Candidates(ctx context.Context, date time.Time, session jobs.Session) ([]deepdive.Candidate, error) {
	_ = ctx
	_ = session
	return r.ForDate(date)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
