package notify

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/screener/internal/calendar"
)

// Repository persists the notification log.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a notification log repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record stores one delivery attempt with its outcome.
func (r *Repository) Record(ev Event, payload string, deliveryErr error) error {
	success := 1
	errMsg := sql.NullString{}
	if deliveryErr != nil {
		success = 0
		errMsg = sql.NullString{String: deliveryErr.Error(), Valid: true}
	}

	_, err := r.db.Exec(
		`INSERT INTO notifications (event_date, kind, payload, success, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		calendar.FormatDate(ev.Date), string(ev.Kind), payload, success, errMsg,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// CountForDate returns how many notifications were recorded for a date.
func (r *Repository) CountForDate(date time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM notifications WHERE event_date = ?",
		calendar.FormatDate(date),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}
