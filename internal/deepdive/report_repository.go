package deepdive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
)

// ReportRepository stores completed deep-dive reports. It implements Sink.
// Same-day re-runs replace the stored report; the task queue is what guards
// against unintended duplicates.
type ReportRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewReportRepository creates a report repository.
func NewReportRepository(db *sql.DB, log zerolog.Logger) *ReportRepository {
	return &ReportRepository{
		db:  db,
		log: log.With().Str("component", "report_repository").Logger(),
	}
}

// Store persists one report keyed by (symbol, report date).
func (r *ReportRepository) Store(ctx context.Context, report *Report) error {
	tags, err := json.Marshal(report.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal report tags: %w", err)
	}
	riskFlags, err := json.Marshal(report.RiskFlags)
	if err != nil {
		return fmt.Errorf("failed to marshal report risk flags: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO deep_dive_reports
		 (symbol, report_date, summary, confidence, entry_idea, stop_idea, take_profit_idea,
		  tags, risk_flags, critical_risk, fallback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.Symbol, calendar.FormatDate(report.Date), report.Summary, report.Confidence,
		report.EntryIdea, report.StopIdea, report.TakeProfitIdea,
		string(tags), string(riskFlags), boolToInt(report.CriticalRisk), boolToInt(report.Fallback),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to store deep-dive report: %w", err)
	}
	return nil
}

// Get returns the stored report for (symbol, date), or nil when absent.
func (r *ReportRepository) Get(symbol string, date time.Time) (*Report, error) {
	var (
		report    Report
		tags      string
		riskFlags string
		critical  int
		fallback  int
	)
	err := r.db.QueryRow(
		`SELECT symbol, summary, confidence, entry_idea, stop_idea, take_profit_idea,
		        tags, risk_flags, critical_risk, fallback
		 FROM deep_dive_reports WHERE symbol = ? AND report_date = ?`,
		symbol, calendar.FormatDate(date),
	).Scan(&report.Symbol, &report.Summary, &report.Confidence,
		&report.EntryIdea, &report.StopIdea, &report.TakeProfitIdea,
		&tags, &riskFlags, &critical, &fallback)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deep-dive report: %w", err)
	}

	if err := json.Unmarshal([]byte(tags), &report.Tags); err != nil {
		return nil, fmt.Errorf("corrupt report tags for %s: %w", symbol, err)
	}
	if err := json.Unmarshal([]byte(riskFlags), &report.RiskFlags); err != nil {
		return nil, fmt.Errorf("corrupt report risk flags for %s: %w", symbol, err)
	}
	report.Date = calendar.DateOf(date)
	report.CriticalRisk = critical != 0
	report.Fallback = fallback != 0
	return &report, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
