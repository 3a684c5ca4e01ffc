// Package orchestrator turns typed job invocations into recorded, guarded
// executions: it owns the job run lifecycle, the holiday handling, the
// wait-for-data polling before close runs, and the contiguous cursor advance
// after scheduled successes.
package orchestrator

import (
	"context"
	"time"
)

// Engine executes the domain work of one primary family for a trade date.
// The morning engine receives the previous business day (it screens on close
// data that already exists); the close engine receives the date itself.
type Engine interface {
	Run(ctx context.Context, tradeDate time.Time) error
}

// MarketData answers whether close data has landed for a date. Used by the
// pre-close polling loop; nil disables polling regardless of configuration.
type MarketData interface {
	HasDataFor(ctx context.Context, date time.Time) (bool, error)
}

// Config controls run guarding and holiday behaviour.
type Config struct {
	// StaleRunningAfter is the age past which a pending or running job run
	// row is treated as abandoned and stops blocking new attempts.
	StaleRunningAfter time.Duration

	// MorningOnHoliday runs the morning family on non-business days against
	// the previous business day's data instead of skipping.
	MorningOnHoliday bool

	// DeepDiveOnHoliday runs the deep-dive family on non-business days.
	DeepDiveOnHoliday bool
	// DeepDiveUsePreviousBusinessDay redirects a holiday deep-dive run to the
	// previous business day's candidates. Only meaningful with
	// DeepDiveOnHoliday.
	DeepDiveUsePreviousBusinessDay bool

	// PollCloseData enables waiting for close data before the close run.
	PollCloseData bool
	PollInterval  time.Duration
	PollMaxWait   time.Duration
}
