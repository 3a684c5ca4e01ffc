package deepdive

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/notify"
)

// Enricher produces the deep-dive report for one symbol. Implementations talk
// to the external research backend and are expected to be slow.
type Enricher interface {
	Enrich(ctx context.Context, symbol string, date time.Time) (*Report, error)
}

// Sink receives completed reports for long-term storage and indexing. Optional.
type Sink interface {
	Store(ctx context.Context, report *Report) error
}

// Executor drains admitted tasks for a session: it runs the enrichment under a
// rate limit, validates the output with one bounded retry, and records the
// task outcome.
type Executor struct {
	tasks    *TaskRepository
	enricher Enricher
	sink     Sink
	limiter  *rate.Limiter
	events   notify.Emitter
	log      zerolog.Logger
}

// NewExecutor creates a task executor. sink may be nil when reports are only
// consumed through events.
func NewExecutor(tasks *TaskRepository, enricher Enricher, sink Sink, limiter *rate.Limiter, events notify.Emitter, log zerolog.Logger) *Executor {
	if events == nil {
		events = notify.Nop{}
	}
	return &Executor{
		tasks:    tasks,
		enricher: enricher,
		sink:     sink,
		limiter:  limiter,
		events:   events,
		log:      log.With().Str("component", "deepdive_executor").Logger(),
	}
}

// Execute runs one task to a terminal state. rank is the task's 1-based
// position in the session's execution order; it seeds the deterministic
// fallback when enrichment output cannot be validated.
func (e *Executor) Execute(ctx context.Context, task Task, rank int) error {
	if err := e.tasks.MarkRunning(task.Symbol, task.Date, task.Session); err != nil {
		return err
	}

	report, err := e.enrich(ctx, task, rank)
	if err != nil {
		if markErr := e.tasks.MarkFailed(task.Symbol, task.Date, task.Session); markErr != nil {
			e.log.Error().Err(markErr).Str("symbol", task.Symbol).Msg("Failed to mark task failed")
		}
		e.log.Error().Err(err).
			Str("symbol", task.Symbol).
			Str("date", calendar.FormatDate(task.Date)).
			Str("session", string(task.Session)).
			Msg("Deep-dive task failed")
		return err
	}

	report.Date = task.Date

	if e.sink != nil {
		if err := e.sink.Store(ctx, report); err != nil {
			if markErr := e.tasks.MarkFailed(task.Symbol, task.Date, task.Session); markErr != nil {
				e.log.Error().Err(markErr).Str("symbol", task.Symbol).Msg("Failed to mark task failed")
			}
			return fmt.Errorf("failed to store report for %s: %w", task.Symbol, err)
		}
	}

	if err := e.tasks.MarkDone(task.Symbol, task.Date, task.Session); err != nil {
		return err
	}

	e.log.Info().
		Str("symbol", task.Symbol).
		Str("session", string(task.Session)).
		Int("confidence", report.Confidence).
		Bool("fallback", report.Fallback).
		Msg("Deep-dive task completed")

	if report.CriticalRisk || report.Confidence >= 80 {
		e.events.Emit(ctx, notify.Event{
			Kind:    notify.KindDeepDiveSignal,
			Date:    task.Date,
			Session: task.Session,
			Detail: map[string]string{
				"symbol":     task.Symbol,
				"confidence": fmt.Sprintf("%d", report.Confidence),
				"summary":    report.Summary,
			},
		})
	}
	return nil
}

// enrich calls the backend once and, if the result fails validation, retries
// exactly once before substituting the deterministic fallback. Transport
// errors are not retried here; the task fails and a later day's run may
// re-admit the symbol.
func (e *Executor) enrich(ctx context.Context, task Task, rank int) (*Report, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
		}
	}

	report, err := e.enricher.Enrich(ctx, task.Symbol, task.Date)
	if err != nil {
		return nil, fmt.Errorf("enrichment failed for %s: %w", task.Symbol, err)
	}

	if verr := report.Validate(); verr != nil {
		e.log.Warn().Err(verr).Str("symbol", task.Symbol).Msg("Report failed validation, retrying once")

		err = retry.Do(
			func() error {
				if e.limiter != nil {
					if werr := e.limiter.Wait(ctx); werr != nil {
						return retry.Unrecoverable(werr)
					}
				}
				fresh, rerr := e.enricher.Enrich(ctx, task.Symbol, task.Date)
				if rerr != nil {
					return rerr
				}
				if rerr := fresh.Validate(); rerr != nil {
					return rerr
				}
				report = fresh
				return nil
			},
			retry.Attempts(1),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", task.Symbol).Msg("Retry still invalid, using fallback report")
			report = FallbackReport(task.Symbol, rank)
		}
	}

	return report, nil
}
