package screening

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
)

// Engine runs one screen kind against the backend and stores the resulting
// candidate snapshot. It implements the orchestrator's engine contract for a
// primary family.
type Engine struct {
	kind       ScreenKind
	client     *Client
	candidates *CandidateRepository
	log        zerolog.Logger
}

// NewEngine creates a screening engine for one screen kind.
func NewEngine(kind ScreenKind, client *Client, candidates *CandidateRepository, log zerolog.Logger) *Engine {
	return &Engine{
		kind:       kind,
		client:     client,
		candidates: candidates,
		log:        log.With().Str("component", "screening_engine").Str("kind", string(kind)).Logger(),
	}
}

// Run executes the screen for a trade date and replaces that date's
// candidate snapshot with the result.
func (e *Engine) Run(ctx context.Context, tradeDate time.Time) error {
	rows, err := e.client.RunScreen(ctx, e.kind, tradeDate)
	if err != nil {
		return err
	}

	if err := e.candidates.ReplaceForDate(tradeDate, rows); err != nil {
		return err
	}

	e.log.Info().
		Str("trade_date", calendar.FormatDate(tradeDate)).
		Int("candidates", len(rows)).
		Msg("Screen completed")
	return nil
}
