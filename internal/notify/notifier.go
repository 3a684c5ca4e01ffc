// Package notify emits structured operational events to a downstream channel.
// The core never formats user-facing text; it hands the event payload to the
// webhook as-is and records the delivery outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/jobs"
)

// Kind classifies an operational event.
type Kind string

const (
	KindJobCompleted    Kind = "job_completed"
	KindJobFailed       Kind = "job_failed"
	KindBudgetExhausted Kind = "budget_exhausted"
	KindCatchUpBlocked  Kind = "catchup_blocked"
	KindHolidaySkip     Kind = "holiday_skip"
	KindDeepDiveSignal  Kind = "deepdive_signal"
)

// Event is a structured notification emitted by the orchestration core.
type Event struct {
	Kind    Kind              `json:"kind"`
	Date    time.Time         `json:"-"`
	Family  jobs.Family       `json:"family,omitempty"`
	Session jobs.Session      `json:"session,omitempty"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Emitter delivers events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Nop is an Emitter that discards everything. Used in tests and one-shot
// modes that run without a configured channel.
type Nop struct{}

// Emit discards the event.
func (Nop) Emit(context.Context, Event) {}

// Router delivers events to a webhook (when configured) and records every
// delivery attempt in the notifications table.
type Router struct {
	webhookURL string
	repo       *Repository
	client     *http.Client
	log        zerolog.Logger
}

// NewRouter creates an event router. An empty webhookURL disables delivery;
// events are still recorded.
func NewRouter(webhookURL string, repo *Repository, log zerolog.Logger) *Router {
	return &Router{
		webhookURL: webhookURL,
		repo:       repo,
		client:     &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "notifier").Logger(),
	}
}

// Emit delivers one event. Delivery failures are logged and recorded, never
// propagated: a notification problem must not fail the job that emitted it.
func (r *Router) Emit(ctx context.Context, ev Event) {
	payload, err := json.Marshal(struct {
		Event
		Date string `json:"date"`
	}{Event: ev, Date: calendar.FormatDate(ev.Date)})
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to marshal event")
		return
	}

	var deliveryErr error
	if r.webhookURL != "" {
		deliveryErr = r.post(ctx, payload)
		if deliveryErr != nil {
			r.log.Error().Err(deliveryErr).Str("kind", string(ev.Kind)).Msg("Event delivery failed")
		}
	}

	if r.repo != nil {
		if err := r.repo.Record(ev, string(payload), deliveryErr); err != nil {
			r.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to record notification")
		}
	}
}

func (r *Router) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
