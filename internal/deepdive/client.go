package deepdive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
)

// HTTPEnricher is an Enricher backed by the research backend's deep-dive
// endpoint.
type HTTPEnricher struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewHTTPEnricher creates an enricher client. The timeout should be generous;
// a deep dive is research, not a quote lookup.
func NewHTTPEnricher(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPEnricher {
	return &HTTPEnricher{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "enricher_client").Logger(),
	}
}

type enrichRequest struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
}

type enrichResponse struct {
	Summary        string   `json:"summary"`
	Confidence     int      `json:"confidence"`
	EntryIdea      string   `json:"entry_idea"`
	StopIdea       string   `json:"stop_idea"`
	TakeProfitIdea string   `json:"take_profit_idea"`
	Tags           []string `json:"tags"`
	RiskFlags      []string `json:"risk_flags"`
	CriticalRisk   bool     `json:"critical_risk"`
}

// Enrich asks the backend for a deep-dive report on one symbol.
func (e *HTTPEnricher) Enrich(ctx context.Context, symbol string, date time.Time) (*Report, error) {
	payload, err := json.Marshal(enrichRequest{
		Symbol: symbol,
		Date:   calendar.FormatDate(date),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal enrich request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/deep-dive", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build enrich request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrich request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrichment backend returned status %d for %s", resp.StatusCode, symbol)
	}

	var body enrichResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode enrich response: %w", err)
	}

	return &Report{
		Symbol:         symbol,
		Summary:        body.Summary,
		Confidence:     body.Confidence,
		EntryIdea:      body.EntryIdea,
		StopIdea:       body.StopIdea,
		TakeProfitIdea: body.TakeProfitIdea,
		Tags:           body.Tags,
		RiskFlags:      body.RiskFlags,
		CriticalRisk:   body.CriticalRisk,
	}, nil
}
