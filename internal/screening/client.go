// Package screening drives the screening backend for the two primary job
// families and stores the candidate snapshots the deep-dive allocator draws
// from. The screening computation itself lives in the backend service; this
// package owns triggering it and persisting what it returns.
package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
)

// ScreenKind selects which screen the backend runs.
type ScreenKind string

const (
	ScreenMorning ScreenKind = "morning"
	ScreenClose   ScreenKind = "close"
)

// CandidateRow is one symbol in a backend screen response.
type CandidateRow struct {
	Symbol           string  `json:"symbol"`
	FundState        string  `json:"fund_state"`
	FundScore        float64 `json:"fund_score"`
	HasNewFiling     bool    `json:"has_new_filing"`
	ThemeStrength    float64 `json:"theme_strength"`
	ThemeDelta       float64 `json:"theme_delta"`
	HasHighSignalTag bool    `json:"has_high_signal_tag"`
}

type screenResponse struct {
	Candidates []CandidateRow `json:"candidates"`
}

type dataReadyResponse struct {
	Ready bool `json:"ready"`
}

// Client talks to the screening backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a screening backend client.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "screening_client").Logger(),
	}
}

// RunScreen asks the backend to run one screen for a trade date and returns
// the resulting candidates.
func (c *Client) RunScreen(ctx context.Context, kind ScreenKind, tradeDate time.Time) ([]CandidateRow, error) {
	endpoint := fmt.Sprintf("%s/screens/%s?date=%s",
		c.baseURL, kind, url.QueryEscape(calendar.FormatDate(tradeDate)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build screen request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screen request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screening backend returned status %d for %s screen", resp.StatusCode, kind)
	}

	var body screenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode screen response: %w", err)
	}
	return body.Candidates, nil
}

// HasDataFor reports whether the backend has close data for the date.
// Implements the orchestrator's market data check.
func (c *Client) HasDataFor(ctx context.Context, date time.Time) (bool, error) {
	endpoint := fmt.Sprintf("%s/data-ready?date=%s",
		c.baseURL, url.QueryEscape(calendar.FormatDate(date)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build data-ready request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("data-ready request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("screening backend returned status %d for data-ready", resp.StatusCode)
	}

	var body dataReadyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode data-ready response: %w", err)
	}
	return body.Ready, nil
}
