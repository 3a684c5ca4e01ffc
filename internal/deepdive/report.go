package deepdive

import (
	"fmt"
	"strings"
	"time"
)

// Report is the structured output of one enrichment call. The enrichment
// collaborator produces it; the core only checks required fields and
// substitutes a deterministic fallback when validation cannot be repaired.
type Report struct {
	Symbol         string
	Date           time.Time
	Summary        string
	Confidence     int // 0-100
	EntryIdea      string
	StopIdea       string
	TakeProfitIdea string
	Tags           []string
	RiskFlags      []string
	CriticalRisk   bool
	Fallback       bool
}

// placeholders are values the enrichment model emits when it has nothing to
// say. A required field carrying one of these counts as missing.
var placeholders = map[string]bool{
	"":               true,
	"-":              true,
	"n/a":            true,
	"na":             true,
	"none":           true,
	"null":           true,
	"unknown":        true,
	"tbd":            true,
	"not available":  true,
	"not_applicable": true,
}

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// Validate checks the required fields of a report.
func (r *Report) Validate() error {
	if isPlaceholder(r.Summary) {
		return fmt.Errorf("report for %s missing summary", r.Symbol)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("report for %s has confidence %d outside 0-100", r.Symbol, r.Confidence)
	}
	if isPlaceholder(r.EntryIdea) || isPlaceholder(r.StopIdea) || isPlaceholder(r.TakeProfitIdea) {
		return fmt.Errorf("report for %s missing key levels", r.Symbol)
	}
	return nil
}

// FallbackReport builds the deterministic substitute used when an enrichment
// result stays invalid after the bounded retry. rank is the task's 1-based
// position in the session's execution order; it anchors the confidence so
// repeated runs produce identical fallbacks.
func FallbackReport(symbol string, rank int) *Report {
	confidence := 76 - (rank - 1)
	if confidence < 35 {
		confidence = 35
	}
	return &Report{
		Symbol:         symbol,
		Summary:        "Enrichment output unavailable; generic guidance substituted.",
		Confidence:     confidence,
		EntryIdea:      "Consider entry on a volume-backed break above the recent high.",
		StopIdea:       "Reconsider on a break below the recent low.",
		TakeProfitIdea: "Scale out at a reward-to-risk of 2 or better.",
		Fallback:       true,
	}
}
