// Package deepdive selects, admits and executes bounded-budget enrichment
// tasks. Admission is deterministic and deduplicated per
// (symbol, date, session); the per-day budget is enforced with a
// compare-and-increment so concurrent sessions can never double-spend it.
package deepdive

import (
	"sort"
)

// Candidate is one symbol from the externally produced candidate pool,
// carrying the signal attributes that feed the priority score.
type Candidate struct {
	Symbol           string
	FundState        string // IN, WATCH or OUT
	FundScore        float64
	HasNewFiling     bool
	ThemeStrength    float64
	ThemeDelta       float64
	HasHighSignalTag bool
}

// stateWeight maps the fundamental universe state to its priority weight.
var stateWeight = map[string]float64{
	"IN":    1.0,
	"WATCH": 0.6,
	"OUT":   0.2,
}

// CalculatePriority scores a candidate. Candidates with fresh filings are
// preferred so the deep dive has concrete sources to work from.
// The symbol-derived tail guarantees strict, reproducible ordering.
func CalculatePriority(c Candidate) float64 {
	w, ok := stateWeight[c.FundState]
	if !ok {
		w = 0.2
	}

	score := w * 0.25
	score += clamp(c.FundScore, 0.0, 1.0) * 0.20
	if c.HasNewFiling {
		score += 0.45
	}
	score += clamp(c.ThemeStrength, 0.0, 1.0) * 0.07
	score += clamp(c.ThemeDelta, -1.0, 1.0) * 0.02
	if c.HasHighSignalTag {
		score += 0.01
	}

	var sum int
	for _, ch := range c.Symbol {
		sum += int(ch)
	}
	tail := float64(sum%1000) / 1_000_000

	return score + tail
}

// Ranked is a candidate with its computed priority.
type Ranked struct {
	Candidate
	Priority float64
}

// Rank orders candidates by priority descending with symbol as the fixed
// secondary key, so repeated runs over identical input produce identical
// orderings.
func Rank(candidates []Candidate) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Ranked{Candidate: c, Priority: CalculatePriority(c)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	return ranked
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SessionAllowance returns how many tasks may still run in a session given
// the daily budget and the session cap.
func SessionAllowance(dailyCap, sessionCap, doneTotal, doneSession int) int {
	remainingTotal := dailyCap - doneTotal
	if remainingTotal < 0 {
		remainingTotal = 0
	}
	remainingSession := sessionCap - doneSession
	if remainingSession < 0 {
		remainingSession = 0
	}
	if remainingTotal < remainingSession {
		return remainingTotal
	}
	return remainingSession
}
