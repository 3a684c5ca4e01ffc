package deepdive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityPrefersFreshFilings(t *testing.T) {
	withFiling := Candidate{Symbol: "7203", FundState: "WATCH", HasNewFiling: true}
	inUniverse := Candidate{Symbol: "6758", FundState: "IN", FundScore: 1.0, ThemeStrength: 1.0}

	assert.Greater(t, CalculatePriority(withFiling), CalculatePriority(inUniverse),
		"a fresh filing outweighs a fully scored universe member")
}

func TestPriorityClampsInputs(t *testing.T) {
	overshoot := Candidate{Symbol: "9984", FundState: "IN", FundScore: 5.0, ThemeStrength: 9.0, ThemeDelta: 3.0}
	exact := Candidate{Symbol: "9984", FundState: "IN", FundScore: 1.0, ThemeStrength: 1.0, ThemeDelta: 1.0}

	assert.InDelta(t, CalculatePriority(exact), CalculatePriority(overshoot), 1e-12)
}

func TestPriorityUnknownStateScoresAsOut(t *testing.T) {
	unknown := Candidate{Symbol: "8035", FundState: "???"}
	out := Candidate{Symbol: "8035", FundState: "OUT"}

	assert.InDelta(t, CalculatePriority(out), CalculatePriority(unknown), 1e-12)
}

func TestPriorityIsDeterministic(t *testing.T) {
	c := Candidate{Symbol: "6954", FundState: "WATCH", FundScore: 0.42, ThemeStrength: 0.3}
	assert.Equal(t, CalculatePriority(c), CalculatePriority(c))
}

func TestRankOrdersByPriorityThenSymbol(t *testing.T) {
	// Identical attributes: only the symbol tail and tie-break differ.
	ranked := Rank([]Candidate{
		{Symbol: "bbb", FundState: "IN"},
		{Symbol: "aaa", FundState: "IN"},
		{Symbol: "ccc", FundState: "WATCH", HasNewFiling: true},
	})

	assert.Equal(t, "ccc", ranked[0].Symbol, "filing wins")
	// aaa and bbb differ only by the symbol-derived tail; bbb's char sum is larger.
	assert.Equal(t, "bbb", ranked[1].Symbol)
	assert.Equal(t, "aaa", ranked[2].Symbol)
}

func TestSessionAllowance(t *testing.T) {
	tests := []struct {
		name                              string
		dailyCap, sessionCap              int
		doneTotal, doneSession, allowance int
	}{
		{"fresh day", 10, 4, 0, 0, 4},
		{"session cap binds", 10, 4, 2, 2, 2},
		{"daily cap binds", 10, 6, 8, 0, 2},
		{"daily exhausted", 10, 6, 10, 0, 0},
		{"overshoot clamps to zero", 10, 4, 12, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowance,
				SessionAllowance(tt.dailyCap, tt.sessionCap, tt.doneTotal, tt.doneSession))
		})
	}
}
