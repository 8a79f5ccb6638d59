// Package engagement turns a participant's prior-cycle activity into an
// entitlement weight and a ramp percentage.
package engagement

import (
	"sort"

	"ubi/internal/domain"
)

// FullRamp is 100% expressed in basis points.
const FullRamp = 10000

// Weights are the coefficients of the engagement weight formula.
type Weights struct {
	Base         int64
	PerTx        int64
	Counterparty int64
	Labor        int64
	Remediation  int64
}

// DefaultWeights are the reference protocol coefficients.
var DefaultWeights = Weights{
	Base:         1000,
	PerTx:        100,
	Counterparty: 500,
	Labor:        1000,
	Remediation:  2000,
}

// RampStep grants Ramp basis points once the transaction total reaches MinTx.
type RampStep struct {
	MinTx int
	Ramp  int
}

// RampTable is the step function applied when the full-ramp condition is not met.
// Steps are kept sorted by MinTx descending so the first match wins.
type RampTable struct {
	FullMinTx             int
	FullMinCounterparties int
	steps                 []RampStep
}

func NewRampTable(fullMinTx, fullMinCounterparties int, steps []RampStep) RampTable {
	sorted := make([]RampStep, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinTx > sorted[j].MinTx })
	return RampTable{
		FullMinTx:             fullMinTx,
		FullMinCounterparties: fullMinCounterparties,
		steps:                 sorted,
	}
}

// DefaultRampTable reproduces the reference breakpoints exactly.
var DefaultRampTable = NewRampTable(5, 2, []RampStep{
	{MinTx: 4, Ramp: 8500},
	{MinTx: 3, Ramp: 7000},
	{MinTx: 2, Ramp: 5000},
	{MinTx: 1, Ramp: 2500},
})

// Lookup returns the ramp in basis points for the given activity.
func (t RampTable) Lookup(txTotal, counterparties int) int {
	if txTotal >= t.FullMinTx && counterparties >= t.FullMinCounterparties {
		return FullRamp
	}
	for _, s := range t.steps {
		if txTotal >= s.MinTx {
			return s.Ramp
		}
	}
	return 0
}

// Score is the scorer's output for one participant.
type Score struct {
	Weight int64
	Ramp   int
}

type Scorer struct {
	weights Weights
	ramp    RampTable
}

func NewScorer(w Weights, ramp RampTable) *Scorer {
	return &Scorer{weights: w, ramp: ramp}
}

// NewDefaultScorer uses the reference weights and ramp table.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights, DefaultRampTable)
}

// Weight computes the engagement weight. Missing stats weigh nothing.
func (s *Scorer) Weight(stats *domain.EngagementStats) int64 {
	if stats == nil {
		return 0
	}
	w := s.weights
	return w.Base +
		int64(stats.TxTotal())*w.PerTx +
		int64(stats.Counterparties)*w.Counterparty +
		int64(stats.LaborCount)*w.Labor +
		int64(stats.RemediationCount)*w.Remediation
}

// Ramp computes the ramp in basis points. Missing stats ramp at 0%.
func (s *Scorer) Ramp(stats *domain.EngagementStats) int {
	if stats == nil {
		return 0
	}
	return s.ramp.Lookup(stats.TxTotal(), stats.Counterparties)
}

func (s *Scorer) Score(stats *domain.EngagementStats) Score {
	return Score{Weight: s.Weight(stats), Ramp: s.Ramp(stats)}
}
