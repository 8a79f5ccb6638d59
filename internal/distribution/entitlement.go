package distribution

import (
	"time"

	"github.com/shopspring/decimal"

	"ubi/internal/domain"
	"ubi/internal/engagement"
)

// MoneyPlaces is the number of decimal places of the unit of account.
const MoneyPlaces = 2

var rampScale = decimal.NewFromInt(engagement.FullRamp)

// Params are the monetary constants of the distribution.
type Params struct {
	SurvivalFloor decimal.Decimal
	MaxPerPerson  decimal.Decimal
	// MinPerPerson is applied after the cap. It never binds while it is at or
	// below SurvivalFloor.
	MinPerPerson decimal.Decimal
	Currency     domain.Currency
	FundWorkers  int
	// LockTTL bounds how long a fund or close may hold its admin lock.
	LockTTL time.Duration
}

// Entitlement is the breakdown of one participant's claim amount.
type Entitlement struct {
	Floor         decimal.Decimal
	Weight        int64
	Ramp          int
	VariableShare decimal.Decimal
	RampedShare   decimal.Decimal
	Amount        decimal.Decimal
}

// Entitle computes what a participant with the given score receives from the
// pool in its current state. The residual above floors is taken from the
// live remaining balance while totalWeight stays fixed at funding time, so
// later claimants share a smaller residual.
func (p Params) Entitle(pool *domain.Pool, score engagement.Score) Entitlement {
	floor := p.SurvivalFloor
	afterFloors := pool.Remaining.Sub(floor.Mul(decimal.NewFromInt(int64(pool.EligibleCount))))

	variable := decimal.Zero
	if afterFloors.IsPositive() && pool.TotalWeight > 0 {
		variable = decimal.NewFromInt(score.Weight).
			Mul(afterFloors).
			Div(decimal.NewFromInt(pool.TotalWeight))
	}
	ramped := variable.Mul(decimal.NewFromInt(int64(score.Ramp))).Div(rampScale)

	amount := floor.Add(ramped).Round(MoneyPlaces)
	amount = decimal.Min(amount, p.MaxPerPerson)
	amount = decimal.Max(amount, p.MinPerPerson)

	return Entitlement{
		Floor:         floor,
		Weight:        score.Weight,
		Ramp:          score.Ramp,
		VariableShare: variable.Round(MoneyPlaces),
		RampedShare:   ramped.Round(MoneyPlaces),
		Amount:        amount,
	}
}
