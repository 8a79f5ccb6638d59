// Package treasury reconciles distribution pools against their claims and
// the remainders returned to the treasury.
package treasury

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ubi/internal/domain"
	"ubi/internal/metrics"
	pkgerrors "ubi/pkg/errors"
	"ubi/pkg/logger"
)

// Ledger is the read side of the distribution store.
type Ledger interface {
	ListPools(ctx context.Context, cycle int, region string) ([]*domain.Pool, error)
	ListClaims(ctx context.Context, cycle int) ([]*domain.Claim, error)
	TreasuryReturns(ctx context.Context, cycle int) ([]*domain.TreasuryReturn, error)
}

// Check names one reconciliation rule.
type Check string

const (
	CheckConservation  Check = "conservation"
	CheckNegative      Check = "negative_remaining"
	CheckClaimSum      Check = "claim_sum"
	CheckClaimCount    Check = "claim_count"
	CheckClaimAmount   Check = "claim_amount"
	CheckOrphanClaim   Check = "orphan_claim"
	CheckReturnMissing Check = "return_missing"
	CheckReturnAmount  Check = "return_amount"
	CheckReturnActive  Check = "return_on_active_pool"
)

type Discrepancy struct {
	Region string `json:"region"`
	Check  Check  `json:"check"`
	Detail string `json:"detail"`
}

// PoolLine is the reconciled position of one pool.
type PoolLine struct {
	Region      string            `json:"region"`
	Status      domain.PoolStatus `json:"status"`
	Funded      decimal.Decimal   `json:"funded"`
	Distributed decimal.Decimal   `json:"distributed"`
	Remaining   decimal.Decimal   `json:"remaining"`
	Returned    decimal.Decimal   `json:"returned"`
	Claims      int               `json:"claims"`
	ClaimSum    decimal.Decimal   `json:"claim_sum"`
}

type Report struct {
	Cycle            int             `json:"cycle"`
	Pools            []PoolLine      `json:"pools"`
	TotalFunded      decimal.Decimal `json:"total_funded"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	TotalRemaining   decimal.Decimal `json:"total_remaining"`
	TotalReturned    decimal.Decimal `json:"total_returned"`
	Discrepancies    []Discrepancy   `json:"discrepancies"`
	CheckedAt        time.Time       `json:"checked_at"`
}

// Balanced reports whether every check passed.
func (r *Report) Balanced() bool {
	return len(r.Discrepancies) == 0
}

type Reconciler struct {
	ledger Ledger
	logger logger.Logger
}

func NewReconciler(ledger Ledger, log logger.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, logger: log}
}

// Reconcile verifies, for every pool of the cycle, that funded equals
// distributed plus remaining, that the committed claims add up to the
// distributed total, and that closed pools returned exactly their remainder.
func (r *Reconciler) Reconcile(ctx context.Context, cycle int) (*Report, error) {
	const op = "treasury.Reconcile"
	if cycle < 1 {
		return nil, pkgerrors.Ef(pkgerrors.InvalidArgument, op, "cycle must be positive, got %d", cycle)
	}

	pools, err := r.ledger.ListPools(ctx, cycle, "")
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	claims, err := r.ledger.ListClaims(ctx, cycle)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	returns, err := r.ledger.TreasuryReturns(ctx, cycle)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}

	claimsByPool := make(map[uuid.UUID][]*domain.Claim)
	for _, c := range claims {
		claimsByPool[c.PoolID] = append(claimsByPool[c.PoolID], c)
	}
	returnsByPool := make(map[uuid.UUID][]*domain.TreasuryReturn)
	for _, ret := range returns {
		returnsByPool[ret.PoolID] = append(returnsByPool[ret.PoolID], ret)
	}

	report := &Report{
		Cycle:            cycle,
		Pools:            make([]PoolLine, 0, len(pools)),
		TotalFunded:      decimal.Zero,
		TotalDistributed: decimal.Zero,
		TotalRemaining:   decimal.Zero,
		TotalReturned:    decimal.Zero,
		Discrepancies:    []Discrepancy{},
		CheckedAt:        time.Now().UTC(),
	}
	flag := func(region string, check Check, format string, args ...interface{}) {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Region: region,
			Check:  check,
			Detail: fmt.Sprintf(format, args...),
		})
	}

	known := make(map[uuid.UUID]bool, len(pools))
	for _, p := range pools {
		known[p.ID] = true
		poolClaims := claimsByPool[p.ID]

		line := PoolLine{
			Region:      p.Region,
			Status:      p.Status,
			Funded:      p.OriginalAmount,
			Distributed: p.TotalDistributed,
			Remaining:   p.Remaining,
			Returned:    p.ReturnedToTreasury,
			Claims:      len(poolClaims),
			ClaimSum:    decimal.Zero,
		}
		for _, c := range poolClaims {
			line.ClaimSum = line.ClaimSum.Add(c.Amount)
			if !c.Amount.IsPositive() {
				flag(p.Region, CheckClaimAmount, "claim %s has non-positive amount %s", c.ID, c.Amount)
			}
		}

		if sum := p.TotalDistributed.Add(p.Remaining); !sum.Equal(p.OriginalAmount) {
			flag(p.Region, CheckConservation, "distributed %s + remaining %s != funded %s", p.TotalDistributed, p.Remaining, p.OriginalAmount)
		}
		if p.Remaining.IsNegative() {
			flag(p.Region, CheckNegative, "remaining %s is negative", p.Remaining)
		}
		if !line.ClaimSum.Equal(p.TotalDistributed) {
			flag(p.Region, CheckClaimSum, "claims sum to %s, pool distributed %s", line.ClaimSum, p.TotalDistributed)
		}
		if line.Claims != p.ClaimsCount {
			flag(p.Region, CheckClaimCount, "%d claims recorded, pool counts %d", line.Claims, p.ClaimsCount)
		}

		rets := returnsByPool[p.ID]
		switch p.Status {
		case domain.PoolStatusClosed:
			if len(rets) != 1 {
				flag(p.Region, CheckReturnMissing, "closed pool has %d treasury returns", len(rets))
				break
			}
			if !rets[0].Amount.Equal(p.Remaining) || !rets[0].Amount.Equal(p.ReturnedToTreasury) {
				flag(p.Region, CheckReturnAmount, "returned %s, remaining %s, pool records %s", rets[0].Amount, p.Remaining, p.ReturnedToTreasury)
			}
		default:
			if len(rets) > 0 {
				flag(p.Region, CheckReturnActive, "active pool has %d treasury returns", len(rets))
			}
		}

		report.Pools = append(report.Pools, line)
		report.TotalFunded = report.TotalFunded.Add(p.OriginalAmount)
		report.TotalDistributed = report.TotalDistributed.Add(p.TotalDistributed)
		report.TotalRemaining = report.TotalRemaining.Add(p.Remaining)
		report.TotalReturned = report.TotalReturned.Add(p.ReturnedToTreasury)
	}

	for poolID, orphans := range claimsByPool {
		if known[poolID] {
			continue
		}
		for _, c := range orphans {
			flag(c.Region, CheckOrphanClaim, "claim %s references unknown pool %s", c.ID, poolID)
		}
	}

	metrics.SetDiscrepancies(len(report.Discrepancies))
	fields := map[string]interface{}{
		"cycle":             cycle,
		"pools":             len(pools),
		"claims":            len(claims),
		"total_funded":      report.TotalFunded.String(),
		"total_distributed": report.TotalDistributed.String(),
		"discrepancies":     len(report.Discrepancies),
	}
	if report.Balanced() {
		r.logger.Info("Reconciliation passed", fields)
	} else {
		r.logger.Error("Reconciliation found discrepancies", fields)
	}
	return report, nil
}
