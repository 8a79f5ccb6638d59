// Package distribution implements the cyclical distribution engine: funding
// per-region pools, processing claims against them and closing cycles.
package distribution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ubi/internal/cycle"
	"ubi/internal/domain"
	"ubi/internal/engagement"
	"ubi/internal/metrics"
	pkgerrors "ubi/pkg/errors"
	"ubi/pkg/logger"
)

const defaultLockTTL = 2 * time.Minute

type Service struct {
	store     Store
	directory ParticipantDirectory
	stats     StatsStore
	scorer    *engagement.Scorer
	clock     *cycle.Clock
	now       cycle.TimeSource
	locker    Locker
	params    Params
	logger    logger.Logger
}

func NewService(
	store Store,
	directory ParticipantDirectory,
	stats StatsStore,
	scorer *engagement.Scorer,
	clock *cycle.Clock,
	now cycle.TimeSource,
	locker Locker,
	params Params,
	log logger.Logger,
) *Service {
	if scorer == nil {
		scorer = engagement.NewDefaultScorer()
	}
	if now == nil {
		now = cycle.SystemTime
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if params.FundWorkers <= 0 {
		params.FundWorkers = 1
	}
	if params.LockTTL <= 0 {
		params.LockTTL = defaultLockTTL
	}
	return &Service{
		store:     store,
		directory: directory,
		stats:     stats,
		scorer:    scorer,
		clock:     clock,
		now:       now,
		locker:    locker,
		params:    params,
		logger:    log,
	}
}

func (s *Service) Clock() *cycle.Clock { return s.clock }

// CurrentCycleInfo reports the current cycle and whether its window is open.
func (s *Service) CurrentCycleInfo() domain.CycleInfo {
	info := s.clock.Info(s.now.Now())
	metrics.SetCurrentCycle(info.Cycle)
	return info
}

// FundPool creates the pool for (cycle, region), snapshotting the eligible
// population and its previous-cycle total weight.
func (s *Service) FundPool(ctx context.Context, cyc int, region string, amount decimal.Decimal) (*domain.PoolSummary, error) {
	const op = "distribution.FundPool"

	region = strings.TrimSpace(region)
	if err := s.checkCycle(op, cyc); err != nil {
		return nil, err
	}
	if region == "" {
		return nil, pkgerrors.Ef(pkgerrors.InvalidArgument, op, "region is required")
	}
	amount = amount.Round(MoneyPlaces)
	if !amount.IsPositive() {
		return nil, pkgerrors.Ef(pkgerrors.InvalidArgument, op, "amount must be positive, got %s", amount)
	}

	release, err := s.locker.Acquire(ctx, fmt.Sprintf("fund:%d:%s", cyc, region), s.params.LockTTL)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	defer release()

	existing, err := s.store.FindPool(ctx, cyc, region)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	if existing != nil {
		return nil, pkgerrors.E(pkgerrors.AlreadyFunded, op, nil)
	}

	eligible, err := s.directory.ListByRegion(ctx, region, domain.TierStandard)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}

	totalWeight, err := s.totalWeight(ctx, eligible, cyc-1)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}

	now := s.now.Now()
	pool := &domain.Pool{
		ID:                 uuid.New(),
		Cycle:              cyc,
		Region:             region,
		Remaining:          amount,
		OriginalAmount:     amount,
		EligibleCount:      len(eligible),
		TotalWeight:        totalWeight,
		ClaimsCount:        0,
		TotalDistributed:   decimal.Zero,
		ReturnedToTreasury: decimal.Zero,
		Status:             domain.PoolStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreatePool(ctx, pool); err != nil {
		s.logger.Error("Failed to create pool", map[string]interface{}{
			"cycle":  cyc,
			"region": region,
			"error":  err.Error(),
		})
		return nil, pkgerrors.Persistence(op, err)
	}

	metrics.PoolFunded(amount)
	s.logger.Info("Pool funded", map[string]interface{}{
		"pool_id":        pool.ID,
		"cycle":          cyc,
		"region":         region,
		"amount":         amount.StringFixed(MoneyPlaces),
		"eligible_count": pool.EligibleCount,
		"total_weight":   pool.TotalWeight,
	})

	summary := pool.Summary()
	return &summary, nil
}

// totalWeight sums the engagement weight of participants for statsCycle,
// fetching stats concurrently.
func (s *Service) totalWeight(ctx context.Context, participants []*domain.Participant, statsCycle int) (int64, error) {
	weights := make([]int64, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.FundWorkers)
	for i, p := range participants {
		i, p := i, p
		g.Go(func() error {
			stats, err := s.stats.FindStats(gctx, p.ID, statsCycle)
			if err != nil {
				return fmt.Errorf("stats for %s: %w", p.ID, err)
			}
			weights[i] = s.scorer.Weight(stats)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, w := range weights {
		total += w
	}
	return total, nil
}

// Claim commits the participant's entitlement for cycle at the current time.
// ref is a participant id or display name.
func (s *Service) Claim(ctx context.Context, ref string, cyc int) (*domain.ClaimReceipt, error) {
	return s.ClaimAt(ctx, ref, cyc, s.now.Now())
}

// ClaimAt is Claim evaluated at an explicit instant.
func (s *Service) ClaimAt(ctx context.Context, ref string, cyc int, now time.Time) (receipt *domain.ClaimReceipt, err error) {
	const op = "distribution.Claim"
	started := time.Now()
	defer func() {
		result := metrics.ClaimSucceeded
		amount := decimal.Zero
		if err != nil {
			result = string(pkgerrors.KindOf(err))
		} else {
			amount = receipt.Claim.Amount
		}
		metrics.ObserveClaim(result, amount, time.Since(started))
	}()

	participant, err := s.resolve(ctx, op, ref)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"participant_id": participant.ID,
		"cycle":          cyc,
		"region":         participant.Region,
	}

	if !participant.Tier.Eligible() {
		s.logger.Warn("Claim rejected: tier too low", fields)
		return nil, pkgerrors.E(pkgerrors.NotEligible, op, nil)
	}
	if err := s.checkCycle(op, cyc); err != nil {
		return nil, err
	}
	if !s.clock.InWindow(cyc, now) {
		s.logger.Warn("Claim rejected: window closed", fields)
		return nil, pkgerrors.E(pkgerrors.WindowClosed, op, nil)
	}

	stats, err := s.stats.FindStats(ctx, participant.ID, cyc-1)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	score := s.scorer.Score(stats)

	var (
		claim *domain.Claim
		pool  *domain.Pool
	)
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		pool, err = tx.LockPool(ctx, cyc, participant.Region)
		if err != nil {
			return err
		}
		if pool == nil || !pool.Active() {
			return pkgerrors.E(pkgerrors.NoActivePool, op, nil)
		}

		existing, err := tx.FindClaim(ctx, participant.ID, cyc)
		if err != nil {
			return err
		}
		if existing != nil {
			return pkgerrors.E(pkgerrors.AlreadyClaimed, op, nil)
		}

		ent := s.params.Entitle(pool, score)
		if pool.Remaining.LessThan(ent.Amount) {
			return pkgerrors.Ef(pkgerrors.InsufficientPoolFunds, op, "remaining %s, entitlement %s",
				pool.Remaining.StringFixed(MoneyPlaces), ent.Amount.StringFixed(MoneyPlaces))
		}

		pool.Remaining = pool.Remaining.Sub(ent.Amount)
		pool.ClaimsCount++
		pool.TotalDistributed = pool.TotalDistributed.Add(ent.Amount)
		pool.UpdatedAt = now
		if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}

		claim = &domain.Claim{
			ID:            uuid.New(),
			ParticipantID: participant.ID,
			PoolID:        pool.ID,
			Cycle:         cyc,
			Region:        participant.Region,
			Amount:        ent.Amount,
			Weight:        ent.Weight,
			Ramp:          ent.Ramp,
			ClaimedAt:     now,
		}
		if err := tx.InsertClaim(ctx, claim); err != nil {
			return err
		}
		return tx.Credit(ctx, participant, ent.Amount, claim.ID)
	})
	if err != nil {
		err = pkgerrors.Persistence(op, err)
		fields["error"] = err.Error()
		if pkgerrors.KindOf(err) == pkgerrors.PersistenceFailure {
			s.logger.Error("Claim failed", fields)
		} else {
			s.logger.Warn("Claim rejected", fields)
		}
		return nil, err
	}

	fields["amount"] = claim.Amount.StringFixed(MoneyPlaces)
	fields["weight"] = claim.Weight
	fields["ramp"] = claim.Ramp
	s.logger.Info("Claim committed", fields)

	return &domain.ClaimReceipt{
		Claim:         claim,
		Currency:      s.params.Currency,
		PoolRemaining: pool.Remaining,
	}, nil
}

// Quote estimates the participant's claim against the live pool without
// committing anything.
func (s *Service) Quote(ctx context.Context, ref string, cyc int) (*domain.Quote, error) {
	const op = "distribution.Quote"

	participant, err := s.resolve(ctx, op, ref)
	if err != nil {
		return nil, err
	}
	if !participant.Tier.Eligible() {
		return nil, pkgerrors.E(pkgerrors.NotEligible, op, nil)
	}
	if err := s.checkCycle(op, cyc); err != nil {
		return nil, err
	}

	pool, err := s.store.FindPool(ctx, cyc, participant.Region)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	if pool == nil || !pool.Active() {
		return nil, pkgerrors.E(pkgerrors.NoActivePool, op, nil)
	}

	stats, err := s.stats.FindStats(ctx, participant.ID, cyc-1)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	ent := s.params.Entitle(pool, s.scorer.Score(stats))

	q := &domain.Quote{
		ParticipantID: participant.ID,
		Cycle:         cyc,
		Region:        participant.Region,
		Floor:         ent.Floor,
		Weight:        ent.Weight,
		Ramp:          ent.Ramp,
		VariableShare: ent.VariableShare,
		Amount:        ent.Amount,
		Currency:      s.params.Currency,
		WindowOpen:    s.clock.InWindow(cyc, s.now.Now()),
	}

	existing, err := s.store.FindClaim(ctx, participant.ID, cyc)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	if existing != nil {
		claimed := existing.Amount
		q.AlreadyClaimed = true
		q.ClaimedAmount = &claimed
	}
	return q, nil
}

// ShowPools lists the pools of a cycle, optionally restricted to one region.
func (s *Service) ShowPools(ctx context.Context, cyc int, region string) ([]domain.PoolSummary, error) {
	const op = "distribution.ShowPools"
	if err := s.checkCycle(op, cyc); err != nil {
		return nil, err
	}

	pools, err := s.store.ListPools(ctx, cyc, strings.TrimSpace(region))
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	out := make([]domain.PoolSummary, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Summary())
	}
	return out, nil
}

// CloseCycle closes every active pool of the cycle and returns the unclaimed
// remainder to the treasury. It fails without side effects while the claim
// window of the cycle has not ended.
func (s *Service) CloseCycle(ctx context.Context, cyc int) (*domain.CloseSummary, error) {
	return s.CloseCycleAt(ctx, cyc, s.now.Now())
}

func (s *Service) CloseCycleAt(ctx context.Context, cyc int, now time.Time) (*domain.CloseSummary, error) {
	const op = "distribution.CloseCycle"
	if err := s.checkCycle(op, cyc); err != nil {
		return nil, err
	}
	if !s.clock.WindowEnded(cyc, now) {
		return nil, pkgerrors.E(pkgerrors.WindowNotYetClosed, op, nil)
	}

	release, err := s.locker.Acquire(ctx, fmt.Sprintf("close:%d", cyc), s.params.LockTTL)
	if err != nil {
		return nil, pkgerrors.Persistence(op, err)
	}
	defer release()

	summary := &domain.CloseSummary{
		Cycle:            cyc,
		TotalReturned:    decimal.Zero,
		TotalDistributed: decimal.Zero,
	}
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		pools, err := tx.LockActivePools(ctx, cyc)
		if err != nil {
			return err
		}
		for _, pool := range pools {
			if !pool.Active() {
				continue
			}
			returned := pool.Remaining
			pool.Status = domain.PoolStatusClosed
			pool.ReturnedToTreasury = returned
			pool.ClosedAt = &now
			pool.UpdatedAt = now
			if err := tx.UpdatePool(ctx, pool); err != nil {
				return err
			}
			if err := tx.RecordTreasuryReturn(ctx, &domain.TreasuryReturn{
				ID:         uuid.New(),
				PoolID:     pool.ID,
				Cycle:      pool.Cycle,
				Region:     pool.Region,
				Amount:     returned,
				ReturnedAt: now,
			}); err != nil {
				return err
			}

			summary.PoolsClosed++
			summary.TotalReturned = summary.TotalReturned.Add(returned)
			summary.TotalDistributed = summary.TotalDistributed.Add(pool.TotalDistributed)
			summary.TotalClaims += pool.ClaimsCount
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to close cycle", map[string]interface{}{
			"cycle": cyc,
			"error": err.Error(),
		})
		return nil, pkgerrors.Persistence(op, err)
	}

	if summary.PoolsClosed > 0 {
		metrics.PoolsClosed(summary.PoolsClosed, summary.TotalReturned)
	}
	s.logger.Info("Cycle closed", map[string]interface{}{
		"cycle":             cyc,
		"pools_closed":      summary.PoolsClosed,
		"total_returned":    summary.TotalReturned.StringFixed(MoneyPlaces),
		"total_distributed": summary.TotalDistributed.StringFixed(MoneyPlaces),
		"total_claims":      summary.TotalClaims,
	})
	return summary, nil
}

// checkCycle rejects cycles the clock cannot place on the timeline.
func (s *Service) checkCycle(op string, cyc int) error {
	if !s.clock.Valid(cyc) {
		return pkgerrors.Ef(pkgerrors.InvalidArgument, op, "cycle must be between 1 and %d, got %d", s.clock.MaxCycle(), cyc)
	}
	return nil
}

// resolve finds a participant by id or, failing that, by display name.
func (s *Service) resolve(ctx context.Context, op, ref string) (*domain.Participant, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.Ef(pkgerrors.InvalidArgument, op, "participant is required")
	}

	var (
		p   *domain.Participant
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		p, err = s.directory.FindByID(ctx, id)
	} else {
		p, err = s.directory.FindByDisplayName(ctx, ref)
	}
	if err != nil {
		if pkgerrors.KindOf(err) == pkgerrors.NotFound {
			return nil, pkgerrors.Ef(pkgerrors.NotFound, op, "%q", ref)
		}
		return nil, pkgerrors.Persistence(op, err)
	}
	if p == nil {
		return nil, pkgerrors.Ef(pkgerrors.NotFound, op, "%q", ref)
	}
	return p, nil
}
