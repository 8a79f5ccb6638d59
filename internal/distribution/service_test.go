package distribution_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ubi/internal/cycle"
	"ubi/internal/distribution"
	"ubi/internal/domain"
	"ubi/internal/engagement"
	"ubi/internal/repository/memory"
	pkgerrors "ubi/pkg/errors"
	"ubi/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

const cycleLength = 37 * 24 * time.Hour

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func referenceParams() distribution.Params {
	return distribution.Params{
		SurvivalFloor: dec("20"),
		MaxPerPerson:  dec("500"),
		MinPerPerson:  dec("10"),
		Currency:      "UBI",
		FundWorkers:   4,
	}
}

type fixture struct {
	t     *testing.T
	store *memory.Store
	now   *cycle.ManualTime
	clock *cycle.Clock
	svc   *distribution.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	now := cycle.NewManualTime(epoch.Add(time.Hour))
	clock := cycle.NewClock(epoch, cycleLength, 0.10)
	svc := distribution.NewService(store, store, store, nil, clock, now, nil, referenceParams(), logger.NewNop())
	return &fixture{t: t, store: store, now: now, clock: clock, svc: svc}
}

func (f *fixture) participant(name, region string, tier domain.Tier, stats *domain.EngagementStats) *domain.Participant {
	p := &domain.Participant{
		ID:          uuid.New(),
		DisplayName: name,
		Region:      region,
		Tier:        tier,
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
	require.NoError(f.t, f.store.AddParticipant(p))
	if stats != nil {
		stats.ParticipantID = p.ID
		f.store.SetStats(stats)
	}
	return p
}

// seedAlpha builds the reference population of region alpha: ten eligible
// participants whose cycle-0 weights sum to 10000, plus one guarded
// participant who must not count.
func (f *fixture) seedAlpha() (claimant, busy, idle *domain.Participant) {
	claimant = f.participant("ada", "alpha", domain.TierResident, &domain.EngagementStats{
		Cycle: 0, Sent: 3, Received: 3, Counterparties: 3,
	})
	for i := 0; i < 5; i++ {
		p := f.participant(fmt.Sprintf("empty-%d", i), "alpha", domain.TierStandard, &domain.EngagementStats{Cycle: 0})
		if i == 0 {
			idle = p
		}
	}
	busy = f.participant("bob", "alpha", domain.TierEndorsed, &domain.EngagementStats{Cycle: 0, Sent: 9})
	for i := 0; i < 3; i++ {
		f.participant(fmt.Sprintf("new-%d", i), "alpha", domain.TierStandard, nil)
	}
	f.participant("kid", "alpha", domain.TierGuarded, &domain.EngagementStats{Cycle: 0, Sent: 50, Counterparties: 20})
	return claimant, busy, idle
}

func assertKind(t *testing.T, err error, kind pkgerrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, pkgerrors.KindOf(err), "unexpected error: %v", err)
}

func assertConserved(t *testing.T, f *fixture, cyc int, region string) {
	t.Helper()
	pool, err := f.store.FindPool(context.Background(), cyc, region)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.True(t, pool.Balanced(), "remaining %s + distributed %s != original %s",
		pool.Remaining, pool.TotalDistributed, pool.OriginalAmount)
	assert.False(t, pool.Remaining.IsNegative())
}

func TestFundPool_SnapshotsEligiblePopulation(t *testing.T) {
	f := newFixture(t)
	f.seedAlpha()

	summary, err := f.svc.FundPool(context.Background(), 1, "alpha", dec("1000"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Cycle)
	assert.Equal(t, "alpha", summary.Region)
	assert.True(t, summary.Remaining.Equal(dec("1000")))
	assert.Equal(t, 10, summary.EligibleCount)
	assert.Equal(t, int64(10000), summary.TotalWeight)
	assert.Equal(t, domain.PoolStatusActive, summary.Status)
}

func TestFundPool_RejectsSecondFunding(t *testing.T) {
	f := newFixture(t)
	f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	_, err = f.svc.FundPool(ctx, 1, "alpha", dec("50"))
	assertKind(t, err, pkgerrors.AlreadyFunded)
	assert.True(t, errors.Is(err, pkgerrors.ErrAlreadyFunded))

	pool, err := f.store.FindPool(ctx, 1, "alpha")
	require.NoError(t, err)
	assert.True(t, pool.OriginalAmount.Equal(dec("1000")))
}

func TestFundPool_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		cycle  int
		region string
		amount decimal.Decimal
	}{
		{"zero cycle", 0, "alpha", dec("10")},
		{"blank region", 1, "  ", dec("10")},
		{"zero amount", 1, "alpha", decimal.Zero},
		{"negative amount", 1, "alpha", dec("-5")},
		{"rounds to zero", 1, "alpha", dec("0.001")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.FundPool(ctx, tt.cycle, tt.region, tt.amount)
			assertKind(t, err, pkgerrors.InvalidArgument)
		})
	}
}

func TestFundPool_EmptyRegion(t *testing.T) {
	f := newFixture(t)

	summary, err := f.svc.FundPool(context.Background(), 1, "nowhere", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.EligibleCount)
	assert.Equal(t, int64(0), summary.TotalWeight)
}

func TestClaim_ReferenceEntitlement(t *testing.T) {
	f := newFixture(t)
	claimant, _, _ := f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	receipt, err := f.svc.Claim(ctx, claimant.ID.String(), 1)
	require.NoError(t, err)

	assert.Equal(t, "268.00", receipt.Claim.Amount.StringFixed(2))
	assert.Equal(t, int64(3100), receipt.Claim.Weight)
	assert.Equal(t, engagement.FullRamp, receipt.Claim.Ramp)
	assert.Equal(t, domain.Currency("UBI"), receipt.Currency)
	assert.True(t, receipt.PoolRemaining.Equal(dec("732")))
	assert.True(t, f.store.Balance(claimant.ID).Equal(dec("268")))

	entries := f.store.BalanceEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, receipt.Claim.ID, entries[0].Reference)

	assertConserved(t, f, 1, "alpha")
}

func TestClaim_ByDisplayName(t *testing.T) {
	f := newFixture(t)
	f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	receipt, err := f.svc.Claim(ctx, "ada", 1)
	require.NoError(t, err)
	assert.Equal(t, "268.00", receipt.Claim.Amount.StringFixed(2))
}

func TestClaim_SecondClaimRejected(t *testing.T) {
	f := newFixture(t)
	claimant, _, _ := f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, claimant.ID.String(), 1)
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, claimant.ID.String(), 1)
	assertKind(t, err, pkgerrors.AlreadyClaimed)

	pool, err := f.store.FindPool(ctx, 1, "alpha")
	require.NoError(t, err)
	assert.True(t, pool.Remaining.Equal(dec("732")))
	assert.Equal(t, 1, pool.ClaimsCount)
	assert.True(t, f.store.Balance(claimant.ID).Equal(dec("268")))
}

func TestClaim_LaterClaimantsShareLiveRemainder(t *testing.T) {
	f := newFixture(t)
	claimant, busy, idle := f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, claimant.ID.String(), 1)
	require.NoError(t, err)

	// remaining 732: (732 - 200) * 1900 / 10000 = 101.08, ramped at 85%.
	receipt, err := f.svc.Claim(ctx, busy.ID.String(), 1)
	require.NoError(t, err)
	assert.Equal(t, "105.92", receipt.Claim.Amount.StringFixed(2))
	assert.Equal(t, 8500, receipt.Claim.Ramp)

	// No activity means zero ramp: the floor alone.
	receipt, err = f.svc.Claim(ctx, idle.ID.String(), 1)
	require.NoError(t, err)
	assert.Equal(t, "20.00", receipt.Claim.Amount.StringFixed(2))

	assertConserved(t, f, 1, "alpha")
}

func TestClaim_WindowBoundaries(t *testing.T) {
	f := newFixture(t)
	claimant, busy, _ := f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	_, end := f.clock.Window(1)

	_, err = f.svc.ClaimAt(ctx, claimant.ID.String(), 1, end.Add(time.Nanosecond))
	assertKind(t, err, pkgerrors.WindowClosed)

	_, err = f.svc.ClaimAt(ctx, claimant.ID.String(), 1, epoch.Add(-time.Nanosecond))
	assertKind(t, err, pkgerrors.WindowClosed)

	_, err = f.svc.ClaimAt(ctx, busy.ID.String(), 1, end)
	require.NoError(t, err)

	pool, err := f.store.FindPool(ctx, 1, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, pool.ClaimsCount)
}

func TestClaim_NotEligibleRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	f.seedAlpha()
	ctx := context.Background()

	guarded := f.participant("minor", "alpha", domain.TierGuarded, nil)
	untrusted := f.participant("ghost", "beta", domain.TierUntrusted, nil)

	// No pool yet.
	_, err := f.svc.Claim(ctx, guarded.ID.String(), 1)
	assertKind(t, err, pkgerrors.NotEligible)

	_, err = f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, guarded.ID.String(), 1)
	assertKind(t, err, pkgerrors.NotEligible)

	// Outside the window eligibility is still checked first.
	f.now.Advance(cycleLength / 2)
	_, err = f.svc.Claim(ctx, untrusted.ID.String(), 1)
	assertKind(t, err, pkgerrors.NotEligible)

	assert.True(t, f.store.Balance(guarded.ID).IsZero())
}

func TestClaim_Rejections(t *testing.T) {
	f := newFixture(t)
	claimant, _, _ := f.seedAlpha()
	ctx := context.Background()
	lonely := f.participant("lonely", "gamma", domain.TierStandard, nil)

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, "nobody", 1)
	assertKind(t, err, pkgerrors.NotFound)

	_, err = f.svc.Claim(ctx, uuid.NewString(), 1)
	assertKind(t, err, pkgerrors.NotFound)

	_, err = f.svc.Claim(ctx, "", 1)
	assertKind(t, err, pkgerrors.InvalidArgument)

	_, err = f.svc.Claim(ctx, claimant.ID.String(), 0)
	assertKind(t, err, pkgerrors.InvalidArgument)

	_, err = f.svc.Claim(ctx, lonely.ID.String(), 1)
	assertKind(t, err, pkgerrors.NoActivePool)
}

func TestOperationsRejectCyclesBeyondClockRange(t *testing.T) {
	f := newFixture(t)
	claimant, _, _ := f.seedAlpha()
	ctx := context.Background()
	// (huge-1) * cycle length overflows a Duration and lands near this date.
	huge := 54323793125717
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	f.now.Set(now)

	_, err := f.svc.FundPool(ctx, huge, "alpha", dec("1000"))
	assertKind(t, err, pkgerrors.InvalidArgument)
	_, err = f.svc.FundPool(ctx, f.clock.MaxCycle()+1, "alpha", dec("1000"))
	assertKind(t, err, pkgerrors.InvalidArgument)

	pool, err := f.store.FindPool(ctx, huge, "alpha")
	require.NoError(t, err)
	assert.Nil(t, pool)

	_, err = f.svc.ClaimAt(ctx, claimant.ID.String(), huge, now)
	assertKind(t, err, pkgerrors.InvalidArgument)

	_, err = f.svc.Quote(ctx, claimant.ID.String(), huge)
	assertKind(t, err, pkgerrors.InvalidArgument)

	_, err = f.svc.ShowPools(ctx, huge, "")
	assertKind(t, err, pkgerrors.InvalidArgument)

	_, err = f.svc.CloseCycleAt(ctx, huge, now)
	assertKind(t, err, pkgerrors.InvalidArgument)
}

func TestFundPool_AcceptsMaxCycle(t *testing.T) {
	f := newFixture(t)
	f.seedAlpha()

	summary, err := f.svc.FundPool(context.Background(), f.clock.MaxCycle(), "alpha", dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, f.clock.MaxCycle(), summary.Cycle)
}

func TestClaim_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.participant("a", "tiny", domain.TierStandard, nil)
	b := f.participant("b", "tiny", domain.TierStandard, nil)

	_, err := f.svc.FundPool(ctx, 1, "tiny", dec("30"))
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, a.ID.String(), 1)
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, b.ID.String(), 1)
	assertKind(t, err, pkgerrors.InsufficientPoolFunds)

	pool, err := f.store.FindPool(ctx, 1, "tiny")
	require.NoError(t, err)
	assert.True(t, pool.Remaining.Equal(dec("10")))
	assert.Equal(t, 1, pool.ClaimsCount)
	assertConserved(t, f, 1, "tiny")
}

func TestClaim_CappedAtMaxPerPerson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	whale := f.participant("whale", "rich", domain.TierEndorsed, &domain.EngagementStats{
		Cycle: 0, Sent: 40, Received: 40, Counterparties: 30, LaborCount: 5, RemediationCount: 2,
	})

	_, err := f.svc.FundPool(ctx, 1, "rich", dec("1000000"))
	require.NoError(t, err)

	receipt, err := f.svc.Claim(ctx, whale.ID.String(), 1)
	require.NoError(t, err)
	assert.True(t, receipt.Claim.Amount.Equal(dec("500")))
	assertConserved(t, f, 1, "rich")
}

func TestClaim_RollsBackOnCommitFailure(t *testing.T) {
	f := newFixture(t)
	claimant, _, _ := f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	f.store.FailNextCommit(errors.New("disk full"))
	_, err = f.svc.Claim(ctx, claimant.ID.String(), 1)
	assertKind(t, err, pkgerrors.PersistenceFailure)

	pool, err := f.store.FindPool(ctx, 1, "alpha")
	require.NoError(t, err)
	assert.True(t, pool.Remaining.Equal(dec("1000")))
	assert.Equal(t, 0, pool.ClaimsCount)
	claims, err := f.store.ListClaims(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, claims)
	assert.True(t, f.store.Balance(claimant.ID).IsZero())

	receipt, err := f.svc.Claim(ctx, claimant.ID.String(), 1)
	require.NoError(t, err)
	assert.Equal(t, "268.00", receipt.Claim.Amount.StringFixed(2))
}

func TestClaim_ConcurrentClaimsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 40
	participants := make([]*domain.Participant, n)
	for i := range participants {
		participants[i] = f.participant(fmt.Sprintf("p%d", i), "busy", domain.TierStandard, &domain.EngagementStats{
			Cycle: 0, Sent: 3, Received: 2, Counterparties: 2,
		})
	}

	_, err := f.svc.FundPool(ctx, 1, "busy", dec("2000"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded = make(map[uuid.UUID]int)
		failures  = make(map[pkgerrors.Kind]int)
	)
	for _, p := range participants {
		for attempt := 0; attempt < 3; attempt++ {
			wg.Add(1)
			go func(p *domain.Participant) {
				defer wg.Done()
				_, err := f.svc.Claim(ctx, p.ID.String(), 1)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures[pkgerrors.KindOf(err)]++
					return
				}
				succeeded[p.ID]++
			}(p)
		}
	}
	wg.Wait()

	assert.Len(t, succeeded, n)
	for id, count := range succeeded {
		assert.Equal(t, 1, count, "participant %s claimed %d times", id, count)
	}
	assert.Equal(t, map[pkgerrors.Kind]int{pkgerrors.AlreadyClaimed: 2 * n}, failures)

	pool, err := f.store.FindPool(ctx, 1, "busy")
	require.NoError(t, err)
	assert.Equal(t, n, pool.ClaimsCount)
	claims, err := f.store.ListClaims(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, claims, n)

	total := decimal.Zero
	for _, p := range participants {
		bal := f.store.Balance(p.ID)
		assert.True(t, bal.GreaterThanOrEqual(dec("20")))
		assert.True(t, bal.LessThanOrEqual(dec("500")))
		total = total.Add(bal)
	}
	assert.True(t, total.Equal(pool.TotalDistributed))
	assertConserved(t, f, 1, "busy")
}

func TestCloseCycle_BeforeWindowEnd(t *testing.T) {
	f := newFixture(t)
	f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	_, end := f.clock.Window(1)
	_, err = f.svc.CloseCycleAt(ctx, 1, end)
	assertKind(t, err, pkgerrors.WindowNotYetClosed)

	// Also rejected when the cycle has no pools at all.
	_, err = f.svc.CloseCycleAt(ctx, 2, end)
	assertKind(t, err, pkgerrors.WindowNotYetClosed)

	pool, err := f.store.FindPool(ctx, 1, "alpha")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusActive, pool.Status)
	returns, err := f.store.TreasuryReturns(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, returns)
}

func TestCloseCycle_ReturnsRemainderToTreasury(t *testing.T) {
	f := newFixture(t)
	claimant, _, _ := f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)
	_, err = f.svc.FundPool(ctx, 1, "beta", dec("500"))
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, claimant.ID.String(), 1)
	require.NoError(t, err)

	_, end := f.clock.Window(1)
	f.now.Set(end.Add(time.Second))

	summary, err := f.svc.CloseCycle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PoolsClosed)
	assert.True(t, summary.TotalReturned.Equal(dec("1232")))
	assert.True(t, summary.TotalDistributed.Equal(dec("268")))
	assert.Equal(t, 1, summary.TotalClaims)

	beta, err := f.store.FindPool(ctx, 1, "beta")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusClosed, beta.Status)
	assert.True(t, beta.ReturnedToTreasury.Equal(dec("500")))
	require.NotNil(t, beta.ClosedAt)
	assertConserved(t, f, 1, "alpha")
	assertConserved(t, f, 1, "beta")
	returns, err := f.store.TreasuryReturns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, returns, 2)

	// Closing again touches nothing.
	again, err := f.svc.CloseCycle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, again.PoolsClosed)
	returns, err = f.store.TreasuryReturns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, returns, 2)

	// A closed pool accepts nothing even at an instant inside the window.
	_, err = f.svc.ClaimAt(ctx, claimant.ID.String(), 1, end)
	assertKind(t, err, pkgerrors.NoActivePool)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	claimant, _, _ := f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	q, err := f.svc.Quote(ctx, "ada", 1)
	require.NoError(t, err)
	assert.Equal(t, "268.00", q.Amount.StringFixed(2))
	assert.Equal(t, "248.00", q.VariableShare.StringFixed(2))
	assert.True(t, q.WindowOpen)
	assert.False(t, q.AlreadyClaimed)

	pool, err := f.store.FindPool(ctx, 1, "alpha")
	require.NoError(t, err)
	assert.True(t, pool.Remaining.Equal(dec("1000")), "quote must not mutate the pool")

	_, err = f.svc.Claim(ctx, claimant.ID.String(), 1)
	require.NoError(t, err)

	q, err = f.svc.Quote(ctx, claimant.ID.String(), 1)
	require.NoError(t, err)
	assert.True(t, q.AlreadyClaimed)
	require.NotNil(t, q.ClaimedAmount)
	assert.Equal(t, "268.00", q.ClaimedAmount.StringFixed(2))

	// The breakdown stays a live estimate against the reduced pool so that
	// weight, ramp, variable share and amount agree with one another.
	assert.Equal(t, "164.92", q.VariableShare.StringFixed(2))
	assert.Equal(t, "184.92", q.Amount.StringFixed(2))
	assert.True(t, q.Amount.Equal(q.Floor.Add(q.VariableShare)), "amount %s != floor %s + variable %s",
		q.Amount, q.Floor, q.VariableShare)
}

func TestQuote_BeforeClaimHasNoClaimedAmount(t *testing.T) {
	f := newFixture(t)
	f.seedAlpha()
	ctx := context.Background()

	_, err := f.svc.FundPool(ctx, 1, "alpha", dec("1000"))
	require.NoError(t, err)

	q, err := f.svc.Quote(ctx, "ada", 1)
	require.NoError(t, err)
	assert.Nil(t, q.ClaimedAmount)
	assert.True(t, q.Amount.Equal(q.Floor.Add(q.VariableShare)))
}

func TestShowPools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, region := range []string{"beta", "alpha"} {
		_, err := f.svc.FundPool(ctx, 1, region, dec("100"))
		require.NoError(t, err)
	}

	all, err := f.svc.ShowPools(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Region)
	assert.Equal(t, "beta", all[1].Region)

	one, err := f.svc.ShowPools(ctx, 1, "beta")
	require.NoError(t, err)
	require.Len(t, one, 1)

	none, err := f.svc.ShowPools(ctx, 2, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- collaborator failures ---

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) FindByID(ctx context.Context, id uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockDirectory) FindByDisplayName(ctx context.Context, name string) (*domain.Participant, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockDirectory) ListByRegion(ctx context.Context, region string, minTier domain.Tier) ([]*domain.Participant, error) {
	args := m.Called(ctx, region, minTier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

type MockStats struct {
	mock.Mock
}

func (m *MockStats) FindStats(ctx context.Context, participantID uuid.UUID, cyc int) (*domain.EngagementStats, error) {
	args := m.Called(ctx, participantID, cyc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EngagementStats), args.Error(1)
}

func TestCollaboratorErrorsSurfaceAsPersistenceFailure(t *testing.T) {
	store := memory.NewStore()
	dir := new(MockDirectory)
	stats := new(MockStats)
	clock := cycle.NewClock(epoch, cycleLength, 0.10)
	now := cycle.NewManualTime(epoch.Add(time.Hour))
	svc := distribution.NewService(store, dir, stats, nil, clock, now, nil, referenceParams(), logger.NewNop())
	ctx := context.Background()

	p := &domain.Participant{ID: uuid.New(), DisplayName: "x", Region: "alpha", Tier: domain.TierStandard}
	dir.On("ListByRegion", ctx, "alpha", domain.TierStandard).Return([]*domain.Participant{p}, nil)
	stats.On("FindStats", mock.Anything, p.ID, 0).Return(nil, errors.New("connection reset")).Once()

	_, err := svc.FundPool(ctx, 1, "alpha", dec("100"))
	assertKind(t, err, pkgerrors.PersistenceFailure)

	pool, err := store.FindPool(ctx, 1, "alpha")
	require.NoError(t, err)
	assert.Nil(t, pool)

	dir.On("FindByDisplayName", ctx, "x").Return(nil, errors.New("timeout"))
	_, err = svc.Claim(ctx, "x", 1)
	assertKind(t, err, pkgerrors.PersistenceFailure)

	dir.AssertExpectations(t)
	stats.AssertExpectations(t)
}
