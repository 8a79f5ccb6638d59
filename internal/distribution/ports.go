package distribution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ubi/internal/domain"
)

// ParticipantDirectory resolves participants. Lookups of unknown participants
// return errors.ErrNotFound.
type ParticipantDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Participant, error)
	FindByDisplayName(ctx context.Context, name string) (*domain.Participant, error)
	ListByRegion(ctx context.Context, region string, minTier domain.Tier) ([]*domain.Participant, error)
}

// StatsStore returns a participant's engagement for a cycle, or nil when none
// was recorded.
type StatsStore interface {
	FindStats(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.EngagementStats, error)
}

// BalanceLedger credits a participant's account. The reference ties the
// entry to the claim that produced it.
type BalanceLedger interface {
	Credit(ctx context.Context, participant *domain.Participant, amount decimal.Decimal, reference uuid.UUID) error
}

// Tx is a unit of work against the store. Everything written through a Tx
// becomes visible together on commit or not at all.
type Tx interface {
	BalanceLedger

	// LockPool returns the pool for (cycle, region) and holds it exclusively
	// until the transaction ends. It returns nil when no pool exists.
	LockPool(ctx context.Context, cycle int, region string) (*domain.Pool, error)
	// LockActivePools locks every active pool of a cycle.
	LockActivePools(ctx context.Context, cycle int) ([]*domain.Pool, error)
	FindClaim(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.Claim, error)
	UpdatePool(ctx context.Context, pool *domain.Pool) error
	// InsertClaim returns errors.ErrAlreadyClaimed if (participant, cycle) exists.
	InsertClaim(ctx context.Context, claim *domain.Claim) error
	RecordTreasuryReturn(ctx context.Context, ret *domain.TreasuryReturn) error
}

// Store persists pools and claims.
type Store interface {
	// CreatePool returns errors.ErrAlreadyFunded if (cycle, region) has a pool.
	CreatePool(ctx context.Context, pool *domain.Pool) error
	FindPool(ctx context.Context, cycle int, region string) (*domain.Pool, error)
	// ListPools returns the pools of a cycle; an empty region means all regions.
	ListPools(ctx context.Context, cycle int, region string) ([]*domain.Pool, error)
	FindClaim(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.Claim, error)
	// WithinTx runs fn in a transaction, committing if fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Locker provides coarse mutual exclusion for funding and closing.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
