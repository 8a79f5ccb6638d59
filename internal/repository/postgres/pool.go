package postgres

import (
	"context"
	"database/sql"
	"errors"

	"ubi/internal/distribution"
	"ubi/internal/domain"
	pkgerrors "ubi/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	poolsCycleRegionKey  = "pools_cycle_region_key"
	claimsParticipantKey = "claims_participant_cycle_key"
)

const (
	poolColumns           = `id, cycle, region, remaining, original_amount, eligible_count, total_weight, claims_count, total_distributed, returned_to_treasury, status, version, created_at, updated_at, closed_at`
	claimColumns          = `id, participant_id, pool_id, cycle, region, amount, weight, ramp, claimed_at`
	treasuryReturnColumns = `id, pool_id, cycle, region, amount, returned_at`
)

// DistributionRepository implements distribution.Store on PostgreSQL. Pools
// are serialized with row locks; claims rely on the (participant, cycle)
// unique constraint as the final guard.
type DistributionRepository struct {
	db *sqlx.DB
}

func NewDistributionRepository(db *sqlx.DB) *DistributionRepository {
	return &DistributionRepository{db: db}
}

func (r *DistributionRepository) CreatePool(ctx context.Context, pool *domain.Pool) error {
	query := `
		INSERT INTO pools (` + poolColumns + `)
		VALUES (
			:id, :cycle, :region, :remaining, :original_amount, :eligible_count, :total_weight, :claims_count,
			:total_distributed, :returned_to_treasury, :status, :version, :created_at, :updated_at, :closed_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, pool)
	if err != nil {
		if constraintViolated(err, poolsCycleRegionKey) {
			return pkgerrors.ErrAlreadyFunded
		}
		return pkgerrors.Wrap(err, "failed to create pool")
	}
	return nil
}

func (r *DistributionRepository) FindPool(ctx context.Context, cycle int, region string) (*domain.Pool, error) {
	pool := &domain.Pool{}
	query := `SELECT ` + poolColumns + ` FROM pools WHERE cycle = $1 AND region = $2`
	err := r.db.GetContext(ctx, pool, query, cycle, region)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to find pool")
	}
	return pool, nil
}

func (r *DistributionRepository) ListPools(ctx context.Context, cycle int, region string) ([]*domain.Pool, error) {
	var pools []*domain.Pool
	query := `SELECT ` + poolColumns + ` FROM pools WHERE cycle = $1 AND ($2 = '' OR region = $2) ORDER BY region`
	if err := r.db.SelectContext(ctx, &pools, query, cycle, region); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list pools")
	}
	return pools, nil
}

func (r *DistributionRepository) FindClaim(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.Claim, error) {
	return findClaim(ctx, r.db, participantID, cycle)
}

// ListClaims lists the claims of a cycle in commit order.
func (r *DistributionRepository) ListClaims(ctx context.Context, cycle int) ([]*domain.Claim, error) {
	var out []*domain.Claim
	query := `SELECT ` + claimColumns + ` FROM claims WHERE cycle = $1 ORDER BY claimed_at, id`
	if err := r.db.SelectContext(ctx, &out, query, cycle); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list claims")
	}
	return out, nil
}

// TreasuryReturns lists the returns recorded for a cycle.
func (r *DistributionRepository) TreasuryReturns(ctx context.Context, cycle int) ([]*domain.TreasuryReturn, error) {
	var out []*domain.TreasuryReturn
	query := `SELECT ` + treasuryReturnColumns + ` FROM treasury_returns WHERE cycle = $1 ORDER BY region`
	if err := r.db.SelectContext(ctx, &out, query, cycle); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list treasury returns")
	}
	return out, nil
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// Tx are held until commit or rollback.
func (r *DistributionRepository) WithinTx(ctx context.Context, fn func(tx distribution.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if constraintViolated(err, claimsParticipantKey) {
			return pkgerrors.ErrAlreadyClaimed
		}
		return pkgerrors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func findClaim(ctx context.Context, q sqlx.QueryerContext, participantID uuid.UUID, cycle int) (*domain.Claim, error) {
	claim := &domain.Claim{}
	query := `SELECT ` + claimColumns + ` FROM claims WHERE participant_id = $1 AND cycle = $2`
	err := sqlx.GetContext(ctx, q, claim, query, participantID, cycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to find claim")
	}
	return claim, nil
}
