package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ubi/internal/domain"
	pkgerrors "ubi/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// txStore is the distribution.Tx bound to one database transaction.
type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) LockPool(ctx context.Context, cycle int, region string) (*domain.Pool, error) {
	pool := &domain.Pool{}
	query := `SELECT ` + poolColumns + ` FROM pools WHERE cycle = $1 AND region = $2 FOR UPDATE`
	err := t.tx.GetContext(ctx, pool, query, cycle, region)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to lock pool")
	}
	return pool, nil
}

func (t *txStore) LockActivePools(ctx context.Context, cycle int) ([]*domain.Pool, error) {
	var pools []*domain.Pool
	// ORDER BY keeps lock acquisition order stable across closers.
	query := `SELECT ` + poolColumns + ` FROM pools WHERE cycle = $1 AND status = $2 ORDER BY region FOR UPDATE`
	if err := t.tx.SelectContext(ctx, &pools, query, cycle, domain.PoolStatusActive); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to lock active pools")
	}
	return pools, nil
}

func (t *txStore) FindClaim(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.Claim, error) {
	return findClaim(ctx, t.tx, participantID, cycle)
}

// UpdatePool writes the pool back if nobody bumped its version since it was read.
func (t *txStore) UpdatePool(ctx context.Context, pool *domain.Pool) error {
	query := `
		UPDATE pools SET
			remaining = :remaining,
			claims_count = :claims_count,
			total_distributed = :total_distributed,
			returned_to_treasury = :returned_to_treasury,
			status = :status,
			updated_at = :updated_at,
			closed_at = :closed_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`
	result, err := t.tx.NamedExecContext(ctx, query, pool)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update pool")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update pool")
	}
	if rows == 0 {
		return fmt.Errorf("pool %s changed concurrently (version %d)", pool.ID, pool.Version)
	}
	pool.Version++
	return nil
}

func (t *txStore) InsertClaim(ctx context.Context, claim *domain.Claim) error {
	query := `
		INSERT INTO claims (` + claimColumns + `)
		VALUES (:id, :participant_id, :pool_id, :cycle, :region, :amount, :weight, :ramp, :claimed_at)
	`
	_, err := t.tx.NamedExecContext(ctx, query, claim)
	if err != nil {
		if constraintViolated(err, claimsParticipantKey) {
			return pkgerrors.ErrAlreadyClaimed
		}
		return pkgerrors.Wrap(err, "failed to insert claim")
	}
	return nil
}

func (t *txStore) Credit(ctx context.Context, participant *domain.Participant, amount decimal.Decimal, reference uuid.UUID) error {
	var balance decimal.Decimal
	err := t.tx.GetContext(ctx, &balance, `
		INSERT INTO balances (participant_id, amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (participant_id) DO UPDATE SET
			amount = balances.amount + EXCLUDED.amount,
			updated_at = NOW()
		RETURNING amount
	`, participant.ID, amount)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to credit balance")
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO balance_entries (id, participant_id, amount, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New(), participant.ID, amount, balance, reference)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to insert balance entry")
	}
	return nil
}

func (t *txStore) RecordTreasuryReturn(ctx context.Context, ret *domain.TreasuryReturn) error {
	query := `
		INSERT INTO treasury_returns (` + treasuryReturnColumns + `)
		VALUES (:id, :pool_id, :cycle, :region, :amount, :returned_at)
	`
	_, err := t.tx.NamedExecContext(ctx, query, ret)
	return pkgerrors.Wrap(err, "failed to record treasury return")
}
