package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ubi/internal/domain"
	pkgerrors "ubi/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const participantColumns = `id, display_name, address, region, tier, created_at, updated_at`

// ParticipantRepository is the participant directory plus engagement stats
// and balances, which all hang off the participant row.
type ParticipantRepository struct {
	db *sqlx.DB
}

func NewParticipantRepository(db *sqlx.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	query := `
		INSERT INTO participants (` + participantColumns + `)
		VALUES (:id, :display_name, :address, :region, :tier, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, p)
	return pkgerrors.Wrap(err, "failed to create participant")
}

func (r *ParticipantRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Participant, error) {
	p := &domain.Participant{}
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
	err := r.db.GetContext(ctx, p, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to find participant by id")
	}
	return p, nil
}

func (r *ParticipantRepository) FindByDisplayName(ctx context.Context, name string) (*domain.Participant, error) {
	p := &domain.Participant{}
	query := `SELECT ` + participantColumns + ` FROM participants WHERE display_name = $1`
	err := r.db.GetContext(ctx, p, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to find participant by display name")
	}
	return p, nil
}

func (r *ParticipantRepository) ListByRegion(ctx context.Context, region string, minTier domain.Tier) ([]*domain.Participant, error) {
	var out []*domain.Participant
	query := `SELECT ` + participantColumns + ` FROM participants WHERE region = $1 AND tier >= $2 ORDER BY id`
	if err := r.db.SelectContext(ctx, &out, query, region, int(minTier)); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list participants by region")
	}
	return out, nil
}

// UpsertStats records or replaces a participant's activity for a cycle.
func (r *ParticipantRepository) UpsertStats(ctx context.Context, s *domain.EngagementStats) error {
	query := `
		INSERT INTO engagement_stats (participant_id, cycle, sent, received, counterparties, labor_count, remediation_count)
		VALUES (:participant_id, :cycle, :sent, :received, :counterparties, :labor_count, :remediation_count)
		ON CONFLICT (participant_id, cycle) DO UPDATE SET
			sent = EXCLUDED.sent,
			received = EXCLUDED.received,
			counterparties = EXCLUDED.counterparties,
			labor_count = EXCLUDED.labor_count,
			remediation_count = EXCLUDED.remediation_count
	`
	_, err := r.db.NamedExecContext(ctx, query, s)
	return pkgerrors.Wrap(err, "failed to upsert engagement stats")
}

func (r *ParticipantRepository) FindStats(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.EngagementStats, error) {
	s := &domain.EngagementStats{}
	query := `
		SELECT participant_id, cycle, sent, received, counterparties, labor_count, remediation_count
		FROM engagement_stats WHERE participant_id = $1 AND cycle = $2
	`
	err := r.db.GetContext(ctx, s, query, participantID, cycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to find engagement stats")
	}
	return s, nil
}

// Balance returns the participant's credited balance, zero if never credited.
func (r *ParticipantRepository) Balance(ctx context.Context, participantID uuid.UUID) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.db.GetContext(ctx, &amount, `SELECT amount FROM balances WHERE participant_id = $1`, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, pkgerrors.Wrap(err, "failed to read balance")
	}
	return amount, nil
}
