package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is the unit of account the engine distributes in.
type Currency string

// Tier is a participant's verification tier. Tiers are ordered; a higher value
// means a stronger verification.
type Tier int

const (
	TierUntrusted Tier = iota
	TierGuarded
	TierStandard
	TierResident
	TierEndorsed
)

var tierNames = map[Tier]string{
	TierUntrusted: "untrusted",
	TierGuarded:   "guarded",
	TierStandard:  "standard",
	TierResident:  "resident",
	TierEndorsed:  "endorsed",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Eligible reports whether the tier may receive distributions. The two lowest
// tiers are never eligible.
func (t Tier) Eligible() bool {
	return t >= TierStandard
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier maps a tier name to its Tier value. "minor" is accepted as an alias
// for the guarded tier and "verified" for the resident tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "untrusted":
		return TierUntrusted, nil
	case "guarded", "minor":
		return TierGuarded, nil
	case "standard":
		return TierStandard, nil
	case "resident", "verified":
		return TierResident, nil
	case "endorsed":
		return TierEndorsed, nil
	}
	return TierUntrusted, fmt.Errorf("unknown verification tier %q", s)
}

// Participant is an identified member of the population.
type Participant struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Address     string    `json:"address" db:"address"`
	Region      string    `json:"region" db:"region"`
	Tier        Tier      `json:"tier" db:"tier"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// EngagementStats is a participant's recorded activity for one cycle.
type EngagementStats struct {
	ParticipantID    uuid.UUID `json:"participant_id" db:"participant_id"`
	Cycle            int       `json:"cycle" db:"cycle"`
	Sent             int       `json:"sent" db:"sent"`
	Received         int       `json:"received" db:"received"`
	Counterparties   int       `json:"counterparties" db:"counterparties"`
	LaborCount       int       `json:"labor_count" db:"labor_count"`
	RemediationCount int       `json:"remediation_count" db:"remediation_count"`
}

// TxTotal is the number of transactions sent and received.
func (s EngagementStats) TxTotal() int {
	return s.Sent + s.Received
}

type PoolStatus string

const (
	PoolStatusActive PoolStatus = "active"
	PoolStatusClosed PoolStatus = "closed"
)

// Pool is the funded allocation for one (cycle, region) pair.
type Pool struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	Cycle              int             `json:"cycle" db:"cycle"`
	Region             string          `json:"region" db:"region"`
	Remaining          decimal.Decimal `json:"remaining" db:"remaining"`
	OriginalAmount     decimal.Decimal `json:"original_amount" db:"original_amount"`
	EligibleCount      int             `json:"eligible_count" db:"eligible_count"`
	TotalWeight        int64           `json:"total_weight" db:"total_weight"`
	ClaimsCount        int             `json:"claims_count" db:"claims_count"`
	TotalDistributed   decimal.Decimal `json:"total_distributed" db:"total_distributed"`
	ReturnedToTreasury decimal.Decimal `json:"returned_to_treasury" db:"returned_to_treasury"`
	Status             PoolStatus      `json:"status" db:"status"`
	Version            int64           `json:"version" db:"version"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// Balanced reports whether originalAmount - remaining == totalDistributed.
func (p *Pool) Balanced() bool {
	return p.OriginalAmount.Sub(p.Remaining).Equal(p.TotalDistributed)
}

func (p *Pool) Active() bool {
	return p.Status == PoolStatusActive
}

func (p *Pool) Summary() PoolSummary {
	return PoolSummary{
		ID:                 p.ID,
		Cycle:              p.Cycle,
		Region:             p.Region,
		Status:             p.Status,
		OriginalAmount:     p.OriginalAmount,
		Remaining:          p.Remaining,
		TotalDistributed:   p.TotalDistributed,
		ReturnedToTreasury: p.ReturnedToTreasury,
		EligibleCount:      p.EligibleCount,
		TotalWeight:        p.TotalWeight,
		ClaimsCount:        p.ClaimsCount,
	}
}

// PoolSummary is the read view of a pool returned to callers.
type PoolSummary struct {
	ID                 uuid.UUID       `json:"id"`
	Cycle              int             `json:"cycle"`
	Region             string          `json:"region"`
	Status             PoolStatus      `json:"status"`
	OriginalAmount     decimal.Decimal `json:"original_amount"`
	Remaining          decimal.Decimal `json:"remaining"`
	TotalDistributed   decimal.Decimal `json:"total_distributed"`
	ReturnedToTreasury decimal.Decimal `json:"returned_to_treasury"`
	EligibleCount      int             `json:"eligible_count"`
	TotalWeight        int64           `json:"total_weight"`
	ClaimsCount        int             `json:"claims_count"`
}

// Claim is one participant's committed entitlement for a cycle.
type Claim struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	ParticipantID uuid.UUID       `json:"participant_id" db:"participant_id"`
	PoolID        uuid.UUID       `json:"pool_id" db:"pool_id"`
	Cycle         int             `json:"cycle" db:"cycle"`
	Region        string          `json:"region" db:"region"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Weight        int64           `json:"weight" db:"weight"`
	Ramp          int             `json:"ramp" db:"ramp"`
	ClaimedAt     time.Time       `json:"claimed_at" db:"claimed_at"`
}

// ClaimReceipt is returned to the caller after a successful claim.
type ClaimReceipt struct {
	Claim         *Claim          `json:"claim"`
	Currency      Currency        `json:"currency"`
	PoolRemaining decimal.Decimal `json:"pool_remaining"`
}

// Quote is a read-only estimate of what a claim would pay right now.
type Quote struct {
	ParticipantID  uuid.UUID       `json:"participant_id"`
	Cycle          int             `json:"cycle"`
	Region         string          `json:"region"`
	Floor          decimal.Decimal `json:"floor"`
	Weight         int64           `json:"weight"`
	Ramp           int             `json:"ramp"`
	VariableShare  decimal.Decimal `json:"variable_share"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       Currency        `json:"currency"`
	AlreadyClaimed bool            `json:"already_claimed"`
	// ClaimedAmount is the committed claim when AlreadyClaimed is set. The
	// other amounts always describe the live pool.
	ClaimedAmount *decimal.Decimal `json:"claimed_amount,omitempty"`
	WindowOpen    bool             `json:"window_open"`
}

// CloseSummary aggregates the pools closed by one closeCycle call.
type CloseSummary struct {
	Cycle            int             `json:"cycle"`
	PoolsClosed      int             `json:"pools_closed"`
	TotalReturned    decimal.Decimal `json:"total_returned"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	TotalClaims      int             `json:"total_claims"`
}

// CycleInfo describes a cycle's claim window relative to a point in time.
type CycleInfo struct {
	Cycle       int       `json:"cycle"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	IsOpen      bool      `json:"is_open"`
}

// TreasuryReturn records unclaimed funds handed back when a pool closes.
type TreasuryReturn struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	PoolID     uuid.UUID       `json:"pool_id" db:"pool_id"`
	Cycle      int             `json:"cycle" db:"cycle"`
	Region     string          `json:"region" db:"region"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	ReturnedAt time.Time       `json:"returned_at" db:"returned_at"`
}
