// Package domain re-exports core domain types so internal code can import
// `ubi/internal/domain` while using definitions from `ubi/pkg/domain`.
package domain

import pkg "ubi/pkg/domain"

type Currency = pkg.Currency

type Tier = pkg.Tier

type Participant = pkg.Participant

type EngagementStats = pkg.EngagementStats

type Pool = pkg.Pool

type PoolStatus = pkg.PoolStatus

type PoolSummary = pkg.PoolSummary

type Claim = pkg.Claim

type ClaimReceipt = pkg.ClaimReceipt

type Quote = pkg.Quote

type CloseSummary = pkg.CloseSummary

type CycleInfo = pkg.CycleInfo

type TreasuryReturn = pkg.TreasuryReturn

// Re-exported verification tiers.
const (
	TierUntrusted = pkg.TierUntrusted
	TierGuarded   = pkg.TierGuarded
	TierStandard  = pkg.TierStandard
	TierResident  = pkg.TierResident
	TierEndorsed  = pkg.TierEndorsed
)

// Re-exported pool statuses.
const (
	PoolStatusActive = pkg.PoolStatusActive
	PoolStatusClosed = pkg.PoolStatusClosed
)

var ParseTier = pkg.ParseTier
