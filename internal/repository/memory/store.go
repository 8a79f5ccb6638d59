// Package memory is an in-process implementation of the distribution store,
// participant directory and stats store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ubi/internal/distribution"
	"ubi/internal/domain"
	pkgerrors "ubi/pkg/errors"
)

type poolKey struct {
	cycle  int
	region string
}

func (k poolKey) lockName() string {
	return fmt.Sprintf("pool:%d:%s", k.cycle, k.region)
}

type claimKey struct {
	participant uuid.UUID
	cycle       int
}

type statsKey struct {
	participant uuid.UUID
	cycle       int
}

// BalanceEntry is one credit applied to a participant balance.
type BalanceEntry struct {
	ParticipantID uuid.UUID
	Amount        decimal.Decimal
	Reference     uuid.UUID
}

// Store keeps everything in maps. Pool rows are locked individually for the
// duration of a transaction and writes are staged until commit.
type Store struct {
	mu           sync.RWMutex
	pools        map[poolKey]*domain.Pool
	claims       map[claimKey]*domain.Claim
	balances     map[uuid.UUID]decimal.Decimal
	entries      []BalanceEntry
	returns      []domain.TreasuryReturn
	participants map[uuid.UUID]*domain.Participant
	names        map[string]uuid.UUID
	stats        map[statsKey]*domain.EngagementStats

	poolLocks  *distribution.LocalLocker
	failCommit error
}

func NewStore() *Store {
	return &Store{
		pools:        make(map[poolKey]*domain.Pool),
		claims:       make(map[claimKey]*domain.Claim),
		balances:     make(map[uuid.UUID]decimal.Decimal),
		participants: make(map[uuid.UUID]*domain.Participant),
		names:        make(map[string]uuid.UUID),
		stats:        make(map[statsKey]*domain.EngagementStats),
		poolLocks:    distribution.NewLocalLocker(),
	}
}

// FailNextCommit makes the next transaction commit fail with err and roll back.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.failCommit = err
	s.mu.Unlock()
}

func (s *Store) CreatePool(ctx context.Context, pool *domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := poolKey{pool.Cycle, pool.Region}
	if _, ok := s.pools[key]; ok {
		return pkgerrors.ErrAlreadyFunded
	}
	cp := *pool
	s.pools[key] = &cp
	return nil
}

func (s *Store) FindPool(ctx context.Context, cycle int, region string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[poolKey{cycle, region}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPools(ctx context.Context, cycle int, region string) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Pool
	for k, p := range s.pools {
		if k.cycle != cycle || (region != "" && k.region != region) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out, nil
}

func (s *Store) FindClaim(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[claimKey{participantID, cycle}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// Balance returns the credited balance of a participant.
func (s *Store) Balance(participantID uuid.UUID) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[participantID]
}

// ListClaims returns the committed claims of a cycle ordered by claim time.
func (s *Store) ListClaims(ctx context.Context, cycle int) ([]*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Claim
	for k, c := range s.claims {
		if k.cycle == cycle {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(out[j].ClaimedAt) })
	return out, nil
}

func (s *Store) TreasuryReturns(ctx context.Context, cycle int) ([]*domain.TreasuryReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TreasuryReturn
	for i := range s.returns {
		if s.returns[i].Cycle == cycle {
			cp := s.returns[i]
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out, nil
}

func (s *Store) BalanceEntries() []BalanceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]BalanceEntry(nil), s.entries...)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx distribution.Tx) error) error {
	t := &tx{
		store: s,
		held:  make(map[string]func()),
		pools: make(map[poolKey]*domain.Pool),
	}
	// Locks are released only after commit so the next holder sees our writes.
	defer t.releaseAll()

	if err := fn(t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		return pkgerrors.E(pkgerrors.PersistenceFailure, "memory.commit", err)
	}
	for _, c := range t.claims {
		if _, dup := s.claims[claimKey{c.ParticipantID, c.Cycle}]; dup {
			return pkgerrors.ErrAlreadyClaimed
		}
	}

	for k, p := range t.pools {
		s.pools[k] = p
	}
	for _, c := range t.claims {
		s.claims[claimKey{c.ParticipantID, c.Cycle}] = c
	}
	for _, e := range t.credits {
		s.balances[e.ParticipantID] = s.balances[e.ParticipantID].Add(e.Amount)
		s.entries = append(s.entries, e)
	}
	s.returns = append(s.returns, t.returns...)
	return nil
}

type tx struct {
	store   *Store
	held    map[string]func()
	pools   map[poolKey]*domain.Pool
	claims  []*domain.Claim
	credits []BalanceEntry
	returns []domain.TreasuryReturn
}

func (t *tx) lock(ctx context.Context, key poolKey) error {
	name := key.lockName()
	if _, ok := t.held[name]; ok {
		return nil
	}
	release, err := t.store.poolLocks.Acquire(ctx, name, 0)
	if err != nil {
		return err
	}
	t.held[name] = release
	return nil
}

func (t *tx) releaseAll() {
	for _, release := range t.held {
		release()
	}
}

func (t *tx) current(key poolKey) *domain.Pool {
	if p, ok := t.pools[key]; ok {
		cp := *p
		return &cp
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	p, ok := t.store.pools[key]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (t *tx) LockPool(ctx context.Context, cycle int, region string) (*domain.Pool, error) {
	key := poolKey{cycle, region}
	if err := t.lock(ctx, key); err != nil {
		return nil, err
	}
	return t.current(key), nil
}

func (t *tx) LockActivePools(ctx context.Context, cycle int) ([]*domain.Pool, error) {
	t.store.mu.RLock()
	var keys []poolKey
	for k, p := range t.store.pools {
		if k.cycle == cycle && p.Active() {
			keys = append(keys, k)
		}
	}
	t.store.mu.RUnlock()

	// Deterministic order keeps concurrent closers from deadlocking.
	sort.Slice(keys, func(i, j int) bool { return keys[i].region < keys[j].region })

	var out []*domain.Pool
	for _, k := range keys {
		if err := t.lock(ctx, k); err != nil {
			return nil, err
		}
		if p := t.current(k); p != nil && p.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *tx) FindClaim(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.Claim, error) {
	for _, c := range t.claims {
		if c.ParticipantID == participantID && c.Cycle == cycle {
			cp := *c
			return &cp, nil
		}
	}
	return t.store.FindClaim(ctx, participantID, cycle)
}

func (t *tx) UpdatePool(ctx context.Context, pool *domain.Pool) error {
	key := poolKey{pool.Cycle, pool.Region}
	if _, ok := t.held[key.lockName()]; !ok {
		return fmt.Errorf("pool %d/%s updated without lock", pool.Cycle, pool.Region)
	}
	cp := *pool
	cp.Version++
	pool.Version = cp.Version
	t.pools[key] = &cp
	return nil
}

func (t *tx) InsertClaim(ctx context.Context, claim *domain.Claim) error {
	existing, err := t.FindClaim(ctx, claim.ParticipantID, claim.Cycle)
	if err != nil {
		return err
	}
	if existing != nil {
		return pkgerrors.ErrAlreadyClaimed
	}
	cp := *claim
	t.claims = append(t.claims, &cp)
	return nil
}

func (t *tx) Credit(ctx context.Context, participant *domain.Participant, amount decimal.Decimal, reference uuid.UUID) error {
	t.credits = append(t.credits, BalanceEntry{
		ParticipantID: participant.ID,
		Amount:        amount,
		Reference:     reference,
	})
	return nil
}

func (t *tx) RecordTreasuryReturn(ctx context.Context, ret *domain.TreasuryReturn) error {
	t.returns = append(t.returns, *ret)
	return nil
}
