package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"ubi/internal/domain"
	pkgerrors "ubi/pkg/errors"
)

// AddParticipant registers or replaces a participant. Non-empty display names
// are unique like the participants table; a name held by another ID is
// rejected.
func (s *Store) AddParticipant(p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.names[p.DisplayName]; ok && owner != p.ID {
		return pkgerrors.Ef(pkgerrors.InvalidArgument, "memory.AddParticipant",
			"display name %q is already taken by %s", p.DisplayName, owner)
	}
	if prev, ok := s.participants[p.ID]; ok && s.names[prev.DisplayName] == p.ID {
		delete(s.names, prev.DisplayName)
	}
	cp := *p
	s.participants[p.ID] = &cp
	if p.DisplayName != "" {
		s.names[p.DisplayName] = p.ID
	}
	return nil
}

// SetStats records engagement stats for a participant and cycle.
func (s *Store) SetStats(stats *domain.EngagementStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stats
	s.stats[statsKey{stats.ParticipantID, stats.Cycle}] = &cp
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) FindByDisplayName(ctx context.Context, name string) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.names[name]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *s.participants[id]
	return &cp, nil
}

func (s *Store) ListByRegion(ctx context.Context, region string, minTier domain.Tier) ([]*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Participant
	for _, p := range s.participants {
		if p.Region == region && p.Tier >= minTier {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) FindStats(ctx context.Context, participantID uuid.UUID, cycle int) (*domain.EngagementStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[statsKey{participantID, cycle}]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}
