package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"ubi/internal/domain"
)

// Seed is the on-disk shape of a memory store preload.
type Seed struct {
	Participants []*domain.Participant     `json:"participants"`
	Stats        []*domain.EngagementStats `json:"stats"`
}

// LoadSeed reads a JSON seed into the store. Participants without an ID get a
// fresh one.
func (s *Store) LoadSeed(r io.Reader) (int, error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	for i, p := range seed.Participants {
		if p == nil || p.Region == "" {
			return 0, fmt.Errorf("seed participant %d: region is required", i)
		}
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if err := s.AddParticipant(p); err != nil {
			return 0, fmt.Errorf("seed participant %d: %w", i, err)
		}
	}
	for i, st := range seed.Stats {
		if st == nil || st.ParticipantID == uuid.Nil || st.Cycle < 0 {
			return 0, fmt.Errorf("seed stats %d: participant_id and a non-negative cycle are required", i)
		}
		s.SetStats(st)
	}
	return len(seed.Participants), nil
}

// LoadSeedFile opens path and loads it with LoadSeed.
func (s *Store) LoadSeedFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return s.LoadSeed(f)
}
