package ballotbox

import (
	"context"
	"sync"

	"zkvote/vote-prover/vote"
)

type MemoryStore struct {
	mu      sync.RWMutex
	ballots map[vote.Digest]Ballot
	tally   map[uint32]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ballots: make(map[vote.Digest]Ballot),
		tally:   make(map[uint32]uint64),
	}
}

func (s *MemoryStore) RecordBallot(_ context.Context, ballot *Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ballots[ballot.Nullifier]; ok {
		return ErrNullifierUsed
	}
	s.ballots[ballot.Nullifier] = *ballot
	s.tally[ballot.CandidateID]++
	return nil
}

func (s *MemoryStore) NullifierUsed(_ context.Context, nullifier vote.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ballots[nullifier]
	return ok, nil
}

func (s *MemoryStore) Count(_ context.Context, candidateID uint32) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tally[candidateID], nil
}

func (s *MemoryStore) Tally(_ context.Context) (map[uint32]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint32]uint64, len(s.tally))
	for k, v := range s.tally {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
