package ballotbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"

	"zkvote/vote-prover/vote"
)

var (
	nullifierPrefix = []byte("n/")
	tallyPrefix     = []byte("t/")
)

// PebbleStore keeps one cbor ballot per nullifier under n/ and one big
// endian u64 counter per candidate under t/.
type PebbleStore struct {
	// serialises check-and-set, pebble batches are not isolated
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, err
	}
	o := &pebble.Options{
		Levels: []pebble.LevelOptions{
			{
				Compression: pebble.SnappyCompression,
			},
		},
	}
	db, err := pebble.Open(path, o)
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func nullifierKey(n vote.Digest) []byte {
	return append(append([]byte{}, nullifierPrefix...), n[:]...)
}

func tallyKey(candidateID uint32) []byte {
	return binary.BigEndian.AppendUint32(append([]byte{}, tallyPrefix...), candidateID)
}

// get returns nil, nil when the key is absent.
func get(reader pebble.Reader, k []byte) ([]byte, error) {
	v, closer, err := reader.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// v is only valid until closer is closed
	v2 := make([]byte, len(v))
	copy(v2, v)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return v2, nil
}

func decodeCount(v []byte) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt tally value of %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func (s *PebbleStore) RecordBallot(_ context.Context, ballot *Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	existing, err := get(batch, nullifierKey(ballot.Nullifier))
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrNullifierUsed
	}

	raw, err := get(batch, tallyKey(ballot.CandidateID))
	if err != nil {
		return err
	}
	count, err := decodeCount(raw)
	if err != nil {
		return err
	}

	encoded, err := encodeBallot(ballot)
	if err != nil {
		return err
	}
	if err := batch.Set(nullifierKey(ballot.Nullifier), encoded, nil); err != nil {
		return err
	}
	if err := batch.Set(tallyKey(ballot.CandidateID), binary.BigEndian.AppendUint64(nil, count+1), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) NullifierUsed(_ context.Context, nullifier vote.Digest) (bool, error) {
	v, err := get(s.db, nullifierKey(nullifier))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Ballot returns the stored ballot for nullifier, or nil when none was cast.
func (s *PebbleStore) Ballot(nullifier vote.Digest) (*Ballot, error) {
	v, err := get(s.db, nullifierKey(nullifier))
	if err != nil || v == nil {
		return nil, err
	}
	return decodeBallot(v)
}

func (s *PebbleStore) Count(_ context.Context, candidateID uint32) (uint64, error) {
	v, err := get(s.db, tallyKey(candidateID))
	if err != nil {
		return 0, err
	}
	return decodeCount(v)
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) Tally(_ context.Context) (result map[uint32]uint64, err error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: tallyPrefix,
		UpperBound: keyUpperBound(tallyPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		errC := iter.Close()
		if err != nil {
			return
		}
		err = errC
	}()

	result = make(map[uint32]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()[len(tallyPrefix):]
		if len(key) != 4 {
			return nil, fmt.Errorf("corrupt tally key %x", iter.Key())
		}
		count, err := decodeCount(iter.Value())
		if err != nil {
			return nil, err
		}
		result[binary.BigEndian.Uint32(key)] = count
	}
	return result, iter.Error()
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
