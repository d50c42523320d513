// Package ballotbox records accepted votes. A nullifier can be recorded once;
// recording it also increments the tally of the ballot's candidate, and both
// happen atomically in every Store implementation.
package ballotbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"zkvote/vote-prover/config"
	"zkvote/vote-prover/vote"
)

var ErrNullifierUsed = errors.New("nullifier already used")

type Ballot struct {
	Nullifier   vote.Digest `cbor:"1,keyasint"`
	CandidateID uint32      `cbor:"2,keyasint"`
	MerkleRoot  vote.Digest `cbor:"3,keyasint"`
	CastAt      int64       `cbor:"4,keyasint"`
}

type Store interface {
	RecordBallot(ctx context.Context, ballot *Ballot) error
	NullifierUsed(ctx context.Context, nullifier vote.Digest) (bool, error)
	Count(ctx context.Context, candidateID uint32) (uint64, error)
	Tally(ctx context.Context) (map[uint32]uint64, error)
	Close() error
}

func encodeBallot(b *Ballot) ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode ballot: %w", err)
	}
	return em.Marshal(b)
}

func decodeBallot(data []byte) (*Ballot, error) {
	b := new(Ballot)
	if err := cbor.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decode ballot: %w", err)
	}
	return b, nil
}

// OpenStore picks Redis when enabled, Pebble when a database path is set and
// memory otherwise.
func OpenStore(cfg config.BallotConfig, redisURL string) (Store, error) {
	switch {
	case cfg.UseRedis:
		if redisURL == "" {
			return nil, fmt.Errorf("ballot box configured to use redis but no redis url is set")
		}
		return NewRedisStore(redisURL, DefaultRedisPrefix)
	case cfg.DBPath != "":
		return NewPebbleStore(cfg.DBPath)
	default:
		return NewMemoryStore(), nil
	}
}

func ParseRoots(roots []string) ([]vote.Digest, error) {
	parsed := make([]vote.Digest, 0, len(roots))
	for _, root := range roots {
		d, err := vote.ParseDigest(root)
		if err != nil {
			return nil, fmt.Errorf("eligible root %q: %w", root, err)
		}
		parsed = append(parsed, d)
	}
	return parsed, nil
}
