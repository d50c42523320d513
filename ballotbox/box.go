package ballotbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/vote"
)

var (
	ErrUnknownRoot  = errors.New("merkle root is not an eligible root")
	ErrInvalidProof = errors.New("invalid vote proof")
)

type Verifier interface {
	VerifyVote(treeDepth uint32, outputs vote.PublicOutputs, proof *prover.Proof) error
}

// ProvingSystems verifies with the system whose depth matches the proof.
type ProvingSystems []*prover.ProvingSystem

func (systems ProvingSystems) VerifyVote(treeDepth uint32, outputs vote.PublicOutputs, proof *prover.Proof) error {
	ps, err := prover.SelectProvingSystem(systems, treeDepth)
	if err != nil {
		return err
	}
	return ps.VerifyVote(outputs, proof)
}

type Receipt struct {
	Nullifier   vote.Digest `json:"nullifier"`
	CandidateID uint32      `json:"candidateId"`
	MerkleRoot  vote.Digest `json:"merkleRoot"`
	CastAt      int64       `json:"castAt"`
}

type Box struct {
	store         Store
	verifier      Verifier
	eligibleRoots map[vote.Digest]struct{}
	now           func() time.Time
}

// New returns a box accepting proofs against any of eligibleRoots, or
// against any root when the list is empty.
func New(store Store, verifier Verifier, eligibleRoots []vote.Digest) *Box {
	roots := make(map[vote.Digest]struct{}, len(eligibleRoots))
	for _, root := range eligibleRoots {
		roots[root] = struct{}{}
	}
	return &Box{
		store:         store,
		verifier:      verifier,
		eligibleRoots: roots,
		now:           time.Now,
	}
}

func (b *Box) Store() Store {
	return b.store
}

// Cast checks and records one vote. The public values blob is authoritative;
// the decoded fields next to it in the proof are ignored.
func (b *Box) Cast(ctx context.Context, vp *prover.VoteProof) (*Receipt, error) {
	outputs, err := vp.PublicOutputs()
	if err != nil {
		return nil, err
	}
	if len(b.eligibleRoots) > 0 {
		if _, ok := b.eligibleRoots[outputs.MerkleRoot]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRoot, outputs.MerkleRoot)
		}
	}

	used, err := b.store.NullifierUsed(ctx, outputs.Nullifier)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrNullifierUsed
	}

	if vp.Proof == nil || vp.Proof.Proof == nil {
		return nil, fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}
	if err := b.verifier.VerifyVote(vp.TreeDepth, outputs, vp.Proof); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	ballot := &Ballot{
		Nullifier:   outputs.Nullifier,
		CandidateID: outputs.CandidateID,
		MerkleRoot:  outputs.MerkleRoot,
		CastAt:      b.now().Unix(),
	}
	if err := b.store.RecordBallot(ctx, ballot); err != nil {
		return nil, err
	}

	logging.Logger().Info().
		Str("nullifier", outputs.Nullifier.String()).
		Uint32("candidateId", outputs.CandidateID).
		Msg("Ballot recorded")

	return &Receipt{
		Nullifier:   ballot.Nullifier,
		CandidateID: ballot.CandidateID,
		MerkleRoot:  ballot.MerkleRoot,
		CastAt:      ballot.CastAt,
	}, nil
}

func (b *Box) NullifierUsed(ctx context.Context, nullifier vote.Digest) (bool, error) {
	return b.store.NullifierUsed(ctx, nullifier)
}

func (b *Box) Tally(ctx context.Context) (map[uint32]uint64, error) {
	return b.store.Tally(ctx)
}

func (b *Box) Close() error {
	return b.store.Close()
}
