package ballotbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	qt "github.com/frankban/quicktest"

	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/vote"
)

type fakeVerifier struct {
	calls int
	err   error
}

func (v *fakeVerifier) VerifyVote(_ uint32, _ vote.PublicOutputs, _ *prover.Proof) error {
	v.calls++
	return v.err
}

func newVoteProof(c *qt.C, outputs vote.PublicOutputs) *prover.VoteProof {
	vp, err := prover.NewVoteProof(&prover.Proof{Proof: groth16.NewProof(ecc.BN254)}, outputs, 1)
	c.Assert(err, qt.IsNil)
	return vp
}

func TestCastRecordsOnce(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	root := randomDigest(c)
	verifier := &fakeVerifier{}
	box := New(NewMemoryStore(), verifier, []vote.Digest{root})
	box.now = func() time.Time { return time.Unix(1700000000, 0) }

	outputs := vote.PublicOutputs{Nullifier: randomDigest(c), CandidateID: 4, MerkleRoot: root}
	receipt, err := box.Cast(ctx, newVoteProof(c, outputs))
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.Nullifier, qt.Equals, outputs.Nullifier)
	c.Assert(receipt.CandidateID, qt.Equals, uint32(4))
	c.Assert(receipt.CastAt, qt.Equals, int64(1700000000))

	_, err = box.Cast(ctx, newVoteProof(c, outputs))
	c.Assert(err, qt.ErrorIs, ErrNullifierUsed)
	// the duplicate is rejected before verification
	c.Assert(verifier.calls, qt.Equals, 1)

	tally, err := box.Tally(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(tally, qt.DeepEquals, map[uint32]uint64{4: 1})
}

func TestCastUsesPublicValues(t *testing.T) {
	c := qt.New(t)
	box := New(NewMemoryStore(), &fakeVerifier{}, nil)

	outputs := vote.PublicOutputs{Nullifier: randomDigest(c), CandidateID: 2, MerkleRoot: randomDigest(c)}
	vp := newVoteProof(c, outputs)
	// informational fields disagree with the blob
	vp.CandidateID = 99
	vp.Nullifier = randomDigest(c)

	receipt, err := box.Cast(context.Background(), vp)
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.CandidateID, qt.Equals, uint32(2))
	c.Assert(receipt.Nullifier, qt.Equals, outputs.Nullifier)
}

func TestCastRejections(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	root := randomDigest(c)

	t.Run("unknown root", func(t *testing.T) {
		c := qt.New(t)
		verifier := &fakeVerifier{}
		box := New(NewMemoryStore(), verifier, []vote.Digest{root})
		outputs := vote.PublicOutputs{Nullifier: randomDigest(c), MerkleRoot: randomDigest(c)}
		_, err := box.Cast(ctx, newVoteProof(c, outputs))
		c.Assert(err, qt.ErrorIs, ErrUnknownRoot)
		c.Assert(verifier.calls, qt.Equals, 0)
	})

	t.Run("invalid proof", func(t *testing.T) {
		c := qt.New(t)
		store := NewMemoryStore()
		box := New(store, &fakeVerifier{err: errors.New("pairing check failed")}, nil)
		outputs := vote.PublicOutputs{Nullifier: randomDigest(c), MerkleRoot: root}
		_, err := box.Cast(ctx, newVoteProof(c, outputs))
		c.Assert(err, qt.ErrorIs, ErrInvalidProof)
		used, err := store.NullifierUsed(ctx, outputs.Nullifier)
		c.Assert(err, qt.IsNil)
		c.Assert(used, qt.IsFalse)
	})

	t.Run("missing proof", func(t *testing.T) {
		c := qt.New(t)
		box := New(NewMemoryStore(), &fakeVerifier{}, nil)
		vp := newVoteProof(c, vote.PublicOutputs{Nullifier: randomDigest(c)})
		vp.Proof = nil
		_, err := box.Cast(ctx, vp)
		c.Assert(err, qt.ErrorIs, ErrInvalidProof)
	})

	t.Run("short public values", func(t *testing.T) {
		c := qt.New(t)
		box := New(NewMemoryStore(), &fakeVerifier{}, nil)
		vp := newVoteProof(c, vote.PublicOutputs{Nullifier: randomDigest(c)})
		vp.PublicValues = vp.PublicValues[:60]
		_, err := box.Cast(ctx, vp)
		c.Assert(err, qt.ErrorIs, vote.ErrMalformedInput)
	})
}

func TestProvingSystemsSelectsByDepth(t *testing.T) {
	c := qt.New(t)
	systems := ProvingSystems{{TreeDepth: 2}}
	err := systems.VerifyVote(3, vote.PublicOutputs{}, &prover.Proof{})
	c.Assert(err, qt.ErrorMatches, "no proving system for tree depth 3")
}

func TestParseRoots(t *testing.T) {
	c := qt.New(t)
	root := randomDigest(c)
	roots, err := ParseRoots([]string{root.String()})
	c.Assert(err, qt.IsNil)
	c.Assert(roots, qt.DeepEquals, []vote.Digest{root})

	_, err = ParseRoots([]string{"0x1234"})
	c.Assert(err, qt.ErrorIs, vote.ErrMalformedInput)
}
