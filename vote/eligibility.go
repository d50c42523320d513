package vote

import (
	"crypto/sha256"
	"fmt"
)

// HashLeaf commits to a voter: sha256(secret || nullifier).
func HashLeaf(secret, nullifier Digest) Digest {
	h := sha256.New()
	h.Write(secret[:])
	h.Write(nullifier[:])
	var out Digest
	h.Sum(out[:0])
	return out
}

// HashPair hashes the smaller digest first, which makes the combine step
// independent of the sibling's side in the tree.
func HashPair(a, b Digest) Digest {
	if b.Less(a) {
		a, b = b, a
	}
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var out Digest
	h.Sum(out[:0])
	return out
}

func FoldPath(leaf Digest, proof []Digest) Digest {
	current := leaf
	for _, sibling := range proof {
		current = HashPair(current, sibling)
	}
	return current
}

func VerifyEligibility(input *VoteInput) error {
	leaf := HashLeaf(input.VoterSecret, input.VoterNullifier)
	root := FoldPath(leaf, input.MerkleProof)
	if root != input.MerkleRoot {
		return fmt.Errorf("%w: computed root %s, claimed root %s", ErrEligibilityMismatch, root, input.MerkleRoot)
	}
	return nil
}
