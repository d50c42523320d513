package prover

import (
	"crypto/rand"
	"fmt"

	merkle_tree "zkvote/vote-prover/merkle-tree"
	"zkvote/vote-prover/vote"
)

func randomDigest() (vote.Digest, error) {
	var d vote.Digest
	_, err := rand.Read(d[:])
	return d, err
}

// BuildTestParameters registers numberOfVoters random voters in a tree of
// the given depth and returns the parameters for the voter at index.
func BuildTestParameters(depth int, numberOfVoters int, index int, candidateID uint32) (*VoteParameters, error) {
	if numberOfVoters < 1 || index < 0 || index >= numberOfVoters {
		return nil, fmt.Errorf("voter index %d out of range for %d voters", index, numberOfVoters)
	}

	var voter vote.VoteInput
	leaves := make([]vote.Digest, numberOfVoters)
	for i := range leaves {
		secret, err := randomDigest()
		if err != nil {
			return nil, err
		}
		nullifier, err := randomDigest()
		if err != nil {
			return nil, err
		}
		leaves[i] = vote.HashLeaf(secret, nullifier)
		if i == index {
			voter.VoterSecret = secret
			voter.VoterNullifier = nullifier
		}
	}

	tree, err := merkle_tree.BuildTree(depth, leaves)
	if err != nil {
		return nil, err
	}
	voter.CandidateID = candidateID
	voter.MerkleProof = tree.GetProofByIndex(index)
	voter.MerkleRoot = tree.RootValue()

	return &VoteParameters{Input: voter}, nil
}
