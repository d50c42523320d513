package vote

import "crypto/sha256"

func NullifierOf(voterNullifier Digest) Digest {
	h := sha256.New()
	h.Write(NullifierDomain)
	h.Write(voterNullifier[:])
	var out Digest
	h.Sum(out[:0])
	return out
}

// Commit assumes eligibility has already been verified.
func Commit(input *VoteInput) PublicOutputs {
	return PublicOutputs{
		Nullifier:   NullifierOf(input.VoterNullifier),
		CandidateID: input.CandidateID,
		MerkleRoot:  input.MerkleRoot,
	}
}

// Execute runs the whole computation over one input. On error the returned
// outputs are the zero value and must not be used.
func Execute(input *VoteInput) (PublicOutputs, error) {
	if err := VerifyEligibility(input); err != nil {
		return PublicOutputs{}, err
	}
	return Commit(input), nil
}

// Run is Execute over the binary input contract, returning the 68-byte
// public output blob.
func Run(encoded []byte) ([]byte, error) {
	input, err := DecodeVoteInput(encoded)
	if err != nil {
		return nil, err
	}
	outputs, err := Execute(input)
	if err != nil {
		return nil, err
	}
	return outputs.MarshalBinary()
}
