package vote

import (
	"encoding/binary"
	"fmt"
)

// Input contract layout:
//
//	[0..32)   voter secret
//	[32..64)  voter nullifier
//	[64..68)  candidate id, little endian
//	[68..76)  number of proof digests n, little endian u64
//	n * 32    proof digests, leaf level first
//	32        merkle root
const voteInputFixedSize = 2*DigestSize + 4 + 8 + DigestSize

func EncodeVoteInput(input *VoteInput) ([]byte, error) {
	if len(input.MerkleProof) > MaxProofDepth {
		return nil, fmt.Errorf("%w: proof depth %d exceeds %d", ErrMalformedInput, len(input.MerkleProof), MaxProofDepth)
	}
	buf := make([]byte, 0, voteInputFixedSize+len(input.MerkleProof)*DigestSize)
	buf = append(buf, input.VoterSecret[:]...)
	buf = append(buf, input.VoterNullifier[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, input.CandidateID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(input.MerkleProof)))
	for _, sibling := range input.MerkleProof {
		buf = append(buf, sibling[:]...)
	}
	buf = append(buf, input.MerkleRoot[:]...)
	return buf, nil
}

func DecodeVoteInput(data []byte) (*VoteInput, error) {
	if len(data) < voteInputFixedSize {
		return nil, fmt.Errorf("%w: input is %d bytes, need at least %d", ErrMalformedInput, len(data), voteInputFixedSize)
	}
	input := new(VoteInput)
	offset := 0
	copy(input.VoterSecret[:], data[offset:offset+DigestSize])
	offset += DigestSize
	copy(input.VoterNullifier[:], data[offset:offset+DigestSize])
	offset += DigestSize
	input.CandidateID = binary.LittleEndian.Uint32(data[offset : offset+4])
	offset += 4
	depth := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8

	if depth > MaxProofDepth {
		return nil, fmt.Errorf("%w: proof depth %d exceeds %d", ErrMalformedInput, depth, MaxProofDepth)
	}
	expected := voteInputFixedSize + int(depth)*DigestSize
	if len(data) != expected {
		return nil, fmt.Errorf("%w: input is %d bytes, expected %d for depth %d", ErrMalformedInput, len(data), expected, depth)
	}

	input.MerkleProof = make([]Digest, depth)
	for i := range input.MerkleProof {
		copy(input.MerkleProof[i][:], data[offset:offset+DigestSize])
		offset += DigestSize
	}
	copy(input.MerkleRoot[:], data[offset:offset+DigestSize])
	return input, nil
}

// MarshalBinary writes the 68-byte output layout verifiers parse at fixed
// offsets: nullifier, candidate id (little endian), merkle root.
func (outputs PublicOutputs) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, PublicOutputsSize)
	buf = append(buf, outputs.Nullifier[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, outputs.CandidateID)
	buf = append(buf, outputs.MerkleRoot[:]...)
	return buf, nil
}

func (outputs *PublicOutputs) UnmarshalBinary(data []byte) error {
	if len(data) != PublicOutputsSize {
		return fmt.Errorf("%w: public outputs must be %d bytes, got %d", ErrMalformedInput, PublicOutputsSize, len(data))
	}
	copy(outputs.Nullifier[:], data[0:DigestSize])
	outputs.CandidateID = binary.LittleEndian.Uint32(data[DigestSize : DigestSize+4])
	copy(outputs.MerkleRoot[:], data[DigestSize+4:PublicOutputsSize])
	return nil
}

func DecodePublicOutputs(data []byte) (PublicOutputs, error) {
	var outputs PublicOutputs
	err := outputs.UnmarshalBinary(data)
	return outputs, err
}
