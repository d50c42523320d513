package vote

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	DigestSize        = 32
	PublicOutputsSize = 2*DigestSize + 4

	// MaxProofDepth bounds the number of siblings accepted from the wire.
	MaxProofDepth = 64
)

// NullifierDomain prefixes the voter nullifier before hashing so nullifiers
// never collide with leaf commitments.
var NullifierDomain = []byte("nullifier")

type Digest [DigestSize]byte

// Less compares byte-lexicographically.
func (d Digest) Less(other Digest) bool {
	return bytes.Compare(d[:], other[:]) < 0
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hexutil.Encode(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest accepts hex with or without the 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return d, fmt.Errorf("%w: invalid digest hex: %v", ErrMalformedInput, err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("%w: digest must be %d bytes, got %d", ErrMalformedInput, DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("%w: digest must be %d bytes, got %d", ErrMalformedInput, DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// VoteInput is the private record consumed by one run.
type VoteInput struct {
	VoterSecret    Digest
	VoterNullifier Digest
	CandidateID    uint32
	// Siblings from the leaf level up to the root level.
	MerkleProof []Digest
	MerkleRoot  Digest
}

func (input *VoteInput) Depth() int {
	return len(input.MerkleProof)
}

// PublicOutputs is everything a verifier learns from a proof.
type PublicOutputs struct {
	Nullifier   Digest
	CandidateID uint32
	MerkleRoot  Digest
}
