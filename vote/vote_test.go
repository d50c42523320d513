package vote

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeated(b byte) Digest {
	var d Digest
	for i := range d {
		d[i] = b
	}
	return d
}

func randomDigest(t *testing.T) Digest {
	var d Digest
	_, err := rand.Read(d[:])
	require.NoError(t, err)
	return d
}

func TestHashLeafIsSha256OfConcatenation(t *testing.T) {
	secret := repeated(0x00)
	nullifier := repeated(0x01)
	expected := sha256.Sum256(append(secret[:], nullifier[:]...))
	assert.Equal(t, Digest(expected), HashLeaf(secret, nullifier))
	assert.NotEqual(t, HashLeaf(secret, nullifier), HashLeaf(nullifier, secret))
}

func TestNullifierOfUsesDomainTag(t *testing.T) {
	voterNullifier := repeated(0x01)
	expected := sha256.Sum256(append([]byte("nullifier"), voterNullifier[:]...))
	assert.Equal(t, Digest(expected), NullifierOf(voterNullifier))
	// not the same as hashing the bare value
	assert.NotEqual(t, Digest(sha256.Sum256(voterNullifier[:])), NullifierOf(voterNullifier))
}

func TestFoldPathEmptyProof(t *testing.T) {
	for i := 0; i < 8; i++ {
		leaf := HashLeaf(randomDigest(t), randomDigest(t))
		assert.Equal(t, leaf, FoldPath(leaf, nil))
		assert.Equal(t, leaf, FoldPath(leaf, []Digest{}))
	}
}

func TestHashPairIsCommutative(t *testing.T) {
	for i := 0; i < 16; i++ {
		a, b := randomDigest(t), randomDigest(t)
		assert.Equal(t, HashPair(a, b), HashPair(b, a))
		assert.Equal(t, FoldPath(a, []Digest{b}), FoldPath(b, []Digest{a}))
	}
}

func TestHashPairOrdersSmallerFirst(t *testing.T) {
	small := repeated(0x01)
	large := repeated(0x01)
	large[31] = 0x02
	expected := sha256.Sum256(append(small[:], large[:]...))
	assert.Equal(t, Digest(expected), HashPair(large, small))
	assert.Equal(t, Digest(expected), HashPair(small, large))

	// first differing byte decides, not the tail
	a := repeated(0xff)
	a[0] = 0x00
	b := repeated(0x00)
	b[0] = 0x01
	assert.True(t, a.Less(b))
	expected = sha256.Sum256(append(a[:], b[:]...))
	assert.Equal(t, Digest(expected), HashPair(b, a))

	same := repeated(0x07)
	expected = sha256.Sum256(append(same[:], same[:]...))
	assert.Equal(t, Digest(expected), HashPair(same, same))
}

func TestExecuteSingleLeafScenario(t *testing.T) {
	input := &VoteInput{
		VoterSecret:    repeated(0x00),
		VoterNullifier: repeated(0x01),
		CandidateID:    7,
		MerkleProof:    []Digest{},
	}
	input.MerkleRoot = HashLeaf(input.VoterSecret, input.VoterNullifier)

	outputs, err := Execute(input)
	require.NoError(t, err)

	blob, err := outputs.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, blob, PublicOutputsSize)

	expectedNullifier := sha256.Sum256(append([]byte("nullifier"), input.VoterNullifier[:]...))
	assert.Equal(t, expectedNullifier[:], blob[0:32])
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(blob[32:36]))
	assert.Equal(t, input.MerkleRoot[:], blob[36:68])
}

func TestExecuteFlippedRootBitAborts(t *testing.T) {
	input := &VoteInput{
		VoterSecret:    repeated(0x00),
		VoterNullifier: repeated(0x01),
		CandidateID:    7,
	}
	input.MerkleRoot = HashLeaf(input.VoterSecret, input.VoterNullifier)
	input.MerkleRoot[5] ^= 0x10

	outputs, err := Execute(input)
	require.ErrorIs(t, err, ErrEligibilityMismatch)
	assert.Equal(t, PublicOutputs{}, outputs)

	encoded, err := EncodeVoteInput(input)
	require.NoError(t, err)
	blob, err := Run(encoded)
	require.ErrorIs(t, err, ErrEligibilityMismatch)
	assert.Nil(t, blob)
}

func TestExecuteWithPath(t *testing.T) {
	secret, voterNullifier := randomDigest(t), randomDigest(t)
	leaf := HashLeaf(secret, voterNullifier)

	// two level tree: ((leaf, s0), (s1a, s1b))
	s0 := randomDigest(t)
	s1 := HashPair(randomDigest(t), randomDigest(t))
	root := HashPair(HashPair(leaf, s0), s1)

	input := &VoteInput{
		VoterSecret:    secret,
		VoterNullifier: voterNullifier,
		CandidateID:    3,
		MerkleProof:    []Digest{s0, s1},
		MerkleRoot:     root,
	}
	outputs, err := Execute(input)
	require.NoError(t, err)
	assert.Equal(t, NullifierOf(voterNullifier), outputs.Nullifier)
	assert.Equal(t, uint32(3), outputs.CandidateID)
	assert.Equal(t, root, outputs.MerkleRoot)

	// siblings out of order no longer reproduce the root
	input.MerkleProof = []Digest{s1, s0}
	_, err = Execute(input)
	require.ErrorIs(t, err, ErrEligibilityMismatch)
}

func TestNullifierIndependentOfSecretAndCandidate(t *testing.T) {
	voterNullifier := randomDigest(t)
	first := &VoteInput{VoterSecret: randomDigest(t), VoterNullifier: voterNullifier, CandidateID: 1}
	first.MerkleRoot = HashLeaf(first.VoterSecret, first.VoterNullifier)
	second := &VoteInput{VoterSecret: randomDigest(t), VoterNullifier: voterNullifier, CandidateID: 2}
	second.MerkleRoot = HashLeaf(second.VoterSecret, second.VoterNullifier)

	out1, err := Execute(first)
	require.NoError(t, err)
	out2, err := Execute(second)
	require.NoError(t, err)
	assert.Equal(t, out1.Nullifier, out2.Nullifier)

	seen := make(map[Digest]struct{})
	for i := 0; i < 64; i++ {
		n := NullifierOf(randomDigest(t))
		_, dup := seen[n]
		require.False(t, dup)
		seen[n] = struct{}{}
	}
}

func TestCandidateIDIsNotRangeChecked(t *testing.T) {
	input := &VoteInput{VoterSecret: randomDigest(t), VoterNullifier: randomDigest(t), CandidateID: ^uint32(0)}
	input.MerkleRoot = HashLeaf(input.VoterSecret, input.VoterNullifier)
	outputs, err := Execute(input)
	require.NoError(t, err)
	assert.Equal(t, ^uint32(0), outputs.CandidateID)
}

func TestVoteInputCodec(t *testing.T) {
	input := &VoteInput{
		VoterSecret:    randomDigest(t),
		VoterNullifier: randomDigest(t),
		CandidateID:    0x01020304,
		MerkleProof:    []Digest{randomDigest(t), randomDigest(t), randomDigest(t)},
		MerkleRoot:     randomDigest(t),
	}
	encoded, err := EncodeVoteInput(input)
	require.NoError(t, err)
	require.Len(t, encoded, 32+32+4+8+3*32+32)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, encoded[64:68])
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(encoded[68:76]))

	decoded, err := DecodeVoteInput(encoded)
	require.NoError(t, err)
	assert.Equal(t, input, decoded)
}

func TestDecodeVoteInputMalformed(t *testing.T) {
	input := &VoteInput{MerkleProof: []Digest{repeated(1)}}
	encoded, err := EncodeVoteInput(input)
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", encoded[:40]},
		{"missing root byte", encoded[:len(encoded)-1]},
		{"trailing byte", append(append([]byte{}, encoded...), 0)},
		{"digest not a multiple of 32", append(append([]byte{}, encoded...), make([]byte, 16)...)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeVoteInput(tc.data)
			require.ErrorIs(t, err, ErrMalformedInput)
		})
	}

	tooDeep := append([]byte{}, encoded...)
	binary.LittleEndian.PutUint64(tooDeep[68:76], MaxProofDepth+1)
	_, err = DecodeVoteInput(tooDeep)
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = EncodeVoteInput(&VoteInput{MerkleProof: make([]Digest, MaxProofDepth+1)})
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodePublicOutputs(t *testing.T) {
	outputs := PublicOutputs{Nullifier: randomDigest(t), CandidateID: 42, MerkleRoot: randomDigest(t)}
	blob, err := outputs.MarshalBinary()
	require.NoError(t, err)

	decoded, err := DecodePublicOutputs(blob)
	require.NoError(t, err)
	assert.Equal(t, outputs, decoded)

	_, err = DecodePublicOutputs(blob[:67])
	require.ErrorIs(t, err, ErrMalformedInput)
	_, err = DecodePublicOutputs(append(blob, 0))
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestParseDigest(t *testing.T) {
	d := randomDigest(t)
	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	parsed, err = ParseDigest(d.String()[2:])
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	for _, bad := range []string{"", "0x", "0x1234", "zz", d.String() + "00"} {
		_, err := ParseDigest(bad)
		require.ErrorIs(t, err, ErrMalformedInput, bad)
	}
}
