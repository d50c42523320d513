package prover

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkvote/vote-prover/vote"
)

func TestVoteParametersJSON(t *testing.T) {
	params, err := BuildTestParameters(2, 3, 2, 5)
	require.NoError(t, err)

	data, err := json.Marshal(params)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "vote", raw["circuitType"])
	assert.Equal(t, params.Input.VoterSecret.String(), raw["voterSecret"])
	assert.Len(t, raw["merkleProof"], 2)

	var decoded VoteParameters
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, params.Input, decoded.Input)
	assert.Equal(t, uint32(2), decoded.Depth())
}

func TestVoteParametersJSONMalformed(t *testing.T) {
	valid := `"0x0000000000000000000000000000000000000000000000000000000000000001"`
	testCases := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"short secret", `{"voterSecret":"0x01","voterNullifier":` + valid + `,"merkleProof":[],"merkleRoot":` + valid + `}`},
		{"missing nullifier", `{"voterSecret":` + valid + `,"merkleProof":[],"merkleRoot":` + valid + `}`},
		{"bad sibling", `{"voterSecret":` + valid + `,"voterNullifier":` + valid + `,"merkleProof":["0xzz"],"merkleRoot":` + valid + `}`},
		{"wrong circuit", `{"circuitType":"inclusion","voterSecret":` + valid + `,"voterNullifier":` + valid + `,"merkleProof":[],"merkleRoot":` + valid + `}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var params VoteParameters
			err := params.UnmarshalJSON([]byte(tc.body))
			require.ErrorIs(t, err, vote.ErrMalformedInput)

			// the syntax check in encoding/json runs before UnmarshalJSON
			require.Error(t, json.Unmarshal([]byte(tc.body), &params))
		})
	}
}

func TestParseProofRequestMeta(t *testing.T) {
	params, err := BuildTestParameters(3, 4, 0, 1)
	require.NoError(t, err)
	data, err := json.Marshal(params)
	require.NoError(t, err)

	meta, err := ParseProofRequestMeta(data)
	require.NoError(t, err)
	assert.Equal(t, VoteCircuitType, meta.CircuitType)
	assert.Equal(t, uint32(3), meta.TreeDepth)

	meta, err = ParseProofRequestMeta([]byte(`{"merkleProof":[]}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), meta.TreeDepth)

	_, err = ParseProofRequestMeta([]byte(`{"circuitType":"vote"}`))
	assert.Error(t, err)
	_, err = ParseProofRequestMeta([]byte(`{"circuitType":"combined","merkleProof":[]}`))
	assert.Error(t, err)
	_, err = ParseProofRequestMeta([]byte(`[]`))
	assert.Error(t, err)
}

func TestKeyFileNames(t *testing.T) {
	assert.Equal(t, "vote_20.key", KeyFileName(20))

	depth, err := DepthFromKeyFile("/keys/vote_20.key")
	require.NoError(t, err)
	assert.Equal(t, uint32(20), depth)

	for _, bad := range []string{"vote_.key", "vote_x.key", "inclusion_26_1.key", "vote_3.vkey"} {
		_, err := DepthFromKeyFile(bad)
		assert.Error(t, err, bad)
	}

	keys, err := GetKeys("/keys", []uint32{4, 20, 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"/keys/vote_4.key", "/keys/vote_20.key"}, keys)
}

func TestProveVoteIneligibleVoterGetsNoProof(t *testing.T) {
	params, err := BuildTestParameters(1, 2, 0, 3)
	require.NoError(t, err)
	params.Input.MerkleRoot[0] ^= 0xff

	// keys are never touched when the native run fails
	ps := &ProvingSystem{TreeDepth: 1}
	proof, err := ps.ProveVote(params)
	require.ErrorIs(t, err, vote.ErrEligibilityMismatch)
	assert.Nil(t, proof)

	ps = &ProvingSystem{TreeDepth: 2}
	_, err = ps.ProveVote(params)
	require.Error(t, err)
	assert.NotErrorIs(t, err, vote.ErrEligibilityMismatch)
}

func TestSelectProvingSystem(t *testing.T) {
	systems := []*ProvingSystem{{TreeDepth: 1}, {TreeDepth: 20}}
	ps, err := SelectProvingSystem(systems, 20)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), ps.TreeDepth)

	_, err = SelectProvingSystem(systems, 3)
	assert.Error(t, err)
}

func TestProveAndVerifyVote(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping groth16 setup in short mode")
	}

	const depth = 1
	ps, err := SetupVote(depth)
	require.NoError(t, err)

	params, err := BuildTestParameters(depth, 2, 1, 42)
	require.NoError(t, err)

	voteProof, err := ps.ProveVote(params)
	require.NoError(t, err)
	assert.Equal(t, vote.NullifierOf(params.Input.VoterNullifier), voteProof.Nullifier)
	assert.Equal(t, uint32(42), voteProof.CandidateID)
	assert.Equal(t, params.Input.MerkleRoot, voteProof.MerkleRoot)
	assert.Len(t, voteProof.PublicValues, vote.PublicOutputsSize)

	// the proof file round trips, commitments included
	data, err := json.Marshal(voteProof)
	require.NoError(t, err)
	var decoded VoteProof
	require.NoError(t, json.Unmarshal(data, &decoded))

	outputs, err := decoded.PublicOutputs()
	require.NoError(t, err)
	require.NoError(t, ps.VerifyVote(outputs, decoded.Proof))

	tampered := outputs
	tampered.CandidateID = 43
	assert.Error(t, ps.VerifyVote(tampered, decoded.Proof))

	tampered = outputs
	tampered.Nullifier[0] ^= 0x01
	assert.Error(t, ps.VerifyVote(tampered, decoded.Proof))

	// serialized proving system verifies the same proof
	dir := t.TempDir()
	keyPath := filepath.Join(dir, KeyFileName(depth))
	vkPath := filepath.Join(dir, "vote_1.vkey")
	require.NoError(t, WriteProvingSystem(ps, keyPath, vkPath))
	vkBytes, err := os.ReadFile(vkPath)
	require.NoError(t, err)
	assert.NotEmpty(t, vkBytes)

	systems, err := LoadKeys(dir, nil)
	require.NoError(t, err)
	require.Len(t, systems, 1)
	assert.Equal(t, uint32(depth), systems[0].TreeDepth)
	require.NoError(t, systems[0].VerifyVote(outputs, decoded.Proof))

	var buf bytes.Buffer
	_, err = ps.WriteTo(&buf)
	require.NoError(t, err)
	var reread ProvingSystem
	_, err = reread.UnsafeReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(depth), reread.TreeDepth)
}

func TestExtractLean(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping lean extraction in short mode")
	}
	lean, err := ExtractLean()
	require.NoError(t, err)
	assert.Contains(t, lean, "ZkVote")
}
