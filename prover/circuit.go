package prover

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/sha2"
	"github.com/consensys/gnark/std/math/uints"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"

	"zkvote/vote-prover/vote"
)

// Digests are carried as 32 byte-valued variables, most significant first,
// matching the byte order sha256 produces.
type VoteCircuit struct {
	// public inputs
	Nullifier   []frontend.Variable `gnark:",public"`
	CandidateID frontend.Variable   `gnark:",public"`
	MerkleRoot  []frontend.Variable `gnark:",public"`

	// private inputs
	VoterSecret    []frontend.Variable   `gnark:",secret"`
	VoterNullifier []frontend.Variable   `gnark:",secret"`
	MerkleProof    [][]frontend.Variable `gnark:",secret"`

	Depth uint32
}

func (circuit *VoteCircuit) Define(api frontend.API) error {
	api.ToBinary(circuit.CandidateID, 32)

	leaf := abstractor.Call1(api, LeafHashGadget{
		Secret:    circuit.VoterSecret,
		Nullifier: circuit.VoterNullifier,
	})
	root := abstractor.Call1(api, MerkleRootGadget{
		Leaf:  leaf,
		Path:  circuit.MerkleProof,
		Depth: int(circuit.Depth),
	})
	for i := 0; i < vote.DigestSize; i++ {
		api.AssertIsEqual(root[i], circuit.MerkleRoot[i])
	}

	nullifier := abstractor.Call1(api, NullifierGadget{VoterNullifier: circuit.VoterNullifier})
	for i := 0; i < vote.DigestSize; i++ {
		api.AssertIsEqual(nullifier[i], circuit.Nullifier[i])
	}
	return nil
}

func newVoteCircuit(depth uint32) VoteCircuit {
	proof := make([][]frontend.Variable, depth)
	for i := range proof {
		proof[i] = make([]frontend.Variable, vote.DigestSize)
	}
	return VoteCircuit{
		Nullifier:      make([]frontend.Variable, vote.DigestSize),
		MerkleRoot:     make([]frontend.Variable, vote.DigestSize),
		VoterSecret:    make([]frontend.Variable, vote.DigestSize),
		VoterNullifier: make([]frontend.Variable, vote.DigestSize),
		MerkleProof:    proof,
		Depth:          depth,
	}
}

func digestVariables(d vote.Digest) []frontend.Variable {
	out := make([]frontend.Variable, vote.DigestSize)
	for i, b := range d {
		out[i] = b
	}
	return out
}

func voteAssignment(input *vote.VoteInput, outputs vote.PublicOutputs) VoteCircuit {
	proof := make([][]frontend.Variable, len(input.MerkleProof))
	for i, sibling := range input.MerkleProof {
		proof[i] = digestVariables(sibling)
	}
	return VoteCircuit{
		Nullifier:      digestVariables(outputs.Nullifier),
		CandidateID:    outputs.CandidateID,
		MerkleRoot:     digestVariables(outputs.MerkleRoot),
		VoterSecret:    digestVariables(input.VoterSecret),
		VoterNullifier: digestVariables(input.VoterNullifier),
		MerkleProof:    proof,
		Depth:          uint32(len(input.MerkleProof)),
	}
}

func publicAssignment(outputs vote.PublicOutputs) VoteCircuit {
	return VoteCircuit{
		Nullifier:   digestVariables(outputs.Nullifier),
		CandidateID: outputs.CandidateID,
		MerkleRoot:  digestVariables(outputs.MerkleRoot),
	}
}

// sha256Gadget hashes prefix || parts. Every variable byte passes through
// ByteValueOf, which range checks it.
func sha256Gadget(api frontend.API, prefix []byte, parts ...[]frontend.Variable) []frontend.Variable {
	uapi, err := uints.New[uints.U32](api)
	if err != nil {
		panic(err)
	}
	hasher, err := sha2.New(api)
	if err != nil {
		panic(err)
	}
	if len(prefix) > 0 {
		hasher.Write(uints.NewU8Array(prefix))
	}
	for _, part := range parts {
		in := make([]uints.U8, len(part))
		for i := range part {
			in[i] = uapi.ByteValueOf(part[i])
		}
		hasher.Write(in)
	}
	sum := hasher.Sum()
	out := make([]frontend.Variable, len(sum))
	for i := range sum {
		out[i] = sum[i].Val
	}
	return out
}

type LeafHashGadget struct {
	Secret    []frontend.Variable
	Nullifier []frontend.Variable
}

func (gadget LeafHashGadget) DefineGadget(api frontend.API) interface{} {
	return sha256Gadget(api, nil, gadget.Secret, gadget.Nullifier)
}

type NullifierGadget struct {
	VoterNullifier []frontend.Variable
}

func (gadget NullifierGadget) DefineGadget(api frontend.API) interface{} {
	return sha256Gadget(api, vote.NullifierDomain, gadget.VoterNullifier)
}

// ByteLessGadget returns 1 when A < B. Both must already be range checked
// to [0, 255]: B - A + 255 then lies in [0, 510] and bit 8 is set exactly
// when B > A.
type ByteLessGadget struct {
	A frontend.Variable
	B frontend.Variable
}

func (gadget ByteLessGadget) DefineGadget(api frontend.API) interface{} {
	diff := api.Add(api.Sub(gadget.B, gadget.A), 255)
	bits := api.ToBinary(diff, 9)
	return bits[8]
}

// DigestLessGadget compares two digests lexicographically. The loop runs
// from the last byte so that the first differing byte is the one that
// survives the select chain.
type DigestLessGadget struct {
	A []frontend.Variable
	B []frontend.Variable
}

func (gadget DigestLessGadget) DefineGadget(api frontend.API) interface{} {
	var less frontend.Variable = 0
	for i := len(gadget.A) - 1; i >= 0; i-- {
		lt := abstractor.Call(api, ByteLessGadget{A: gadget.A[i], B: gadget.B[i]})
		eq := api.IsZero(api.Sub(gadget.A[i], gadget.B[i]))
		less = api.Select(eq, less, lt)
	}
	return less
}

// OrderedPairGadget returns min || max of the two digests.
type OrderedPairGadget struct {
	Current []frontend.Variable
	Sibling []frontend.Variable
}

func (gadget OrderedPairGadget) DefineGadget(api frontend.API) interface{} {
	swap := abstractor.Call(api, DigestLessGadget{A: gadget.Sibling, B: gadget.Current})
	n := len(gadget.Current)
	out := make([]frontend.Variable, 2*n)
	for i := 0; i < n; i++ {
		out[i] = api.Select(swap, gadget.Sibling[i], gadget.Current[i])
		out[n+i] = api.Select(swap, gadget.Current[i], gadget.Sibling[i])
	}
	return out
}

type ParentHashGadget struct {
	Current []frontend.Variable
	Sibling []frontend.Variable
}

func (gadget ParentHashGadget) DefineGadget(api frontend.API) interface{} {
	ordered := abstractor.Call1(api, OrderedPairGadget{Current: gadget.Current, Sibling: gadget.Sibling})
	return sha256Gadget(api, nil, ordered)
}

type MerkleRootGadget struct {
	Leaf  []frontend.Variable
	Path  [][]frontend.Variable
	Depth int
}

func (gadget MerkleRootGadget) DefineGadget(api frontend.API) interface{} {
	current := gadget.Leaf
	for i := 0; i < gadget.Depth; i++ {
		current = abstractor.Call1(api, ParentHashGadget{Current: current, Sibling: gadget.Path[i]})
	}
	return current
}
