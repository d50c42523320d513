package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
	"github.com/reilabs/gnark-lean-extractor/v3/extractor"

	"zkvote/vote-prover/vote"
)

// OrderingCircuit pins the sorted-pair step: First || Second must be the
// ordered concatenation of Current and Sibling.
type OrderingCircuit struct {
	Current []frontend.Variable `gnark:",secret"`
	Sibling []frontend.Variable `gnark:",secret"`
	First   []frontend.Variable `gnark:",public"`
	Second  []frontend.Variable `gnark:",public"`
}

func (circuit *OrderingCircuit) Define(api frontend.API) error {
	ordered := abstractor.Call1(api, OrderedPairGadget{Current: circuit.Current, Sibling: circuit.Sibling})
	for i := range circuit.First {
		api.AssertIsEqual(ordered[i], circuit.First[i])
		api.AssertIsEqual(ordered[len(circuit.First)+i], circuit.Second[i])
	}
	return nil
}

func newOrderingCircuit() OrderingCircuit {
	return OrderingCircuit{
		Current: make([]frontend.Variable, vote.DigestSize),
		Sibling: make([]frontend.Variable, vote.DigestSize),
		First:   make([]frontend.Variable, vote.DigestSize),
		Second:  make([]frontend.Variable, vote.DigestSize),
	}
}

// ExtractLean extracts the digest ordering gadgets. The sha256 gadgets are
// left out since they are gnark's own.
func ExtractLean() (string, error) {
	circuit := newOrderingCircuit()
	return extractor.ExtractCircuits("ZkVote", ecc.BN254, &circuit)
}
