package prover

import (
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
)

type CircuitType string

const (
	VoteCircuitType CircuitType = "vote"
)

type Proof struct {
	Proof groth16.Proof
}

// ProvingSystem holds the keys for one tree depth. The circuit is fixed-shape,
// so a depth 20 proof can only be produced by a depth 20 system.
type ProvingSystem struct {
	TreeDepth        uint32
	ProvingKey       groth16.ProvingKey
	VerifyingKey     groth16.VerifyingKey
	ConstraintSystem constraint.ConstraintSystem
}
