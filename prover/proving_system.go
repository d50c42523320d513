package prover

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/vote"
)

func R1CSVote(depth uint32) (constraint.ConstraintSystem, error) {
	if depth > vote.MaxProofDepth {
		return nil, fmt.Errorf("tree depth %d exceeds %d", depth, vote.MaxProofDepth)
	}
	circuit := newVoteCircuit(depth)
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
}

func SetupVote(depth uint32) (*ProvingSystem, error) {
	ccs, err := R1CSVote(depth)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &ProvingSystem{
		TreeDepth:        depth,
		ProvingKey:       pk,
		VerifyingKey:     vk,
		ConstraintSystem: ccs,
	}, nil
}

// ImportVoteSetup assembles a proving system from keys produced by an
// external ceremony.
func ImportVoteSetup(depth uint32, pkPath string, vkPath string) (*ProvingSystem, error) {
	ccs, err := R1CSVote(depth)
	if err != nil {
		return nil, err
	}
	pk, err := LoadProvingKey(pkPath)
	if err != nil {
		return nil, err
	}
	vk, err := LoadVerifyingKey(vkPath)
	if err != nil {
		return nil, err
	}
	return &ProvingSystem{
		TreeDepth:        depth,
		ProvingKey:       pk,
		VerifyingKey:     vk,
		ConstraintSystem: ccs,
	}, nil
}

func (ps *ProvingSystem) ValidateShape(params *VoteParameters) error {
	if params.Depth() != ps.TreeDepth {
		return fmt.Errorf("wrong merkle proof depth: got %d, proving system expects %d", params.Depth(), ps.TreeDepth)
	}
	return nil
}

// ProveVote runs the native computation first, so an ineligible voter gets
// vote.ErrEligibilityMismatch and no proof is generated.
func (ps *ProvingSystem) ProveVote(params *VoteParameters) (*VoteProof, error) {
	if err := ps.ValidateShape(params); err != nil {
		return nil, err
	}
	outputs, err := vote.Execute(&params.Input)
	if err != nil {
		return nil, err
	}

	assignment := voteAssignment(&params.Input, outputs)
	witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}

	logging.Logger().Info().Uint32("treeDepth", ps.TreeDepth).Msg("Proving vote")
	proof, err := groth16.Prove(ps.ConstraintSystem, ps.ProvingKey, witness)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("vote prove error")
		return nil, err
	}

	return NewVoteProof(&Proof{Proof: proof}, outputs, ps.TreeDepth)
}

func (ps *ProvingSystem) VerifyVote(outputs vote.PublicOutputs, proof *Proof) error {
	assignment := publicAssignment(outputs)
	witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	return groth16.Verify(proof.Proof, ps.VerifyingKey, witness)
}

// SelectProvingSystem picks the system matching the depth of params.
func SelectProvingSystem(systems []*ProvingSystem, depth uint32) (*ProvingSystem, error) {
	for _, ps := range systems {
		if ps.TreeDepth == depth {
			return ps, nil
		}
	}
	return nil, fmt.Errorf("no proving system for tree depth %d", depth)
}
