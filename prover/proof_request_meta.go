package prover

import (
	"encoding/json"
	"fmt"

	"zkvote/vote-prover/vote"
)

// ProofRequestMeta is what the server needs to route a request before the
// full body is parsed.
type ProofRequestMeta struct {
	CircuitType CircuitType
	TreeDepth   uint32
}

func ParseProofRequestMeta(data []byte) (ProofRequestMeta, error) {
	var rawInput map[string]interface{}
	err := json.Unmarshal(data, &rawInput)
	if err != nil {
		return ProofRequestMeta{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	circuitType := VoteCircuitType
	if ct, ok := rawInput["circuitType"].(string); ok && ct != "" {
		circuitType = CircuitType(ct)
	}
	if circuitType != VoteCircuitType {
		return ProofRequestMeta{}, fmt.Errorf("unsupported circuit type %q", circuitType)
	}

	proof, ok := rawInput["merkleProof"].([]interface{})
	if !ok {
		return ProofRequestMeta{}, fmt.Errorf("missing or invalid 'merkleProof'")
	}
	if len(proof) > vote.MaxProofDepth {
		return ProofRequestMeta{}, fmt.Errorf("merkle proof depth %d exceeds %d", len(proof), vote.MaxProofDepth)
	}

	return ProofRequestMeta{
		CircuitType: circuitType,
		TreeDepth:   uint32(len(proof)),
	}, nil
}
