package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/prover"
	"zkvote/vote-prover/vote"
)

// Prover answers a VoteParameters request body with a vote proof, using a
// local proving system for the request's depth or the network prover.
// Keys, when set, loads systems missing from ProvingSystems on demand.
type Prover struct {
	ProvingSystems []*prover.ProvingSystem
	Keys           *prover.LazyKeyManager
	Network        *NetworkProverClient
	Cache          *ProofCache
}

func (p *Prover) Depths() []uint32 {
	if p.Keys != nil {
		return p.Keys.Depths()
	}
	depths := make([]uint32, 0, len(p.ProvingSystems))
	for _, ps := range p.ProvingSystems {
		depths = append(depths, ps.TreeDepth)
	}
	return depths
}

func (p *Prover) provingSystem(depth uint32) (*prover.ProvingSystem, error) {
	ps, err := prover.SelectProvingSystem(p.ProvingSystems, depth)
	if err == nil || p.Keys == nil {
		return ps, err
	}
	return p.Keys.Get(depth)
}

func (p *Prover) Prove(ctx context.Context, buf []byte) (*prover.VoteProof, *Error) {
	var params prover.VoteParameters
	if err := json.Unmarshal(buf, &params); err != nil {
		return nil, malformedBodyError(err)
	}

	inputHash, err := InputHash(&params)
	if err != nil {
		return nil, malformedBodyError(err)
	}
	if cached, ok := p.Cache.Get(inputHash); ok {
		ProofCacheHits.Inc()
		return cached, nil
	}

	depth := params.Depth()
	ps, err := p.provingSystem(depth)
	if err != nil {
		if !p.Network.Enabled() {
			return nil, provingError(err)
		}
		logging.Logger().Info().Err(err).Uint32("tree_depth", depth).Msg("No local proving system, using network prover")
		proof, err := p.Network.ProveVote(ctx, &params)
		if err != nil {
			return nil, voteError(err)
		}
		p.Cache.Add(inputHash, proof)
		return proof, nil
	}

	timer := StartProofTimer(depth)
	proof, err := ps.ProveVote(&params)
	if err != nil {
		timer.ObserveError(errorType(err))
		return nil, voteError(err)
	}
	timer.ObserveDuration()

	p.Cache.Add(inputHash, proof)
	return proof, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, vote.ErrEligibilityMismatch):
		return "eligibility_mismatch"
	case errors.Is(err, vote.ErrMalformedInput):
		return "malformed_input"
	default:
		return "proving_error"
	}
}

// voteError maps the core's errors onto HTTP answers. An ineligible voter is
// a well formed request that cannot be served.
func voteError(err error) *Error {
	switch {
	case errors.Is(err, vote.ErrEligibilityMismatch):
		return &Error{StatusCode: http.StatusUnprocessableEntity, Code: "eligibility_mismatch", Message: err.Error()}
	case errors.Is(err, vote.ErrMalformedInput):
		return malformedBodyError(err)
	default:
		return provingError(err)
	}
}
