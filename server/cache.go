package server

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"zkvote/vote-prover/prover"
)

const DefaultProofCacheSize = 256

// ProofCache remembers recent proofs by input hash. A nil cache is valid and
// never hits.
type ProofCache struct {
	cache *lru.Cache[string, *prover.VoteProof]
}

func NewProofCache(size int) (*ProofCache, error) {
	cache, err := lru.New[string, *prover.VoteProof](size)
	if err != nil {
		return nil, err
	}
	return &ProofCache{cache: cache}, nil
}

func (c *ProofCache) Get(inputHash string) (*prover.VoteProof, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(inputHash)
}

func (c *ProofCache) Add(inputHash string, proof *prover.VoteProof) {
	if c == nil {
		return
	}
	c.cache.Add(inputHash, proof)
}

func (c *ProofCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
