package vote

import "errors"

var (
	// ErrEligibilityMismatch means the recomputed root differs from the
	// claimed one. No outputs are committed and no proof may be produced.
	ErrEligibilityMismatch = errors.New("eligibility mismatch")

	// ErrMalformedInput reports a record that violates the fixed-size
	// wire contract.
	ErrMalformedInput = errors.New("malformed input")
)
