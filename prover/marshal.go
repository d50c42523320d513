package prover

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	curve "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"zkvote/vote-prover/vote"
)

func FromHex(i *big.Int, s string) error {
	s = strings.TrimPrefix(s, "0x")
	_, ok := i.SetString(s, 16)
	if !ok {
		return fmt.Errorf("invalid number: %s", s)
	}
	return nil
}

func ToHex(i *big.Int) string {
	return fmt.Sprintf("0x%064x", i)
}

// ProofJSON lays out G2 coordinates imaginary part first, the order EVM
// pairing precompiles expect.
type ProofJSON struct {
	Ar            [2]string    `json:"ar"`
	Bs            [2][2]string `json:"bs"`
	Krs           [2]string    `json:"krs"`
	Commitments   [][2]string  `json:"commitments,omitempty"`
	CommitmentPok [2]string    `json:"commitmentPok"`
}

func elementToHex(e *fp.Element) string {
	return ToHex(e.BigInt(new(big.Int)))
}

func elementFromHex(e *fp.Element, s string) error {
	var i big.Int
	if err := FromHex(&i, s); err != nil {
		return err
	}
	if i.Sign() < 0 || i.Cmp(fp.Modulus()) >= 0 {
		return fmt.Errorf("coordinate out of range: %s", s)
	}
	e.SetBigInt(&i)
	return nil
}

func g1ToHex(p *curve.G1Affine) [2]string {
	return [2]string{elementToHex(&p.X), elementToHex(&p.Y)}
}

func g1FromHex(p *curve.G1Affine, coords [2]string) error {
	if err := elementFromHex(&p.X, coords[0]); err != nil {
		return err
	}
	if err := elementFromHex(&p.Y, coords[1]); err != nil {
		return err
	}
	if !p.IsOnCurve() {
		return fmt.Errorf("point is not on the curve")
	}
	return nil
}

func (p *Proof) MarshalJSON() ([]byte, error) {
	typed, ok := p.Proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unsupported proof type %T", p.Proof)
	}

	proofJson := ProofJSON{
		Ar: g1ToHex(&typed.Ar),
		Bs: [2][2]string{
			{elementToHex(&typed.Bs.X.A1), elementToHex(&typed.Bs.X.A0)},
			{elementToHex(&typed.Bs.Y.A1), elementToHex(&typed.Bs.Y.A0)},
		},
		Krs:           g1ToHex(&typed.Krs),
		CommitmentPok: g1ToHex(&typed.CommitmentPok),
	}
	for i := range typed.Commitments {
		proofJson.Commitments = append(proofJson.Commitments, g1ToHex(&typed.Commitments[i]))
	}
	return json.Marshal(proofJson)
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var proofJson ProofJSON
	err := json.Unmarshal(data, &proofJson)
	if err != nil {
		return err
	}

	typed := new(groth16_bn254.Proof)
	if err = g1FromHex(&typed.Ar, proofJson.Ar); err != nil {
		return fmt.Errorf("ar: %w", err)
	}
	if err = g1FromHex(&typed.Krs, proofJson.Krs); err != nil {
		return fmt.Errorf("krs: %w", err)
	}

	bs := [4]*fp.Element{&typed.Bs.X.A1, &typed.Bs.X.A0, &typed.Bs.Y.A1, &typed.Bs.Y.A0}
	bsHex := [4]string{proofJson.Bs[0][0], proofJson.Bs[0][1], proofJson.Bs[1][0], proofJson.Bs[1][1]}
	for i := range bs {
		if err = elementFromHex(bs[i], bsHex[i]); err != nil {
			return fmt.Errorf("bs: %w", err)
		}
	}
	if !typed.Bs.IsOnCurve() {
		return fmt.Errorf("bs: point is not on the curve")
	}

	typed.Commitments = make([]curve.G1Affine, len(proofJson.Commitments))
	for i := range proofJson.Commitments {
		if err = g1FromHex(&typed.Commitments[i], proofJson.Commitments[i]); err != nil {
			return fmt.Errorf("commitment %d: %w", i, err)
		}
	}
	if proofJson.CommitmentPok[0] != "" || proofJson.CommitmentPok[1] != "" {
		if err = g1FromHex(&typed.CommitmentPok, proofJson.CommitmentPok); err != nil {
			return fmt.Errorf("commitmentPok: %w", err)
		}
	}

	p.Proof = typed
	return nil
}

type VoteParametersJSON struct {
	CircuitType    string   `json:"circuitType,omitempty"`
	VoterSecret    string   `json:"voterSecret"`
	VoterNullifier string   `json:"voterNullifier"`
	CandidateID    uint32   `json:"candidateId"`
	MerkleProof    []string `json:"merkleProof"`
	MerkleRoot     string   `json:"merkleRoot"`
}

type VoteParameters struct {
	Input vote.VoteInput
}

func (p *VoteParameters) Depth() uint32 {
	return uint32(len(p.Input.MerkleProof))
}

func (p *VoteParameters) CreateVoteParametersJSON() VoteParametersJSON {
	paramsJson := VoteParametersJSON{
		CircuitType:    string(VoteCircuitType),
		VoterSecret:    p.Input.VoterSecret.String(),
		VoterNullifier: p.Input.VoterNullifier.String(),
		CandidateID:    p.Input.CandidateID,
		MerkleProof:    make([]string, len(p.Input.MerkleProof)),
		MerkleRoot:     p.Input.MerkleRoot.String(),
	}
	for i, sibling := range p.Input.MerkleProof {
		paramsJson.MerkleProof[i] = sibling.String()
	}
	return paramsJson
}

func (p *VoteParameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.CreateVoteParametersJSON())
}

func (p *VoteParameters) UpdateWithJSON(params VoteParametersJSON) error {
	if params.CircuitType != "" && CircuitType(params.CircuitType) != VoteCircuitType {
		return fmt.Errorf("%w: unsupported circuit type %q", vote.ErrMalformedInput, params.CircuitType)
	}
	if len(params.MerkleProof) > vote.MaxProofDepth {
		return fmt.Errorf("%w: proof depth %d exceeds %d", vote.ErrMalformedInput, len(params.MerkleProof), vote.MaxProofDepth)
	}

	var input vote.VoteInput
	var err error
	if input.VoterSecret, err = vote.ParseDigest(params.VoterSecret); err != nil {
		return fmt.Errorf("voterSecret: %w", err)
	}
	if input.VoterNullifier, err = vote.ParseDigest(params.VoterNullifier); err != nil {
		return fmt.Errorf("voterNullifier: %w", err)
	}
	if input.MerkleRoot, err = vote.ParseDigest(params.MerkleRoot); err != nil {
		return fmt.Errorf("merkleRoot: %w", err)
	}
	input.CandidateID = params.CandidateID
	input.MerkleProof = make([]vote.Digest, len(params.MerkleProof))
	for i, sibling := range params.MerkleProof {
		if input.MerkleProof[i], err = vote.ParseDigest(sibling); err != nil {
			return fmt.Errorf("merkleProof[%d]: %w", i, err)
		}
	}
	p.Input = input
	return nil
}

func (p *VoteParameters) UnmarshalJSON(data []byte) error {
	var params VoteParametersJSON
	if err := json.Unmarshal(data, &params); err != nil {
		return fmt.Errorf("%w: %v", vote.ErrMalformedInput, err)
	}
	return p.UpdateWithJSON(params)
}

// VoteProof is what a voter submits. PublicValues is the authoritative
// 68-byte output blob; the decoded fields next to it are informational.
type VoteProof struct {
	Proof        *Proof        `json:"proof"`
	PublicValues hexutil.Bytes `json:"publicValues"`
	Nullifier    vote.Digest   `json:"nullifier"`
	CandidateID  uint32        `json:"candidateId"`
	MerkleRoot   vote.Digest   `json:"merkleRoot"`
	TreeDepth    uint32        `json:"treeDepth"`
}

func NewVoteProof(proof *Proof, outputs vote.PublicOutputs, depth uint32) (*VoteProof, error) {
	blob, err := outputs.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &VoteProof{
		Proof:        proof,
		PublicValues: blob,
		Nullifier:    outputs.Nullifier,
		CandidateID:  outputs.CandidateID,
		MerkleRoot:   outputs.MerkleRoot,
		TreeDepth:    depth,
	}, nil
}

func (vp *VoteProof) PublicOutputs() (vote.PublicOutputs, error) {
	return vote.DecodePublicOutputs(vp.PublicValues)
}

func (ps *ProvingSystem) WriteTo(w io.Writer) (int64, error) {
	var totalWritten int64 = 0
	var intBuf [4]byte

	binary.BigEndian.PutUint32(intBuf[:], ps.TreeDepth)
	written, err := w.Write(intBuf[:])
	totalWritten += int64(written)
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err := ps.ProvingKey.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err = ps.VerifyingKey.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}

	keyWritten, err = ps.ConstraintSystem.WriteTo(w)
	totalWritten += keyWritten
	if err != nil {
		return totalWritten, err
	}
	return totalWritten, nil
}

func (ps *ProvingSystem) UnsafeReadFrom(r io.Reader) (int64, error) {
	var totalRead int64 = 0
	var intBuf [4]byte

	read, err := io.ReadFull(r, intBuf[:])
	totalRead += int64(read)
	if err != nil {
		return totalRead, err
	}
	ps.TreeDepth = binary.BigEndian.Uint32(intBuf[:])
	if ps.TreeDepth > vote.MaxProofDepth {
		return totalRead, fmt.Errorf("tree depth %d exceeds %d", ps.TreeDepth, vote.MaxProofDepth)
	}

	ps.ProvingKey = groth16.NewProvingKey(ecc.BN254)
	keyRead, err := ps.ProvingKey.UnsafeReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	ps.VerifyingKey = groth16.NewVerifyingKey(ecc.BN254)
	keyRead, err = ps.VerifyingKey.UnsafeReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	ps.ConstraintSystem = groth16.NewCS(ecc.BN254)
	keyRead, err = ps.ConstraintSystem.ReadFrom(r)
	totalRead += keyRead
	if err != nil {
		return totalRead, err
	}

	return totalRead, nil
}
