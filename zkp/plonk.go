package zkp

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/constraint/solver"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"
	"github.com/rs/zerolog"

	"github.com/veilchain/veil/types"
)

var solverLogger = zerolog.Nop()

// SetLogger routes gnark solver output through the node's logger.
func SetLogger(l zerolog.Logger) {
	solverLogger = l
}

// System bundles the compiled constraint systems and keys for both action
// circuits at a fixed tree depth. The depth is a consensus parameter; proofs
// made against a different depth never verify.
type System struct {
	depth int

	spendCCS constraint.ConstraintSystem
	spendPK  plonk.ProvingKey
	spendVK  plonk.VerifyingKey

	outputCCS constraint.ConstraintSystem
	outputPK  plonk.ProvingKey
	outputVK  plonk.VerifyingKey
}

// Setup compiles both circuits for the given tree depth and runs the PLONK
// setup. The test-grade KZG SRS is fine for development and tests; a
// production deployment substitutes a ceremony SRS loaded from disk.
func Setup(depth int) (*System, error) {
	spendCCS, spendPK, spendVK, err := compile(&SpendCircuit{
		Path: make([]frontend.Variable, depth),
	})
	if err != nil {
		return nil, fmt.Errorf("spend circuit: %w", err)
	}
	outputCCS, outputPK, outputVK, err := compile(&OutputCircuit{})
	if err != nil {
		return nil, fmt.Errorf("output circuit: %w", err)
	}
	return &System{
		depth:     depth,
		spendCCS:  spendCCS,
		spendPK:   spendPK,
		spendVK:   spendVK,
		outputCCS: outputCCS,
		outputPK:  outputPK,
		outputVK:  outputVK,
	}, nil
}

func compile(circuit frontend.Circuit) (constraint.ConstraintSystem, plonk.ProvingKey, plonk.VerifyingKey, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, circuit)
	if err != nil {
		return nil, nil, nil, err
	}
	srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
	if err != nil {
		return nil, nil, nil, err
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return nil, nil, nil, err
	}
	return ccs, pk, vk, nil
}

// ProveSpend implements types.Prover.
func (s *System) ProveSpend(st types.SpendStatement, w types.SpendWitness) ([]byte, error) {
	if len(w.Path) != s.depth {
		return nil, fmt.Errorf("witness path depth %d, circuit depth %d", len(w.Path), s.depth)
	}
	assignment := SpendCircuit{
		Sk0:       w.Sk0,
		Sk1:       w.Sk1,
		Version:   w.Version,
		Amount:    w.Amount,
		Salt:      w.Salt,
		Position:  w.Position,
		Path:      make([]frontend.Variable, s.depth),
		Alpha:     w.Alpha,
		Blinding:  w.Blinding,
		Anchor:    st.Anchor,
		Nullifier: st.Nullifier,
		RkX:       st.RkX,
		RkY:       st.RkY,
		CvX:       st.CvX,
		CvY:       st.CvY,
	}
	for i, sib := range w.Path {
		assignment.Path[i] = sib
	}
	return prove(s.spendCCS, s.spendPK, &assignment)
}

// ProveOutput implements types.Prover.
func (s *System) ProveOutput(st types.OutputStatement, w types.OutputWitness) ([]byte, error) {
	assignment := OutputCircuit{
		Version:    w.Version,
		PkX:        w.PkX,
		PkY:        w.PkY,
		Amount:     w.Amount,
		Salt:       w.Salt,
		Blinding:   w.Blinding,
		Commitment: st.Commitment,
		CvX:        st.CvX,
		CvY:        st.CvY,
	}
	return prove(s.outputCCS, s.outputPK, &assignment)
}

func prove(ccs constraint.ConstraintSystem, pk plonk.ProvingKey, assignment frontend.Circuit) ([]byte, error) {
	wtn, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	proof, err := plonk.Prove(ccs, pk, wtn,
		backend.WithSolverOptions(solver.WithLogger(solverLogger)))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifySpend implements types.Verifier.
func (s *System) VerifySpend(proofBytes []byte, st types.SpendStatement) error {
	assignment := SpendCircuit{
		Anchor:    st.Anchor,
		Nullifier: st.Nullifier,
		RkX:       st.RkX,
		RkY:       st.RkY,
		CvX:       st.CvX,
		CvY:       st.CvY,
	}
	return verify(s.spendVK, proofBytes, &assignment)
}

// VerifyOutput implements types.Verifier.
func (s *System) VerifyOutput(proofBytes []byte, st types.OutputStatement) error {
	assignment := OutputCircuit{
		Commitment: st.Commitment,
		CvX:        st.CvX,
		CvY:        st.CvY,
	}
	return verify(s.outputVK, proofBytes, &assignment)
}

func verify(vk plonk.VerifyingKey, proofBytes []byte, assignment frontend.Circuit) error {
	proof := plonk.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("proof deserialization: %w", err)
	}
	pubWtn, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	return plonk.Verify(proof, vk, pubWtn)
}
