package types

import "math/big"

// SpendStatement is the public statement a spend proof attests to: knowledge
// of a note opening under a commitment included in the anchor tree, with the
// revealed nullifier, randomized key and value commitment all derived from
// that note.
type SpendStatement struct {
	Anchor    []byte
	Nullifier []byte
	RkX, RkY  *big.Int
	CvX, CvY  *big.Int
}

// OutputStatement is the public statement an output proof attests to:
// well-formedness of a newly created note under its commitment and value
// commitment.
type OutputStatement struct {
	Commitment []byte
	CvX, CvY   *big.Int
}

// SpendWitness is the private opening a prover uses for a spend.
type SpendWitness struct {
	Sk0, Sk1 []byte
	Version  byte
	Amount   uint64
	Salt     []byte
	Position uint64
	Path     [][]byte
	Alpha    *big.Int
	Blinding *big.Int
}

// OutputWitness is the private opening a prover uses for an output.
type OutputWitness struct {
	Version  byte
	PkX, PkY []byte
	Amount   uint64
	Salt     []byte
	Blinding *big.Int
}

// Prover produces zero-knowledge proofs for transaction actions. Implemented
// by the proof-system glue; consumed by the transaction builder.
type Prover interface {
	ProveSpend(st SpendStatement, w SpendWitness) ([]byte, error)
	ProveOutput(st OutputStatement, w OutputWitness) ([]byte, error)
}

// Verifier checks zero-knowledge proofs against their public statements.
// The node treats it as an externally supplied primitive: failures are
// permanent and never retried.
type Verifier interface {
	VerifySpend(proof []byte, st SpendStatement) error
	VerifyOutput(proof []byte, st OutputStatement) error
}
