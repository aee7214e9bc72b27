// Package types defines the shielded transaction data model and its binary
// wire format. Field order and sizes are consensus-critical: every validator
// must decode the same bytes into the same structure or reject identically.
package types

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/veilchain/veil/crypto"
)

// Wire sizes, in bytes.
const (
	NoteCommitmentSize  = 32
	ValueCommitmentSize = 32
	NullifierSize       = 32
	RootSize            = 32
	RkSize              = 64
	EphemeralKeySize    = crypto.EphemeralKeySize
	EncryptedNoteSize   = crypto.NoteCiphertextSize
	EncryptedMemoSize   = crypto.MemoCiphertextSize
)

// Action tags on the wire.
const (
	actionTagSpend  = uint8(1)
	actionTagOutput = uint8(2)
)

// Transaction is an atomic bundle of shielded actions plus the binding
// signature proving its value commitments balance. Immutable once decoded.
type Transaction struct {
	Body       TransactionBody
	BindingSig [crypto.BindingSigSize]byte
}

// TransactionBody carries the actions and the transaction-wide validity
// parameters.
type TransactionBody struct {
	Actions      []*Action
	Anchor       [RootSize]byte
	ExpiryHeight uint32
	ChainID      string
	Fee          Fee
}

// Fee is the transparent portion of the value balance.
type Fee struct {
	Amount uint64
}

// Action is a closed tagged union: exactly one of Spend or Output is set.
// New action kinds extend the tag set and the validator/balance match arms.
type Action struct {
	Spend  *SpendBody
	Output *OutputBody
}

// SpendBody consumes an existing note without revealing which one.
type SpendBody struct {
	ValueCommitment [ValueCommitmentSize]byte
	Nullifier       [NullifierSize]byte
	Rk              [RkSize]byte
	Proof           []byte
}

// OutputBody creates a new shielded note. The encrypted payloads are opaque
// to the node; only their sizes are enforced.
type OutputBody struct {
	ValueCommitment [ValueCommitmentSize]byte
	NoteCommitment  [NoteCommitmentSize]byte
	EphemeralKey    [EphemeralKeySize]byte
	EncryptedNote   [EncryptedNoteSize]byte
	EncryptedMemo   [EncryptedMemoSize]byte
	Proof           []byte
}

// EncodeRLP implements rlp.Encoder, writing the tag followed by the body.
func (a *Action) EncodeRLP(w io.Writer) error {
	switch {
	case a.Spend != nil && a.Output == nil:
		return rlp.Encode(w, []interface{}{actionTagSpend, a.Spend})
	case a.Output != nil && a.Spend == nil:
		return rlp.Encode(w, []interface{}{actionTagOutput, a.Output})
	default:
		return fmt.Errorf("action must contain exactly one of spend or output")
	}
}

// DecodeRLP implements rlp.Decoder, rejecting unknown tags.
func (a *Action) DecodeRLP(s *rlp.Stream) error {
	var wire struct {
		Tag uint8
		Raw rlp.RawValue
	}
	if err := s.Decode(&wire); err != nil {
		return err
	}
	switch wire.Tag {
	case actionTagSpend:
		var body SpendBody
		if err := rlp.DecodeBytes(wire.Raw, &body); err != nil {
			return err
		}
		a.Spend, a.Output = &body, nil
	case actionTagOutput:
		var body OutputBody
		if err := rlp.DecodeBytes(wire.Raw, &body); err != nil {
			return err
		}
		a.Output, a.Spend = &body, nil
	default:
		return fmt.Errorf("unknown action tag %d", wire.Tag)
	}
	return nil
}

// Encode serializes the transaction to its wire form.
func (tx *Transaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// Decode parses a transaction from its wire form, rejecting trailing bytes.
func Decode(raw []byte) (*Transaction, error) {
	var tx Transaction
	if err := rlp.DecodeBytes(raw, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if len(tx.Body.Actions) == 0 {
		return nil, fmt.Errorf("transaction has no actions")
	}
	return &tx, nil
}

// SigHash returns the digest the binding signature (and spend authorizations)
// commit to: the MiMC hash of the RLP-encoded body.
func (body *TransactionBody) SigHash() ([]byte, error) {
	enc, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, err
	}
	return crypto.HashBytes(enc), nil
}

// SpentNullifiers collects the nullifiers revealed by the transaction's
// spends, in action order.
func (tx *Transaction) SpentNullifiers() [][NullifierSize]byte {
	var out [][NullifierSize]byte
	for _, a := range tx.Body.Actions {
		if a.Spend != nil {
			out = append(out, a.Spend.Nullifier)
		}
	}
	return out
}

// OutputCommitments collects the note commitments created by the
// transaction's outputs, in action order. Tree-append order follows this.
func (tx *Transaction) OutputCommitments() [][NoteCommitmentSize]byte {
	var out [][NoteCommitmentSize]byte
	for _, a := range tx.Body.Actions {
		if a.Output != nil {
			out = append(out, a.Output.NoteCommitment)
		}
	}
	return out
}
