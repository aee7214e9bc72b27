package types

import (
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/consensys/gnark-crypto/signature"

	"github.com/veilchain/veil/crypto"
)

// NoteVersion is the current note format version.
const NoteVersion = byte(1)

// Note is the plaintext form of a shielded value record. The node never sees
// notes; they exist client-side for building transactions and in tests.
type Note struct {
	Version byte
	PubKey  signature.PublicKey
	Amount  uint64
	Salt    [32]byte
}

// NewNote creates a note owned by pub with a fresh salt.
func NewNote(pub signature.PublicKey, amount uint64) (*Note, error) {
	var salt fr.Element
	if _, err := salt.SetRandom(); err != nil {
		return nil, err
	}
	n := &Note{Version: NoteVersion, PubKey: pub, Amount: amount}
	sb := salt.Bytes()
	copy(n.Salt[:], sb[:])
	return n, nil
}

// Commitment computes the note commitment inserted into the tree when the
// note is created.
func (n *Note) Commitment() []byte {
	x, y := crypto.PublicKeyCoords(n.PubKey)
	return crypto.NoteCommit(n.Version, x, y, n.Amount, n.Salt[:])
}

// Nullifier derives the spend tag for this note at the given tree position,
// using the owner's authorization scalar halves.
func (n *Note) Nullifier(sk0, sk1 []byte, position uint64) []byte {
	nk := crypto.NullifierKey(sk0, sk1)
	return crypto.DeriveNullifier(nk, n.Commitment(), position)
}

// Plaintext encodes the note into the fixed-size form that gets encrypted to
// the recipient: version || amount || salt || pubkey || zero padding.
func (n *Note) Plaintext() [crypto.NotePlaintextSize]byte {
	var out [crypto.NotePlaintextSize]byte
	out[0] = n.Version
	binary.BigEndian.PutUint64(out[1:9], n.Amount)
	copy(out[9:41], n.Salt[:])
	copy(out[41:73], n.PubKey.Bytes())
	return out
}

// NoteFromPlaintext decodes a note plaintext recovered by a wallet.
func NoteFromPlaintext(pt [crypto.NotePlaintextSize]byte) (*Note, error) {
	if pt[0] != NoteVersion {
		return nil, fmt.Errorf("unsupported note version %d", pt[0])
	}
	pub := new(eddsa.PublicKey)
	if _, err := pub.SetBytes(pt[41:73]); err != nil {
		return nil, err
	}
	n := &Note{
		Version: pt[0],
		PubKey:  pub,
		Amount:  binary.BigEndian.Uint64(pt[1:9]),
	}
	copy(n.Salt[:], pt[9:41])
	return n, nil
}

// PadMemo zero-pads msg into the fixed-size memo plaintext.
func PadMemo(msg []byte) ([crypto.MemoPlaintextSize]byte, error) {
	var memo [crypto.MemoPlaintextSize]byte
	if len(msg) > crypto.MemoPlaintextSize {
		return memo, fmt.Errorf("memo too long: %d > %d", len(msg), crypto.MemoPlaintextSize)
	}
	copy(memo[:], msg)
	return memo, nil
}
