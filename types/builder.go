package types

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/signature"
	"github.com/holiman/uint256"

	"github.com/veilchain/veil/crypto"
)

// Builder assembles a balanced shielded transaction: spends of existing
// notes, outputs creating new ones, and a transparent fee. It tracks the
// aggregate blinding factor so it can produce the binding signature at
// finalization. Client-side and test-side only; the node never builds.
type Builder struct {
	chainID      string
	anchor       [RootSize]byte
	expiryHeight uint32
	fee          *uint64

	spends  []spendPlan
	outputs []outputPlan

	totalIn  *uint256.Int
	totalOut *uint256.Int

	// Sum of spend blindings minus output blindings, mod the group order.
	syntheticBlinding *big.Int
}

type spendPlan struct {
	signer   signature.Signer
	note     *Note
	position uint64
	path     [][]byte
	alpha    *big.Int
	blinding *big.Int
}

type outputPlan struct {
	note     *Note
	blinding *big.Int
	epk      [crypto.EphemeralKeySize]byte
	encNote  [EncryptedNoteSize]byte
	encMemo  [EncryptedMemoSize]byte
}

// NewBuilder starts a transaction against the given chain and anchor.
func NewBuilder(chainID string, anchor [RootSize]byte, expiryHeight uint32) *Builder {
	return &Builder{
		chainID:           chainID,
		anchor:            anchor,
		expiryHeight:      expiryHeight,
		totalIn:           uint256.NewInt(0),
		totalOut:          uint256.NewInt(0),
		syntheticBlinding: new(big.Int),
	}
}

// AddSpend consumes an existing note at the given tree position, proving
// membership via the supplied Merkle path.
func (b *Builder) AddSpend(signer signature.Signer, note *Note, position uint64, path [][]byte) error {
	blinding, err := crypto.RandomBlinding()
	if err != nil {
		return err
	}
	alpha, err := crypto.RandomizerScalar()
	if err != nil {
		return err
	}
	b.spends = append(b.spends, spendPlan{
		signer:   signer,
		note:     note,
		position: position,
		path:     path,
		alpha:    alpha,
		blinding: blinding,
	})
	b.totalIn.Add(b.totalIn, uint256.NewInt(note.Amount))
	b.syntheticBlinding.Add(b.syntheticBlinding, blinding)
	b.syntheticBlinding.Mod(b.syntheticBlinding, crypto.GroupOrder)
	return nil
}

// AddOutput creates a new note for the recipient, encrypting the note
// plaintext and memo to them. Returns the created note so the sender can hand
// it off out of band (or recover it via the ovk path, which wallets own).
func (b *Builder) AddOutput(recipient signature.PublicKey, amount uint64, memo []byte) (*Note, error) {
	note, err := NewNote(recipient, amount)
	if err != nil {
		return nil, err
	}
	blinding, err := crypto.RandomBlinding()
	if err != nil {
		return nil, err
	}
	ekp, err := crypto.NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	shared, err := ekp.SharedSecret(recipient)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ExpandKey(shared, 32)
	if err != nil {
		return nil, err
	}

	pt := note.Plaintext()
	encNote, err := crypto.SealNote(key, ekp.Public[:], pt[:])
	if err != nil {
		return nil, err
	}
	memoPt, err := PadMemo(memo)
	if err != nil {
		return nil, err
	}
	encMemo, err := crypto.SealMemo(key, ekp.Public[:], memoPt[:])
	if err != nil {
		return nil, err
	}

	plan := outputPlan{note: note, blinding: blinding, epk: ekp.Public}
	copy(plan.encNote[:], encNote)
	copy(plan.encMemo[:], encMemo)
	b.outputs = append(b.outputs, plan)

	b.totalOut.Add(b.totalOut, uint256.NewInt(amount))
	b.syntheticBlinding.Sub(b.syntheticBlinding, blinding)
	b.syntheticBlinding.Mod(b.syntheticBlinding, crypto.GroupOrder)
	return note, nil
}

// SetFee sets the transparent fee.
func (b *Builder) SetFee(amount uint64) {
	b.fee = &amount
}

// Finalize checks the value balance, generates all action proofs and the
// binding signature, and returns the completed transaction.
func (b *Builder) Finalize(prover Prover) (*Transaction, error) {
	if b.chainID == "" {
		return nil, fmt.Errorf("chain id not set")
	}
	if b.fee == nil {
		return nil, fmt.Errorf("fee not set")
	}

	spent := new(uint256.Int).Add(b.totalOut, uint256.NewInt(*b.fee))
	if !b.totalIn.Eq(spent) {
		return nil, fmt.Errorf("non-zero value balance: in=%s out=%s fee=%d", b.totalIn, b.totalOut, *b.fee)
	}

	body := TransactionBody{
		Anchor:       b.anchor,
		ExpiryHeight: b.expiryHeight,
		ChainID:      b.chainID,
		Fee:          Fee{Amount: *b.fee},
	}

	type spendPub struct {
		st SpendStatement
		w  SpendWitness
	}
	var spendPubs []spendPub

	// Spends come first in the action list, then outputs.
	for _, sp := range b.spends {
		cv := crypto.CommitValue(sp.note.Amount, sp.blinding)
		cvX, cvY := cv.Coords()
		rkX, rkY := crypto.RandomizedKey(sp.signer.Public(), sp.alpha)
		sk0, sk1 := crypto.SpendScalarHalves(sp.signer)
		nullifier := sp.note.Nullifier(sk0, sk1, sp.position)

		spendBody := SpendBody{
			ValueCommitment: cv.Bytes(),
			Rk:              crypto.RandomizedKeyBytes(rkX, rkY),
		}
		copy(spendBody.Nullifier[:], nullifier)

		spendPubs = append(spendPubs, spendPub{
			st: SpendStatement{
				Anchor:    b.anchor[:],
				Nullifier: nullifier,
				RkX:       rkX,
				RkY:       rkY,
				CvX:       cvX,
				CvY:       cvY,
			},
			w: SpendWitness{
				Sk0:      sk0,
				Sk1:      sk1,
				Version:  sp.note.Version,
				Amount:   sp.note.Amount,
				Salt:     sp.note.Salt[:],
				Position: sp.position,
				Path:     sp.path,
				Alpha:    sp.alpha,
				Blinding: sp.blinding,
			},
		})
		body.Actions = append(body.Actions, &Action{Spend: &spendBody})
	}

	var outputStmts []OutputStatement
	var outputWits []OutputWitness
	for _, op := range b.outputs {
		cv := crypto.CommitValue(op.note.Amount, op.blinding)
		cvX, cvY := cv.Coords()
		pkX, pkY := crypto.PublicKeyCoords(op.note.PubKey)
		cm := op.note.Commitment()

		outBody := OutputBody{
			ValueCommitment: cv.Bytes(),
			EphemeralKey:    op.epk,
			EncryptedNote:   op.encNote,
			EncryptedMemo:   op.encMemo,
		}
		copy(outBody.NoteCommitment[:], cm)

		outputStmts = append(outputStmts, OutputStatement{
			Commitment: cm,
			CvX:        cvX,
			CvY:        cvY,
		})
		outputWits = append(outputWits, OutputWitness{
			Version:  op.note.Version,
			PkX:      pkX,
			PkY:      pkY,
			Amount:   op.note.Amount,
			Salt:     op.note.Salt[:],
			Blinding: op.blinding,
		})
		body.Actions = append(body.Actions, &Action{Output: &outBody})
	}

	// Prove every action against the finished body layout.
	for i, sp := range spendPubs {
		proof, err := prover.ProveSpend(sp.st, sp.w)
		if err != nil {
			return nil, fmt.Errorf("spend proof %d: %w", i, err)
		}
		body.Actions[i].Spend.Proof = proof
	}
	for i := range outputStmts {
		proof, err := prover.ProveOutput(outputStmts[i], outputWits[i])
		if err != nil {
			return nil, fmt.Errorf("output proof %d: %w", i, err)
		}
		body.Actions[len(spendPubs)+i].Output.Proof = proof
	}

	sighash, err := body.SigHash()
	if err != nil {
		return nil, err
	}
	bindingSig, err := crypto.BindingSign(b.syntheticBlinding, sighash)
	if err != nil {
		return nil, err
	}

	return &Transaction{Body: body, BindingSig: bindingSig}, nil
}
