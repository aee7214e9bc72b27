package app

import (
	"math/big"
	"sync"

	"github.com/veilchain/veil/crypto"
	"github.com/veilchain/veil/state"
	"github.com/veilchain/veil/types"
	"github.com/veilchain/veil/veilerrors"
)

// validateStateless performs every check requiring no chain state: chain-id
// match, expiry against the caller-supplied height, the value balance via
// the binding signature, and proof verification for every action. A single
// invalid action rejects the whole transaction; inclusion is all-or-nothing.
func (a *App) validateStateless(tx *types.Transaction, height uint64) error {
	if tx.Body.ChainID != a.cfg.ChainID {
		return veilerrors.Wrap(veilerrors.ErrExpiredOrWrongChain,
			"chain id %q, node runs %q", tx.Body.ChainID, a.cfg.ChainID)
	}
	if tx.Body.ExpiryHeight != 0 && height > uint64(tx.Body.ExpiryHeight) {
		return veilerrors.Wrap(veilerrors.ErrExpiredOrWrongChain,
			"expired at height %d, current %d", tx.Body.ExpiryHeight, height)
	}

	stmts, err := actionStatements(tx)
	if err != nil {
		return err
	}

	if err := a.checkBalance(tx, stmts); err != nil {
		return err
	}

	return a.verifyProofs(tx, stmts)
}

// actionStatement pairs an action with its decoded public statement.
type actionStatement struct {
	spend  *types.SpendStatement
	output *types.OutputStatement
	cv     *crypto.ValueCommitment
	proof  []byte
}

// actionStatements decodes the commitment points of every action once.
// Encoding-level failures are malformed transactions, not proof failures.
func actionStatements(tx *types.Transaction) ([]actionStatement, error) {
	stmts := make([]actionStatement, 0, len(tx.Body.Actions))
	for i, action := range tx.Body.Actions {
		switch {
		case action.Spend != nil:
			sp := action.Spend
			cv, err := crypto.ValueCommitmentFromBytes(sp.ValueCommitment[:])
			if err != nil {
				return nil, veilerrors.Wrap(veilerrors.ErrMalformedTransaction, "action %d: %v", i, err)
			}
			if err := crypto.CheckRandomizedKey(sp.Rk); err != nil {
				return nil, veilerrors.Wrap(veilerrors.ErrMalformedTransaction, "action %d: %v", i, err)
			}
			cvX, cvY := cv.Coords()
			stmts = append(stmts, actionStatement{
				spend: &types.SpendStatement{
					Anchor:    tx.Body.Anchor[:],
					Nullifier: sp.Nullifier[:],
					RkX:       new(big.Int).SetBytes(sp.Rk[:32]),
					RkY:       new(big.Int).SetBytes(sp.Rk[32:]),
					CvX:       cvX,
					CvY:       cvY,
				},
				cv:    cv,
				proof: sp.Proof,
			})
		case action.Output != nil:
			out := action.Output
			cv, err := crypto.ValueCommitmentFromBytes(out.ValueCommitment[:])
			if err != nil {
				return nil, veilerrors.Wrap(veilerrors.ErrMalformedTransaction, "action %d: %v", i, err)
			}
			cvX, cvY := cv.Coords()
			stmts = append(stmts, actionStatement{
				output: &types.OutputStatement{
					Commitment: out.NoteCommitment[:],
					CvX:        cvX,
					CvY:        cvY,
				},
				cv:    cv,
				proof: out.Proof,
			})
		default:
			return nil, veilerrors.Wrap(veilerrors.ErrMalformedTransaction, "action %d: empty union", i)
		}
	}
	return stmts, nil
}

// checkBalance verifies conservation of value: the binding signature must
// verify under the key implied by sum(spend cv) - sum(output cv) - fee*G.
// The node never learns individual amounts.
func (a *App) checkBalance(tx *types.Transaction, stmts []actionStatement) error {
	bvk := crypto.FeeCommitment(0) // group identity
	for _, st := range stmts {
		if st.spend != nil {
			bvk = bvk.Add(st.cv)
		} else {
			bvk = bvk.Sub(st.cv)
		}
	}
	bvk = bvk.Sub(crypto.FeeCommitment(tx.Body.Fee.Amount))

	sighash, err := tx.Body.SigHash()
	if err != nil {
		return veilerrors.Wrap(veilerrors.ErrMalformedTransaction, "sighash: %v", err)
	}
	if err := crypto.BindingVerify(bvk, sighash, tx.BindingSig); err != nil {
		return veilerrors.Wrap(veilerrors.ErrUnbalancedValue, "%v", err)
	}
	return nil
}

// verifyProofs checks every action proof. Verification is CPU-bound and
// independent per action, so actions are verified concurrently; failures are
// permanent and never retried.
func (a *App) verifyProofs(tx *types.Transaction, stmts []actionStatement) error {
	errs := make([]error, len(stmts))
	var wg sync.WaitGroup
	for i := range stmts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := stmts[i]
			if st.spend != nil {
				errs[i] = a.verifier.VerifySpend(st.proof, *st.spend)
			} else {
				errs[i] = a.verifier.VerifyOutput(st.proof, *st.output)
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return veilerrors.Wrap(veilerrors.ErrInvalidProof, "action %d: %v", i, err)
		}
	}
	return nil
}

// validateStateful resolves the anchor against the retained root window and
// checks every spent nullifier against the committed set plus, when
// delivering inside a block, the staging overlay. pending is nil for
// CheckTx, which sees only committed state.
func (a *App) validateStateful(tx *types.Transaction, pending *state.PendingBlock) error {
	if !a.anchors.Contains(tx.Body.Anchor[:]) {
		return veilerrors.Wrap(veilerrors.ErrUnknownAnchor, "anchor %x outside retained window", tx.Body.Anchor)
	}

	seen := make(map[[types.NullifierSize]byte]struct{})
	for _, nf := range tx.SpentNullifiers() {
		if _, dup := seen[nf]; dup {
			return veilerrors.Wrap(veilerrors.ErrDoubleSpend, "nullifier %x repeated in transaction", nf)
		}
		seen[nf] = struct{}{}

		committed, err := a.store.HasNullifier(nf[:])
		if err != nil {
			return veilerrors.Wrap(veilerrors.ErrStorageFailure, "%v", err)
		}
		if committed {
			return veilerrors.Wrap(veilerrors.ErrDoubleSpend, "nullifier %x already spent", nf)
		}
		if pending != nil && pending.HasNullifier(nf) {
			return veilerrors.Wrap(veilerrors.ErrDoubleSpend, "nullifier %x already spent in this block", nf)
		}
	}
	return nil
}
