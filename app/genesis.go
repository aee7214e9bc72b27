package app

import (
	"context"

	"github.com/veilchain/veil/crypto"
	"github.com/veilchain/veil/state"
	"github.com/veilchain/veil/types"
	"github.com/veilchain/veil/veilerrors"
)

// Allocation is one genesis note: an address receiving an initial amount.
type Allocation struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// InitGenesis seeds a fresh chain with the allocation notes and commits
// block 0. Genesis note salts are derived deterministically from the chain
// id and allocation data so every validator mints identical commitments.
func (a *App) InitGenesis(ctx context.Context, allocations []Allocation) ([]byte, error) {
	if a.Halted() {
		return nil, veilerrors.Wrap(veilerrors.ErrStorageFailure, "node halted")
	}
	if a.phase != phaseIdle || a.height != 0 || a.tree.Size() != 0 {
		return nil, veilerrors.Wrap(veilerrors.ErrInvalidLifecycle, "InitGenesis on non-fresh state")
	}

	a.pending = state.NewPendingBlock(0)
	for i, alloc := range allocations {
		note, err := GenesisNote(a.cfg.ChainID, uint64(i), alloc)
		if err != nil {
			return nil, err
		}
		a.pending.StageCommitment(note.Commitment())
		a.log.Info().
			Str("address", alloc.Address).
			Uint64("amount", alloc.Amount).
			Msg("processing genesis allocation")
	}

	a.phase = phaseCommitting
	return a.Commit(ctx)
}

// GenesisNote derives the deterministic note for allocation index i.
// Deterministic salts keep genesis reproducible; wallets re-derive them from
// the public genesis file.
func GenesisNote(chainID string, index uint64, alloc Allocation) (*types.Note, error) {
	pub, err := types.AddrToPub(alloc.Address)
	if err != nil {
		return nil, veilerrors.Wrap(veilerrors.ErrMalformedTransaction,
			"genesis allocation %d: %v", index, err)
	}
	salt := crypto.HashFields(
		crypto.HashBytes([]byte(chainID)),
		crypto.Uint64Field(index),
		crypto.HashBytes(pub.Bytes()),
		crypto.Uint64Field(alloc.Amount),
	)
	note := &types.Note{
		Version: types.NoteVersion,
		PubKey:  pub,
		Amount:  alloc.Amount,
	}
	copy(note.Salt[:], salt)
	return note, nil
}
