package state

import (
	"github.com/veilchain/veil/types"
)

// PendingBlock stores the queued state changes of the block being executed:
// nullifiers staged for insertion and note commitments staged for tree
// append, in transaction order then action order. It is created at
// BeginBlock and consumed exactly once at Commit.
type PendingBlock struct {
	Height uint64

	spent     map[[types.NullifierSize]byte]struct{}
	spentList [][]byte

	commitments [][]byte
}

// NewPendingBlock opens a staging overlay for the block at height.
func NewPendingBlock(height uint64) *PendingBlock {
	return &PendingBlock{
		Height: height,
		spent:  make(map[[types.NullifierSize]byte]struct{}),
	}
}

// HasNullifier reports whether nf was already staged by an earlier
// transaction in this block. Ordering within the block resolves in-block
// double spends: the first transaction delivered wins.
func (pb *PendingBlock) HasNullifier(nf [types.NullifierSize]byte) bool {
	_, ok := pb.spent[nf]
	return ok
}

// AddTransaction stages the effects of a fully validated transaction. The
// caller has already established that none of its nullifiers conflict; a
// transaction's effects are staged all-or-nothing.
func (pb *PendingBlock) AddTransaction(tx *types.Transaction) {
	for _, nf := range tx.SpentNullifiers() {
		pb.spent[nf] = struct{}{}
		pb.spentList = append(pb.spentList, append([]byte(nil), nf[:]...))
	}
	for _, cm := range tx.OutputCommitments() {
		pb.commitments = append(pb.commitments, append([]byte(nil), cm[:]...))
	}
}

// StageCommitment stages a single note commitment outside any transaction,
// used only for genesis allocations.
func (pb *PendingBlock) StageCommitment(cm []byte) {
	pb.commitments = append(pb.commitments, append([]byte(nil), cm...))
}

// Nullifiers returns the staged nullifiers in staging order.
func (pb *PendingBlock) Nullifiers() [][]byte {
	return pb.spentList
}

// Commitments returns the staged note commitments in tree-append order.
func (pb *PendingBlock) Commitments() [][]byte {
	return pb.commitments
}
