package state

import (
	"sort"

	"github.com/veilchain/veil/crypto"
)

// AppState is the canonical consensus-relevant state after a committed
// block. Its hash is what the consensus engine cross-checks across
// validators.
type AppState struct {
	Height     uint64
	Root       []byte
	AppHash    []byte
	Nullifiers uint64
}

// genesisChain is the app-hash chain seed for block 0's predecessor.
var genesisChain = make([]byte, crypto.HashSize)

// ComputeAppHash chains the block's committed effects onto the previous app
// hash. The nullifier digest absorbs the block's nullifiers in sorted order
// so the hash is independent of intra-block staging order.
func ComputeAppHash(prevAppHash, root []byte, height uint64, nullifiers [][]byte) []byte {
	if len(prevAppHash) == 0 {
		prevAppHash = genesisChain
	}

	sorted := make([][]byte, len(nullifiers))
	copy(sorted, nullifiers)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i]) < string(sorted[j])
	})
	nfDigest := make([]byte, crypto.HashSize)
	if len(sorted) > 0 {
		nfDigest = crypto.HashFields(sorted...)
	}

	return crypto.HashFields(
		prevAppHash,
		root,
		crypto.Uint64Field(height),
		nfDigest,
	)
}
