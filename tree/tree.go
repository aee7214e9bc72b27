// Package tree maintains the append-only note commitment tree and the bounded
// window of recent roots accepted as anchors.
package tree

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/veilchain/veil/crypto"
)

// ErrTreeFull is returned when the lifetime commitment budget of the chain is
// exhausted. Appending past capacity would silently change root semantics, so
// callers must treat this as fatal.
var ErrTreeFull = errors.New("note commitment tree is full")

// CommitmentTree is a fixed-depth incremental Merkle accumulator. Leaves are
// note commitments; interior nodes hash with the same MiMC instance the proof
// circuits use. Appends are O(depth) via the frontier of completed subtrees;
// leaves are retained so witnesses can be served to wallet collaborators.
//
// Not safe for concurrent use; the block pipeline serializes mutation.
type CommitmentTree struct {
	depth    int
	size     uint64
	frontier [][]byte
	empties  [][]byte
	leaves   [][]byte
	root     []byte

	// fullRoot holds the final root once every slot is occupied. The frontier
	// alone cannot express it: the last insert carries past the top level.
	fullRoot []byte
}

// New creates an empty tree of the given depth (capacity 2^depth leaves).
func New(depth int) (*CommitmentTree, error) {
	if depth < 1 || depth > 48 {
		return nil, fmt.Errorf("unsupported tree depth %d", depth)
	}
	t := &CommitmentTree{
		depth:    depth,
		frontier: make([][]byte, depth),
		empties:  make([][]byte, depth+1),
	}
	t.empties[0] = make([]byte, crypto.HashSize)
	for i := 0; i < depth; i++ {
		t.empties[i+1] = crypto.HashFields(t.empties[i], t.empties[i])
	}
	t.root = t.computeRoot()
	return t, nil
}

// Depth returns the fixed tree depth.
func (t *CommitmentTree) Depth() int { return t.depth }

// Size returns the number of appended leaves.
func (t *CommitmentTree) Size() uint64 { return t.size }

// Root returns the current root. For an empty tree this is the hash of an
// all-empty leaf set, a valid repeatable state.
func (t *CommitmentTree) Root() []byte {
	out := make([]byte, len(t.root))
	copy(out, t.root)
	return out
}

// Append inserts a batch of note commitments in order and returns the new
// root. The root is recomputed once per batch: all commitments of a block
// land under a single new anchor.
func (t *CommitmentTree) Append(commitments [][]byte) ([]byte, error) {
	if t.size+uint64(len(commitments)) > uint64(1)<<t.depth {
		return nil, ErrTreeFull
	}
	for _, cm := range commitments {
		leaf := crypto.Pad32(cm)
		t.insert(leaf)
		t.leaves = append(t.leaves, leaf)
	}
	t.root = t.computeRoot()
	return t.Root(), nil
}

func (t *CommitmentTree) insert(leaf []byte) {
	node := leaf
	idx := t.size
	placed := false
	for h := 0; h < t.depth; h++ {
		if idx&1 == 0 {
			t.frontier[h] = node
			placed = true
			break
		}
		node = crypto.HashFields(t.frontier[h], node)
		idx >>= 1
	}
	if !placed {
		// The final leaf completed every subtree; node is the root itself.
		t.fullRoot = node
	}
	t.size++
}

func (t *CommitmentTree) computeRoot() []byte {
	if t.size == uint64(1)<<t.depth {
		return t.fullRoot
	}
	cur := t.empties[0]
	idx := t.size
	for h := 0; h < t.depth; h++ {
		if idx&1 == 1 {
			cur = crypto.HashFields(t.frontier[h], cur)
		} else {
			cur = crypto.HashFields(cur, t.empties[h])
		}
		idx >>= 1
	}
	return cur
}

// Witness returns the Merkle path for the leaf at index, sibling nodes from
// leaf level up. Consumed by external wallet collaborators when building
// spend proofs; the node's own validation never calls it.
func (t *CommitmentTree) Witness(index uint64) ([][]byte, error) {
	if index >= t.size {
		return nil, fmt.Errorf("leaf index %d out of range (size %d)", index, t.size)
	}
	path := make([][]byte, t.depth)
	nodes := make([][]byte, len(t.leaves))
	copy(nodes, t.leaves)

	idx := index
	for h := 0; h < t.depth; h++ {
		sib := idx ^ 1
		if sib < uint64(len(nodes)) {
			path[h] = nodes[sib]
		} else {
			path[h] = t.empties[h]
		}

		next := make([][]byte, (len(nodes)+1)/2)
		for i := 0; i < len(next); i++ {
			left := nodes[2*i]
			right := t.empties[h]
			if 2*i+1 < len(nodes) {
				right = nodes[2*i+1]
			}
			next[i] = crypto.HashFields(left, right)
		}
		nodes = next
		idx >>= 1
	}
	return path, nil
}

// VerifyWitness recomputes the root from a leaf and its path.
func VerifyWitness(root, leaf []byte, index uint64, path [][]byte) bool {
	cur := crypto.Pad32(leaf)
	idx := index
	for _, sib := range path {
		if idx&1 == 1 {
			cur = crypto.HashFields(sib, cur)
		} else {
			cur = crypto.HashFields(cur, sib)
		}
		idx >>= 1
	}
	return bytes.Equal(cur, root)
}

// Snapshot captures the tree's append state for persistence. Leaves are
// persisted separately, append-only.
type Snapshot struct {
	Size     uint64
	Frontier [][]byte
}

// Snapshot returns the current frontier state.
func (t *CommitmentTree) Snapshot() Snapshot {
	fr := make([][]byte, len(t.frontier))
	for i, f := range t.frontier {
		if f != nil {
			fr[i] = append([]byte(nil), f...)
		}
	}
	return Snapshot{Size: t.size, Frontier: fr}
}

// Restore rebuilds a tree from a persisted snapshot and the retained leaves.
func Restore(depth int, snap Snapshot, leaves [][]byte) (*CommitmentTree, error) {
	t, err := New(depth)
	if err != nil {
		return nil, err
	}
	if uint64(len(leaves)) != snap.Size {
		return nil, fmt.Errorf("leaf count %d does not match snapshot size %d", len(leaves), snap.Size)
	}
	if len(snap.Frontier) != depth {
		return nil, fmt.Errorf("frontier length %d does not match depth %d", len(snap.Frontier), depth)
	}
	t.size = snap.Size
	for i, f := range snap.Frontier {
		if len(f) > 0 {
			t.frontier[i] = append([]byte(nil), f...)
		}
	}
	t.leaves = make([][]byte, len(leaves))
	for i, l := range leaves {
		t.leaves[i] = crypto.Pad32(l)
	}
	if t.size == uint64(1)<<t.depth {
		// A full snapshot carries no usable frontier; rebuild the root from
		// the retained leaves.
		nodes := make([][]byte, len(t.leaves))
		copy(nodes, t.leaves)
		for h := 0; h < t.depth; h++ {
			next := make([][]byte, len(nodes)/2)
			for i := range next {
				next[i] = crypto.HashFields(nodes[2*i], nodes[2*i+1])
			}
			nodes = next
		}
		t.fullRoot = nodes[0]
	}
	t.root = t.computeRoot()
	return t, nil
}
