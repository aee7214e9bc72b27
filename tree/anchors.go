package tree

import "bytes"

// AnchorRing is the bounded window of recent tree roots still accepted as
// anchors. The window size is a consensus parameter: a root evicted from the
// window is permanently unusable, which trades anchor liveness for bounded
// state.
type AnchorRing struct {
	window int
	roots  [][]byte // newest first
}

// NewAnchorRing creates a window retaining up to window roots.
func NewAnchorRing(window int) *AnchorRing {
	return &AnchorRing{window: window}
}

// Push records a newly committed root, evicting the oldest beyond the
// window. One push per committed block, including empty blocks whose root is
// unchanged: window age is measured in blocks.
func (r *AnchorRing) Push(root []byte) {
	cp := append([]byte(nil), root...)
	r.roots = append([][]byte{cp}, r.roots...)
	if len(r.roots) > r.window {
		r.roots = r.roots[:r.window]
	}
}

// Contains reports whether root is still within the retained window.
func (r *AnchorRing) Contains(root []byte) bool {
	for _, known := range r.roots {
		if bytes.Equal(known, root) {
			return true
		}
	}
	return false
}

// Roots returns the retained roots, newest first.
func (r *AnchorRing) Roots() [][]byte {
	out := make([][]byte, len(r.roots))
	for i, root := range r.roots {
		out[i] = append([]byte(nil), root...)
	}
	return out
}

// RestoreAnchors rebuilds a ring from persisted roots (newest first).
func RestoreAnchors(window int, roots [][]byte) *AnchorRing {
	r := NewAnchorRing(window)
	for i := len(roots) - 1; i >= 0; i-- {
		r.Push(roots[i])
	}
	return r
}
