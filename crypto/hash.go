// Package crypto supplies the primitives consumed by the shielded pool:
// the MiMC hash shared with the proof circuits, Pedersen value commitments,
// the binding signature scheme, and note encryption.
//
// The MiMC instance here and the in-circuit MiMC gadget must stay in exact
// agreement; any divergence silently breaks every future spend proof
// referencing the affected subtree.
package crypto

import (
	"encoding/binary"
	"hash"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	_ "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc" // registers MIMC_BN254
	gnarkhash "github.com/consensys/gnark-crypto/hash"
)

// HashSize is the byte length of all digests, commitments and nullifiers.
const HashSize = 32

// NewHasher returns the MiMC hasher over the BN254 scalar field.
func NewHasher() hash.Hash {
	return gnarkhash.MIMC_BN254.New()
}

// HashFields hashes a sequence of 32-byte field encodings. Each input is
// reduced to canonical form before being absorbed, matching what the circuit
// MiMC gadget sees for the same values.
func HashFields(ins ...[]byte) []byte {
	hasher := NewHasher()
	for _, in := range ins {
		var elem fr.Element
		elem.SetBytes(in)
		b := elem.Bytes()
		if _, err := hasher.Write(b[:]); err != nil {
			panic(err)
		}
	}
	return hasher.Sum(nil)
}

// HashBytes hashes an arbitrary byte string by absorbing it in 32-byte
// blocks, reducing each block to canonical field form.
func HashBytes(data []byte) []byte {
	hasher := NewHasher()
	blockSize := hasher.Size()
	for i := 0; i < len(data); i += blockSize {
		end := i + blockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		if len(chunk) == blockSize {
			var elem fr.Element
			elem.SetBytes(chunk)
			b := elem.Bytes()
			chunk = b[:]
		}
		if _, err := hasher.Write(chunk); err != nil {
			panic(err)
		}
	}
	return hasher.Sum(nil)
}

// Pad32 left-pads b to a 32-byte field encoding.
func Pad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// Uint64Field encodes v as a 32-byte big-endian field element.
func Uint64Field(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}
