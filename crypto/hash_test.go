package crypto

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func TestHasherProducesFieldDigests(t *testing.T) {
	// Constructing the hasher must succeed with only this package linked in.
	h := NewHasher()
	_, err := h.Write(make([]byte, HashSize))
	require.NoError(t, err)
	require.Len(t, h.Sum(nil), HashSize)
}

func TestHashFieldsCanonicalizesInputs(t *testing.T) {
	// A value and the same value shifted by the field modulus must hash
	// identically: inputs are reduced before absorption.
	one := Uint64Field(1)
	shifted := new(big.Int).Add(fr.Modulus(), big.NewInt(1))
	require.Equal(t, HashFields(one), HashFields(Pad32(shifted.Bytes())))
	require.NotEqual(t, HashFields(one), HashFields(Uint64Field(2)))
}
