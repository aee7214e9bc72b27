package crypto

import (
	crand "crypto/rand"
	"errors"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"golang.org/x/crypto/blake2s"
)

// BindingSigSize is the byte length of a binding signature: R (32) || s (32).
const BindingSigSize = 64

// The binding signature is a Schnorr signature over the blinding generator H.
// A transaction whose value commitments balance satisfies
//
//	sum(cv_spends) - sum(cv_outputs) - fee*G = bsk*H
//
// where bsk is the signer's aggregate blinding factor. Producing a valid
// signature under the verification key derived from the commitments therefore
// proves conservation of value without revealing any amounts.

// BindingSign signs sighash under the aggregate blinding factor bsk.
func BindingSign(bsk *big.Int, sighash []byte) ([BindingSigSize]byte, error) {
	var sig [BindingSigSize]byte

	r, err := crand.Int(crand.Reader, GroupOrder)
	if err != nil {
		return sig, err
	}
	var R tedwards.PointAffine
	R.ScalarMultiplication(&blindingBase, r)
	rBytes := R.Marshal()

	var K tedwards.PointAffine
	K.ScalarMultiplication(&blindingBase, new(big.Int).Mod(bsk, GroupOrder))

	c := bindingChallenge(rBytes, K.Marshal(), sighash)

	// s = r + c*bsk mod order
	s := new(big.Int).Mul(c, bsk)
	s.Add(s, r)
	s.Mod(s, GroupOrder)

	copy(sig[:32], rBytes)
	copy(sig[32:], Pad32(s.Bytes()))
	return sig, nil
}

// BindingVerify checks sig over sighash under the verification key point,
// which the caller derives from the transaction's value commitments.
func BindingVerify(key *ValueCommitment, sighash []byte, sig [BindingSigSize]byte) error {
	var R tedwards.PointAffine
	if err := R.Unmarshal(sig[:32]); err != nil {
		return err
	}
	if !R.IsOnCurve() {
		return errors.New("binding signature R not on curve")
	}
	s := new(big.Int).SetBytes(sig[32:])
	if s.Cmp(GroupOrder) >= 0 {
		return errors.New("binding signature scalar out of range")
	}

	c := bindingChallenge(sig[:32], key.point.Marshal(), sighash)

	// s*H == R + c*K
	var lhs, cK, rhs tedwards.PointAffine
	lhs.ScalarMultiplication(&blindingBase, s)
	cK.ScalarMultiplication(&key.point, c)
	rhs.Add(&R, &cK)

	if !lhs.Equal(&rhs) {
		return errors.New("binding signature mismatch")
	}
	return nil
}

func bindingChallenge(rBytes, kBytes, sighash []byte) *big.Int {
	h, _ := blake2s.New256([]byte("veil/bindingsig0"))
	h.Write(rBytes)
	h.Write(kBytes)
	h.Write(sighash)
	c := new(big.Int).SetBytes(h.Sum(nil))
	return c.Mod(c, GroupOrder)
}
