package crypto

import (
	crand "crypto/rand"
	"errors"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/consensys/gnark-crypto/signature"
)

// NewSpendKey generates a fresh spend authorization key pair.
func NewSpendKey() (signature.Signer, error) {
	return eddsa.GenerateKey(crand.Reader)
}

// NewPublicKey returns an empty public key for deserialization.
func NewPublicKey() signature.PublicKey {
	return new(eddsa.PublicKey)
}

// SpendScalarHalves splits the signer's authorization scalar into the two
// 128-bit big-endian halves the spend circuit consumes.
func SpendScalarHalves(signer signature.Signer) (sk0, sk1 []byte) {
	s := signer.Bytes()[32:64]
	return s[:16], s[16:32]
}

// PublicKeyCoords returns the affine coordinates of an eddsa public key as
// 32-byte field encodings.
func PublicKeyCoords(pub signature.PublicKey) (x, y []byte) {
	p := pub.(*eddsa.PublicKey)
	xb := p.A.X.Bytes()
	yb := p.A.Y.Bytes()
	return xb[:], yb[:]
}

// RandomizedKey computes rk = pk + alpha*G, the per-transaction randomization
// of the spend authorization key revealed in a spend.
func RandomizedKey(pub signature.PublicKey, alpha *big.Int) (x, y *big.Int) {
	p := pub.(*eddsa.PublicKey)
	var ag, rk tedwards.PointAffine
	ag.ScalarMultiplication(&valueBase, alpha)
	rk.Add(&p.A, &ag)
	return rk.X.BigInt(new(big.Int)), rk.Y.BigInt(new(big.Int))
}

// RandomizedKeyBytes packs the affine coordinates of rk into the 64-byte wire
// form x||y.
func RandomizedKeyBytes(x, y *big.Int) [64]byte {
	var out [64]byte
	copy(out[:32], Pad32(x.Bytes()))
	copy(out[32:], Pad32(y.Bytes()))
	return out
}

// RandomizerScalar samples the key randomizer alpha.
func RandomizerScalar() (*big.Int, error) {
	return crand.Int(crand.Reader, GroupOrder)
}

// CheckRandomizedKey rejects randomized keys whose coordinates do not name a
// point on the curve. The proof binds rk to the note's authorization key; the
// node only needs the encoding to be well formed.
func CheckRandomizedKey(rk [64]byte) error {
	var p tedwards.PointAffine
	p.X.SetBytes(rk[:32])
	p.Y.SetBytes(rk[32:])
	if !p.IsOnCurve() {
		return errors.New("randomized verification key not on curve")
	}
	return nil
}
