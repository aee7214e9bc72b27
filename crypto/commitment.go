package crypto

import (
	crand "crypto/rand"
	"errors"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"golang.org/x/crypto/blake2s"
)

// The shielded pool works over the BN254-embedded twisted Edwards curve, the
// same curve the proof circuits manipulate natively. G is the curve's base
// point; H is an independent generator used to blind value commitments.
var (
	curveParams = tedwards.GetEdwardsCurve()

	// GroupOrder is the prime order of the commitment group.
	GroupOrder = new(big.Int).Set(&curveParams.Order)

	valueBase    tedwards.PointAffine // G
	blindingBase tedwards.PointAffine // H

	// Affine coordinates of H, embedded as constants into the circuits.
	BlindingBaseX = new(big.Int)
	BlindingBaseY = new(big.Int)
)

func init() {
	valueBase.Set(&curveParams.Base)

	// H = hash_to_scalar("veil/value-blinding-generator") * G.
	h := blake2s.Sum256([]byte("veil/value-blinding-generator"))
	s := new(big.Int).SetBytes(h[:])
	s.Mod(s, GroupOrder)
	blindingBase.ScalarMultiplication(&valueBase, s)

	blindingBase.X.BigInt(BlindingBaseX)
	blindingBase.Y.BigInt(BlindingBaseY)
}

// ValueCommitment is a homomorphic Pedersen commitment amount*G + blinding*H.
type ValueCommitment struct {
	point tedwards.PointAffine
}

// CommitValue commits to amount with the given blinding factor.
func CommitValue(amount uint64, blinding *big.Int) *ValueCommitment {
	var vg, bh tedwards.PointAffine
	vg.ScalarMultiplication(&valueBase, new(big.Int).SetUint64(amount))
	bh.ScalarMultiplication(&blindingBase, blinding)

	var cv ValueCommitment
	cv.point.Add(&vg, &bh)
	return &cv
}

// FeeCommitment commits to the transparent fee with a zero blinding factor,
// so every validator derives the identical point.
func FeeCommitment(fee uint64) *ValueCommitment {
	var cv ValueCommitment
	cv.point.ScalarMultiplication(&valueBase, new(big.Int).SetUint64(fee))
	return &cv
}

// RandomBlinding samples a blinding factor below the group order.
func RandomBlinding() (*big.Int, error) {
	return crand.Int(crand.Reader, GroupOrder)
}

// Add returns cv + other.
func (cv *ValueCommitment) Add(other *ValueCommitment) *ValueCommitment {
	var out ValueCommitment
	out.point.Add(&cv.point, &other.point)
	return &out
}

// Sub returns cv - other.
func (cv *ValueCommitment) Sub(other *ValueCommitment) *ValueCommitment {
	var neg tedwards.PointAffine
	neg.Neg(&other.point)
	var out ValueCommitment
	out.point.Add(&cv.point, &neg)
	return &out
}

// Bytes returns the 32-byte compressed encoding.
func (cv *ValueCommitment) Bytes() [32]byte {
	var out [32]byte
	copy(out[:], cv.point.Marshal())
	return out
}

// Coords returns the affine coordinates as big integers, the form the proof
// circuits take them in as public inputs.
func (cv *ValueCommitment) Coords() (x, y *big.Int) {
	return cv.point.X.BigInt(new(big.Int)), cv.point.Y.BigInt(new(big.Int))
}

// ValueCommitmentFromBytes decodes a compressed commitment, rejecting
// off-curve encodings.
func ValueCommitmentFromBytes(b []byte) (*ValueCommitment, error) {
	if len(b) != 32 {
		return nil, errors.New("value commitment must be 32 bytes")
	}
	var cv ValueCommitment
	if err := cv.point.Unmarshal(b); err != nil {
		return nil, err
	}
	if !cv.point.IsOnCurve() {
		return nil, errors.New("value commitment not on curve")
	}
	return &cv, nil
}

// NoteCommit computes the note commitment MiMC(version, pkX, pkY, amount, salt).
func NoteCommit(version byte, pkX, pkY []byte, amount uint64, salt []byte) []byte {
	return HashFields(
		Pad32([]byte{version}),
		pkX,
		pkY,
		Uint64Field(amount),
		salt,
	)
}

// NullifierKey derives the nullifier key from the two 128-bit halves of the
// spend authorization scalar.
func NullifierKey(sk0, sk1 []byte) []byte {
	return HashFields(Pad32(sk0), Pad32(sk1))
}

// DeriveNullifier computes the nullifier for a note commitment at the given
// tree position. Including the position makes nullifiers of identical notes
// distinct.
func DeriveNullifier(nk, commitment []byte, position uint64) []byte {
	return HashFields(nk, commitment, Uint64Field(position))
}
