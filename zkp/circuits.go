// Package zkp is the proof-system glue: the spend and output circuits and
// their PLONK prover/verifier. The in-circuit MiMC and curve arithmetic must
// agree exactly with the host-side primitives in the crypto package; the
// anchor tree hash in particular is shared with the tree package.
package zkp

import (
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/mimc"

	veilcrypto "github.com/veilchain/veil/crypto"
)

var e128 = new(big.Int).Lsh(big.NewInt(1), 128)

// SpendCircuit proves, for public (anchor, nullifier, rk, cv): knowledge of a
// spend authorization scalar and a note opening whose commitment lies in the
// anchor tree at a private position, with the nullifier correctly derived,
// rk = pk + alpha*G, and cv = amount*G + blinding*H.
type SpendCircuit struct {
	// Authorization scalar in two 128-bit big-endian halves.
	Sk0 frontend.Variable
	Sk1 frontend.Variable

	Version  frontend.Variable
	Amount   frontend.Variable
	Salt     frontend.Variable
	Position frontend.Variable
	Path     []frontend.Variable

	Alpha    frontend.Variable
	Blinding frontend.Variable

	Anchor    frontend.Variable `gnark:",public"`
	Nullifier frontend.Variable `gnark:",public"`
	RkX       frontend.Variable `gnark:",public"`
	RkY       frontend.Variable `gnark:",public"`
	CvX       frontend.Variable `gnark:",public"`
	CvY       frontend.Variable `gnark:",public"`
}

func (c *SpendCircuit) Define(api frontend.API) error {
	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	_ = api.ToBinary(c.Sk0, 128)
	_ = api.ToBinary(c.Sk1, 128)
	_ = api.ToBinary(c.Amount, 64)

	base := twistededwards.Point{
		X: curve.Params().Base[0],
		Y: curve.Params().Base[1],
	}

	// pk = (Sk0*2^128 + Sk1) * G
	high := curve.ScalarMul(base, c.Sk0)
	high = curve.ScalarMul(high, e128.Bytes())
	low := curve.ScalarMul(base, c.Sk1)
	pk := curve.Add(high, low)
	curve.AssertIsOnCurve(pk)

	// Note commitment and tree membership.
	hasher.Reset()
	hasher.Write(c.Version, pk.X, pk.Y, c.Amount, c.Salt)
	cm := hasher.Sum()

	bits := api.ToBinary(c.Position, len(c.Path))
	cur := cm
	for h := 0; h < len(c.Path); h++ {
		left := api.Select(bits[h], c.Path[h], cur)
		right := api.Select(bits[h], cur, c.Path[h])
		hasher.Reset()
		hasher.Write(left, right)
		cur = hasher.Sum()
	}
	api.AssertIsEqual(c.Anchor, cur)

	// Nullifier derivation: nf = H(H(sk0, sk1), cm, position).
	hasher.Reset()
	hasher.Write(c.Sk0, c.Sk1)
	nk := hasher.Sum()
	hasher.Reset()
	hasher.Write(nk, cm, c.Position)
	api.AssertIsEqual(c.Nullifier, hasher.Sum())

	// Randomized verification key: rk = pk + alpha*G.
	rk := curve.Add(pk, curve.ScalarMul(base, c.Alpha))
	api.AssertIsEqual(c.RkX, rk.X)
	api.AssertIsEqual(c.RkY, rk.Y)

	// Value commitment: cv = amount*G + blinding*H.
	assertValueCommitment(api, curve, base, c.Amount, c.Blinding, c.CvX, c.CvY)
	return nil
}

// OutputCircuit proves, for public (cm, cv): well-formedness of a new note
// under its commitment and value commitment.
type OutputCircuit struct {
	Version  frontend.Variable
	PkX      frontend.Variable
	PkY      frontend.Variable
	Amount   frontend.Variable
	Salt     frontend.Variable
	Blinding frontend.Variable

	Commitment frontend.Variable `gnark:",public"`
	CvX        frontend.Variable `gnark:",public"`
	CvY        frontend.Variable `gnark:",public"`
}

func (c *OutputCircuit) Define(api frontend.API) error {
	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	_ = api.ToBinary(c.Amount, 64)

	recipient := twistededwards.Point{X: c.PkX, Y: c.PkY}
	curve.AssertIsOnCurve(recipient)

	hasher.Reset()
	hasher.Write(c.Version, c.PkX, c.PkY, c.Amount, c.Salt)
	api.AssertIsEqual(c.Commitment, hasher.Sum())

	base := twistededwards.Point{
		X: curve.Params().Base[0],
		Y: curve.Params().Base[1],
	}
	assertValueCommitment(api, curve, base, c.Amount, c.Blinding, c.CvX, c.CvY)
	return nil
}

func assertValueCommitment(api frontend.API, curve twistededwards.Curve, base twistededwards.Point,
	amount, blinding, cvX, cvY frontend.Variable) {

	blindingBase := twistededwards.Point{
		X: veilcrypto.BlindingBaseX,
		Y: veilcrypto.BlindingBaseY,
	}
	cv := curve.Add(
		curve.ScalarMul(base, amount),
		curve.ScalarMul(blindingBase, blinding),
	)
	api.AssertIsEqual(cvX, cv.X)
	api.AssertIsEqual(cvY, cv.Y)
}
