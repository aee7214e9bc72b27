package crypto

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/consensys/gnark-crypto/signature"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

// Ciphertext sizes are consensus-critical wire constants: plaintext size plus
// the 16-byte Poly1305 tag.
const (
	NotePlaintextSize  = 116
	NoteCiphertextSize = NotePlaintextSize + 16 // 132

	MemoPlaintextSize  = 512
	MemoCiphertextSize = MemoPlaintextSize + 16 // 528

	EphemeralKeySize = 32
)

// EphemeralKeyPair is the per-output key used to derive the note encryption
// key with the recipient.
type EphemeralKeyPair struct {
	scalar *big.Int
	Public [EphemeralKeySize]byte
	point  tedwards.PointAffine
}

// NewEphemeralKeyPair samples a fresh ephemeral key.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	esk, err := crand.Int(crand.Reader, GroupOrder)
	if err != nil {
		return nil, err
	}
	var kp EphemeralKeyPair
	kp.scalar = esk
	kp.point.ScalarMultiplication(&valueBase, esk)
	copy(kp.Public[:], kp.point.Marshal())
	return &kp, nil
}

// SharedSecret computes esk * pk, hashed to a 32-byte symmetric key seed.
func (kp *EphemeralKeyPair) SharedSecret(recipient signature.PublicKey) ([]byte, error) {
	pk := recipient.(*eddsa.PublicKey)
	if !pk.A.IsOnCurve() {
		return nil, errors.New("recipient public key not on curve")
	}
	var shared tedwards.PointAffine
	shared.ScalarMultiplication(&pk.A, kp.scalar)
	x := shared.X.Bytes()
	sum := blake2s.Sum256(x[:])
	return sum[:], nil
}

// RecipientSharedSecret computes the recipient side of the ECDH exchange,
// sk * epk, matching the sender's esk * pk.
func RecipientSharedSecret(signer signature.Signer, epk []byte) ([]byte, error) {
	var point tedwards.PointAffine
	if err := point.Unmarshal(epk); err != nil {
		return nil, err
	}
	if !point.IsOnCurve() {
		return nil, errors.New("ephemeral public key not on curve")
	}
	sk := new(big.Int).SetBytes(signer.Bytes()[32:64])
	var shared tedwards.PointAffine
	shared.ScalarMultiplication(&point, sk)
	x := shared.X.Bytes()
	sum := blake2s.Sum256(x[:])
	return sum[:], nil
}

// ExpandKey derives outputLen bytes of key material from a 32-byte shared
// secret, PRF-expand style.
func ExpandKey(sharedSecret []byte, outputLen int) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, fmt.Errorf("shared secret must be 32 bytes, got %d", len(sharedSecret))
	}
	var stream []byte
	counter := byte(1)
	for len(stream) < outputLen {
		h, err := blake2s.New256([]byte("veil/note-expand"))
		if err != nil {
			return nil, err
		}
		h.Write(sharedSecret)
		h.Write([]byte{counter})
		stream = append(stream, h.Sum(nil)...)
		counter++
		if counter == 0 {
			return nil, errors.New("key expansion counter overflow")
		}
	}
	return stream[:outputLen], nil
}

// SealNote encrypts a fixed-size note plaintext under key, authenticating the
// ephemeral public key.
func SealNote(key, epk, plaintext []byte) ([]byte, error) {
	if len(plaintext) != NotePlaintextSize {
		return nil, fmt.Errorf("note plaintext must be %d bytes, got %d", NotePlaintextSize, len(plaintext))
	}
	return seal(key, epk, plaintext)
}

// SealMemo encrypts a fixed-size memo plaintext under key.
func SealMemo(key, epk, plaintext []byte) ([]byte, error) {
	if len(plaintext) != MemoPlaintextSize {
		return nil, fmt.Errorf("memo plaintext must be %d bytes, got %d", MemoPlaintextSize, len(plaintext))
	}
	return seal(key, epk, plaintext)
}

func seal(key, additionalData, plaintext []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes", chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 AEAD: %w", err)
	}
	// The key is single-use (one per ephemeral key), so a fixed nonce is safe.
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// OpenNote decrypts a note or memo ciphertext. The core never calls this;
// it exists for wallet-side collaborators and tests.
func OpenNote(key, additionalData, ciphertext []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes", chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Open(nil, nonce, ciphertext, additionalData)
}
