package types

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/consensys/gnark-crypto/signature"

	"github.com/veilchain/veil/crypto"
)

const addrVersion = 0x01

// EncodeAddress renders a public key payload as a human-readable shielded
// address.
func EncodeAddress(payload []byte) string {
	return "vl" + base58.CheckEncode(payload, addrVersion)
}

// DecodeAddress parses a shielded address back into its public key payload.
func DecodeAddress(addr string) ([]byte, error) {
	if !strings.HasPrefix(addr, "vl") {
		return nil, fmt.Errorf("wrong address prefix: got(%s)", addr)
	}
	bz, ver, err := base58.CheckDecode(addr[2:])
	if err != nil {
		return nil, err
	}
	if ver != addrVersion {
		return nil, fmt.Errorf("wrong address version: expected(%d), got(%d)", addrVersion, ver)
	}
	return bz, nil
}

// PubToAddr encodes a spend authorization public key as an address.
func PubToAddr(pub signature.PublicKey) string {
	return EncodeAddress(pub.Bytes())
}

// AddrToPub decodes an address into its spend authorization public key.
func AddrToPub(addr string) (signature.PublicKey, error) {
	payload, err := DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	pub := crypto.NewPublicKey()
	if _, err := pub.SetBytes(payload); err != nil {
		return nil, err
	}
	return pub, nil
}
