package field

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// Keccak256 hashes data with the Ethereum-style Keccak-256.
func Keccak256(data ...[]byte) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256(data...))
	return out
}

// Keccak256Field hashes data and reduces the digest into the field. Both the
// raw digest (submitted on chain) and the reduced element (circuit public
// input) are returned.
func Keccak256Field(data ...[]byte) (Element, [32]byte) {
	digest := Keccak256(data...)
	return ReduceBE(digest[:]), digest
}
