package extdata

import (
	"errors"
	"fmt"
	"math/big"

	"zkpool/pkg/field"
)

// ErrInvalidAddress is returned for malformed recipient strkeys.
var ErrInvalidAddress = errors.New("invalid recipient address")

// ExtData is the transaction metadata bound to a proof through its hash.
// EncryptedOutput0/1 are filled by the witness assembler, not the caller.
type ExtData struct {
	Recipient        string // strkey, G... account or C... contract
	ExtAmount        *big.Int
	Fee              uint64
	EncryptedOutput0 []byte
	EncryptedOutput1 []byte
}

// Hash is the ext-data digest in both forms the pipeline needs: the reduced
// field element fed to the circuit and the verbatim big-endian digest passed
// to the on-chain submit call.
type Hash struct {
	Field field.Element
	Bytes [32]byte
}

// CanonicalBytes serializes the metadata as the chain's ScMap with entries in
// byte-lexicographic symbol order:
//
//	encrypted_output0 < encrypted_output1 < ext_amount < recipient
//
// The encoder sorts programmatically, so the order is a property of the keys
// rather than of this function.
func (e *ExtData) CanonicalBytes() ([]byte, error) {
	addr, err := decodeStrkey(e.Recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %w", e.Recipient, err)
	}

	m := newScMap()
	m.putBytes("encrypted_output0", e.EncryptedOutput0)
	m.putBytes("encrypted_output1", e.EncryptedOutput1)
	m.putI256("ext_amount", e.ExtAmount)
	m.putAddress("recipient", addr)

	return m.encode()
}

// Hash computes Keccak-256 over the canonical bytes and reduces into the field.
func (e *ExtData) Hash() (Hash, error) {
	raw, err := e.CanonicalBytes()
	if err != nil {
		return Hash{}, err
	}
	elem, digest := field.Keccak256Field(raw)
	return Hash{Field: elem, Bytes: digest}, nil
}
