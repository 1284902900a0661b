package field

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Element is a BN254 scalar field element. All note values, commitments,
// nullifiers and tree nodes are Elements; byte encodings are explicit.
type Element = fr.Element

var (
	// ErrFieldOverflow is returned when a 32-byte encoding does not represent
	// a canonical field element (value >= BN254_FR).
	ErrFieldOverflow = errors.New("field overflow: value not a canonical BN254 scalar")

	// ErrInvalidHex is returned for malformed hex input.
	ErrInvalidHex = errors.New("invalid hex encoding")
)

// zeroLeafHex is the empty-slot leaf of the pool tree, big-endian. It is a
// protocol constant fixed by the circuit; both must agree byte for byte.
const zeroLeafHex = "2530e29b4f7e12a6c10b1a1bfcbece4bd0c644bb2f1c1fe54b5d0a1d6e83f9ce"

// ZeroLeaf returns the empty-slot leaf constant.
func ZeroLeaf() Element {
	var e Element
	b, _ := hex.DecodeString(zeroLeafHex)
	e.SetBytes(b)
	return e
}

// Modulus returns the BN254 scalar field modulus.
func Modulus() *big.Int {
	return fr.Modulus()
}

// FromBEBytes decodes a canonical big-endian 32-byte encoding.
func FromBEBytes(b []byte) (Element, error) {
	var e Element
	if len(b) != fr.Bytes {
		return e, fmt.Errorf("expected %d bytes, got %d: %w", fr.Bytes, len(b), ErrFieldOverflow)
	}
	var buf [fr.Bytes]byte
	copy(buf[:], b)
	if err := e.SetBytesCanonical(buf[:]); err != nil {
		return e, ErrFieldOverflow
	}
	return e, nil
}

// FromLEBytes decodes a canonical little-endian 32-byte encoding, the default
// wire form towards the circuit.
func FromLEBytes(b []byte) (Element, error) {
	if len(b) != fr.Bytes {
		return Element{}, fmt.Errorf("expected %d bytes, got %d: %w", fr.Bytes, len(b), ErrFieldOverflow)
	}
	return FromBEBytes(reverse(b))
}

// ToBEBytes encodes e big-endian (hex display, Keccak input).
func ToBEBytes(e Element) [32]byte {
	return e.Bytes()
}

// ToLEBytes encodes e little-endian (circuit wire form).
func ToLEBytes(e Element) [32]byte {
	be := e.Bytes()
	var le [32]byte
	for i := range be {
		le[i] = be[31-i]
	}
	return le
}

// ReduceBE interprets b as a big-endian integer and reduces it mod BN254_FR.
// Used for Keccak digests and KDF outputs where reduction is intended.
func ReduceBE(b []byte) Element {
	var e Element
	e.SetBytes(b)
	return e
}

// FromDecimal parses a base-10 canonical field element.
func FromDecimal(s string) (Element, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return Element{}, fmt.Errorf("parsing %q: %w", s, ErrInvalidHex)
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return Element{}, ErrFieldOverflow
	}
	var e Element
	e.SetBigInt(v)
	return e, nil
}

// Decimal renders e as the base-10 string the witness wire format requires.
func Decimal(e Element) string {
	var v big.Int
	e.BigInt(&v)
	return v.String()
}

// FromHex parses a canonical big-endian hex encoding, with or without 0x.
func FromHex(s string) (Element, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Element{}, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	if len(b) > fr.Bytes {
		return Element{}, ErrFieldOverflow
	}
	padded := make([]byte, fr.Bytes)
	copy(padded[fr.Bytes-len(b):], b)
	return FromBEBytes(padded)
}

// Hex renders e as 0x-prefixed big-endian hex.
func Hex(e Element) string {
	b := e.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

// FromUint64 lifts a machine word into the field.
func FromUint64(v uint64) Element {
	var e Element
	e.SetUint64(v)
	return e
}

// FromBigInt lifts a non-negative big integer; values >= BN254_FR fail.
func FromBigInt(v *big.Int) (Element, error) {
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return Element{}, ErrFieldOverflow
	}
	var e Element
	e.SetBigInt(v)
	return e, nil
}

// RandomElement samples a uniform field element from crypto/rand. Blindings
// must come from here; time-seeded randomness is not acceptable.
func RandomElement() (Element, error) {
	var buf [48]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Element{}, fmt.Errorf("sampling randomness: %v", err)
	}
	v := new(big.Int).SetBytes(buf[:])
	v.Mod(v, fr.Modulus())
	var e Element
	e.SetBigInt(v)
	return e, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
