package note

import (
	"errors"
	"fmt"
	"math/big"

	"zkpool/pkg/field"
)

// MaxAmountBits bounds note amounts; the circuit range-checks the same width.
const MaxAmountBits = 248

// EncryptedLen is the fixed output-note ciphertext length: 32-byte ephemeral
// key, 64-byte payload (amount || blinding, both field-LE), 16-byte MAC.
const EncryptedLen = 112

var (
	// ErrAmountOverflow is returned for amounts outside [0, 2^248).
	ErrAmountOverflow = errors.New("note amount exceeds 248 bits")

	// ErrCiphertext is returned for malformed or unopenable ciphertexts.
	ErrCiphertext = errors.New("invalid note ciphertext")
)

// Note is a shielded pool note (amount, owner public key, blinding).
type Note struct {
	Amount   field.Element
	Pk       field.Element
	Blinding field.Element
}

// New validates the amount range and builds a note.
func New(amount *big.Int, pk, blinding field.Element) (Note, error) {
	if amount.Sign() < 0 || amount.BitLen() >= MaxAmountBits {
		return Note{}, fmt.Errorf("amount %s: %w", amount, ErrAmountOverflow)
	}
	a, err := field.FromBigInt(amount)
	if err != nil {
		return Note{}, fmt.Errorf("amount %s: %w", amount, err)
	}
	return Note{Amount: a, Pk: pk, Blinding: blinding}, nil
}

// IsDummy reports whether the note is a zero-amount slot filler. The circuit
// skips Merkle membership for dummies but they still occupy input slots.
func (n Note) IsDummy() bool {
	return n.Amount.IsZero()
}

// Commitment is the pool-tree leaf of the note.
func (n Note) Commitment() field.Element {
	return field.Poseidon3(n.Amount, n.Pk, n.Blinding)
}

// Signature binds the spending key to a commitment at a leaf position. Valid
// in circuit only when pk = Poseidon1(sk).
func Signature(sk, commitment field.Element, pathIndices uint32) field.Element {
	return field.Poseidon3(sk, commitment, field.FromUint64(uint64(pathIndices)))
}

// Nullifier is revealed at spend time to prevent double spends.
func Nullifier(commitment field.Element, pathIndices uint32, signature field.Element) field.Element {
	return field.Poseidon3(commitment, field.FromUint64(uint64(pathIndices)), signature)
}

// Dummy blinding constants. Only their field-distinctness matters.
var dummyBlindings = [2]uint64{101, 202}

// DummyPair returns the two zero-amount notes used to pad input slots.
// Dummies use pathIndices = 0 and all-zero path elements.
func DummyPair(pk field.Element) [2]Note {
	var pair [2]Note
	for i := range pair {
		pair[i] = Note{Pk: pk, Blinding: field.FromUint64(dummyBlindings[i])}
	}
	return pair
}
