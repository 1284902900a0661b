package note

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"zkpool/pkg/field"
)

// Encrypt seals the note's (amount, blinding) pair to the recipient's X25519
// public key. The ciphertext length is fixed: only it is observable on chain.
func Encrypt(n Note, recipientPk [32]byte) ([]byte, error) {
	var payload [64]byte
	amountLE := field.ToLEBytes(n.Amount)
	blindingLE := field.ToLEBytes(n.Blinding)
	copy(payload[:32], amountLE[:])
	copy(payload[32:], blindingLE[:])

	ct, err := box.SealAnonymous(nil, payload[:], &recipientPk, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealing output note: %v", err)
	}
	if len(ct) != EncryptedLen {
		return nil, fmt.Errorf("sealed box is %d bytes, want %d: %w", len(ct), EncryptedLen, ErrCiphertext)
	}
	return ct, nil
}

// Decrypt opens a sealed output note with the recipient's keypair and
// reconstructs the note under the recipient's spending public key.
func Decrypt(ct []byte, notePk field.Element, encPk, encSk [32]byte) (Note, error) {
	if len(ct) != EncryptedLen {
		return Note{}, fmt.Errorf("ciphertext is %d bytes, want %d: %w", len(ct), EncryptedLen, ErrCiphertext)
	}

	payload, ok := box.OpenAnonymous(nil, ct, &encPk, &encSk)
	if !ok {
		return Note{}, fmt.Errorf("opening sealed box: %w", ErrCiphertext)
	}

	amount, err := field.FromLEBytes(payload[:32])
	if err != nil {
		return Note{}, fmt.Errorf("decoding amount: %w", err)
	}
	blinding, err := field.FromLEBytes(payload[32:])
	if err != nil {
		return Note{}, fmt.Errorf("decoding blinding: %w", err)
	}

	return Note{Amount: amount, Pk: notePk, Blinding: blinding}, nil
}
