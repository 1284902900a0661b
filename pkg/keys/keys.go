package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/curve25519"

	"zkpool/pkg/field"
)

// The two wallet messages. They must stay distinct: reusing one signature for
// both the spending key and the encryption key is forbidden.
const (
	SpendingKeyMessage   = "Privacy Pool Spending Key [v1]"
	EncryptionKeyMessage = "Sign to access Privacy Pool [v1]"
)

// MessageSigner is the slice of the wallet the key derivation needs.
type MessageSigner interface {
	SignMessage(ctx context.Context, msg string) ([]byte, error)
}

// SpendingKey is the BN254 spending key and its circuit public key.
type SpendingKey struct {
	Sk field.Element
	Pk field.Element // Poseidon1(Sk), the circuit Keypair gadget
}

// EncryptionKeys is the X25519 keypair used for output-note sealed boxes.
// It is independent of the spending key by construction.
type EncryptionKeys struct {
	Public [32]byte
	Secret [32]byte
}

// DeriveSpendingKey signs SpendingKeyMessage and hashes the signature into a
// field element. On the (practically unreachable) non-canonical digest the
// KDF re-hashes with a counter byte appended, so derivation is total.
func DeriveSpendingKey(ctx context.Context, signer MessageSigner) (*SpendingKey, error) {
	sig, err := signer.SignMessage(ctx, SpendingKeyMessage)
	if err != nil {
		return nil, fmt.Errorf("signing spending key message: %w", err)
	}

	digest := field.Keccak256(sig)
	sk, err := field.FromBEBytes(digest[:])
	for counter := byte(0); err != nil; counter++ {
		if !errors.Is(err, field.ErrFieldOverflow) {
			return nil, fmt.Errorf("deriving spending key: %w", err)
		}
		log.Debug().Uint8("counter", counter).Msg("KDF digest non-canonical, re-hashing")
		digest = field.Keccak256(digest[:], []byte{counter})
		sk, err = field.FromBEBytes(digest[:])
	}

	return &SpendingKey{Sk: sk, Pk: field.Poseidon1(sk)}, nil
}

// DeriveEncryptionKeys signs EncryptionKeyMessage and derives a deterministic
// X25519 keypair from the signature.
func DeriveEncryptionKeys(ctx context.Context, signer MessageSigner) (*EncryptionKeys, error) {
	sig, err := signer.SignMessage(ctx, EncryptionKeyMessage)
	if err != nil {
		return nil, fmt.Errorf("signing encryption key message: %w", err)
	}

	secret := field.Keccak256(sig)
	clamp(&secret)

	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving X25519 public key: %v", err)
	}

	ek := &EncryptionKeys{Secret: secret}
	copy(ek.Public[:], pub)
	return ek, nil
}

// clamp applies the standard Curve25519 scalar clamping.
func clamp(s *[32]byte) {
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
}
