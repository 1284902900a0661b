package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"testing"

	"zkpool/pkg/field"
)

// stubSigner signs messages with a deterministic ed25519 key.
type stubSigner struct {
	priv ed25519.PrivateKey
	err  error
}

func newStubSigner(seed string) *stubSigner {
	sum := sha256.Sum256([]byte(seed))
	return &stubSigner{priv: ed25519.NewKeyFromSeed(sum[:])}
}

func (s *stubSigner) SignMessage(ctx context.Context, msg string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return ed25519.Sign(s.priv, []byte(msg)), nil
}

func TestDeriveSpendingKeyDeterministic(t *testing.T) {
	ctx := context.Background()
	signer := newStubSigner("wallet-a")

	k1, err := DeriveSpendingKey(ctx, signer)
	if err != nil {
		t.Fatalf("DeriveSpendingKey: %v", err)
	}
	k2, err := DeriveSpendingKey(ctx, signer)
	if err != nil {
		t.Fatalf("DeriveSpendingKey: %v", err)
	}

	if !k1.Sk.Equal(&k2.Sk) {
		t.Fatal("spending key is not deterministic")
	}
	pk := field.Poseidon1(k1.Sk)
	if !k1.Pk.Equal(&pk) {
		t.Fatal("pk is not Poseidon1(sk)")
	}
}

func TestDifferentWalletsDifferentKeys(t *testing.T) {
	ctx := context.Background()
	a, err := DeriveSpendingKey(ctx, newStubSigner("wallet-a"))
	if err != nil {
		t.Fatalf("DeriveSpendingKey: %v", err)
	}
	b, err := DeriveSpendingKey(ctx, newStubSigner("wallet-b"))
	if err != nil {
		t.Fatalf("DeriveSpendingKey: %v", err)
	}
	if a.Sk.Equal(&b.Sk) {
		t.Fatal("distinct wallets derived the same spending key")
	}
}

func TestSpendingAndEncryptionKeysIndependent(t *testing.T) {
	ctx := context.Background()
	signer := newStubSigner("wallet-a")

	spending, err := DeriveSpendingKey(ctx, signer)
	if err != nil {
		t.Fatalf("DeriveSpendingKey: %v", err)
	}
	encryption, err := DeriveEncryptionKeys(ctx, signer)
	if err != nil {
		t.Fatalf("DeriveEncryptionKeys: %v", err)
	}

	// The messages are distinct, so the key material must differ.
	skBytes := field.ToBEBytes(spending.Sk)
	if skBytes == encryption.Secret {
		t.Fatal("spending and encryption secrets collided")
	}

	again, err := DeriveEncryptionKeys(ctx, signer)
	if err != nil {
		t.Fatalf("DeriveEncryptionKeys: %v", err)
	}
	if encryption.Public != again.Public || encryption.Secret != again.Secret {
		t.Fatal("encryption keys are not deterministic")
	}
}

func TestEncryptionSecretIsClamped(t *testing.T) {
	ctx := context.Background()
	ek, err := DeriveEncryptionKeys(ctx, newStubSigner("wallet-a"))
	if err != nil {
		t.Fatalf("DeriveEncryptionKeys: %v", err)
	}
	if ek.Secret[0]&7 != 0 {
		t.Fatal("low bits not cleared")
	}
	if ek.Secret[31]&128 != 0 || ek.Secret[31]&64 == 0 {
		t.Fatal("high bits not clamped")
	}
}

func TestSignerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("user rejected")
	signer := &stubSigner{err: wantErr}

	if _, err := DeriveSpendingKey(ctx, signer); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped signer error, got %v", err)
	}
	if _, err := DeriveEncryptionKeys(ctx, signer); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped signer error, got %v", err)
	}
}
