package note

import (
	"crypto/rand"
	"errors"
	"math/big"
	"testing"

	"golang.org/x/crypto/nacl/box"

	"zkpool/pkg/field"
)

func TestCommitmentDeterministic(t *testing.T) {
	pk := field.FromUint64(7)
	blinding := field.FromUint64(303)

	a, err := New(big.NewInt(500_000), pk, blinding)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(big.NewInt(500_000), pk, blinding)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ca, cb := a.Commitment(), b.Commitment()
	if !ca.Equal(&cb) {
		t.Fatal("identical notes produced different commitments")
	}

	// Changing any component changes the commitment.
	c, _ := New(big.NewInt(500_001), pk, blinding)
	cc := c.Commitment()
	if ca.Equal(&cc) {
		t.Fatal("commitment ignored the amount")
	}
	d, _ := New(big.NewInt(500_000), pk, field.FromUint64(404))
	cd := d.Commitment()
	if ca.Equal(&cd) {
		t.Fatal("commitment ignored the blinding")
	}
}

func TestAmountRange(t *testing.T) {
	pk := field.FromUint64(1)
	blinding := field.FromUint64(2)

	if _, err := New(big.NewInt(-1), pk, blinding); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("negative amount: expected ErrAmountOverflow, got %v", err)
	}

	over := new(big.Int).Lsh(big.NewInt(1), MaxAmountBits)
	if _, err := New(over, pk, blinding); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("2^248: expected ErrAmountOverflow, got %v", err)
	}

	max := new(big.Int).Sub(over, big.NewInt(1))
	if _, err := New(max, pk, blinding); err != nil {
		t.Fatalf("2^248-1 should be accepted: %v", err)
	}

	if _, err := New(big.NewInt(0), pk, blinding); err != nil {
		t.Fatalf("zero amount should be accepted: %v", err)
	}
}

func TestNullifierBindsPosition(t *testing.T) {
	sk := field.FromUint64(99)
	n := Note{Amount: field.FromUint64(10), Pk: field.Poseidon1(sk), Blinding: field.FromUint64(5)}
	commitment := n.Commitment()

	sig0 := Signature(sk, commitment, 0)
	sig1 := Signature(sk, commitment, 1)
	if sig0.Equal(&sig1) {
		t.Fatal("signature ignored path indices")
	}

	n0 := Nullifier(commitment, 0, sig0)
	n1 := Nullifier(commitment, 1, sig1)
	if n0.Equal(&n1) {
		t.Fatal("the same note at different positions must nullify differently")
	}

	again := Nullifier(commitment, 0, sig0)
	if !n0.Equal(&again) {
		t.Fatal("nullifier is not deterministic")
	}
}

func TestDummyPair(t *testing.T) {
	pk := field.FromUint64(11)
	pair := DummyPair(pk)

	for i, d := range pair {
		if !d.IsDummy() {
			t.Fatalf("dummy %d has non-zero amount", i)
		}
		if !d.Pk.Equal(&pk) {
			t.Fatalf("dummy %d carries the wrong owner", i)
		}
	}

	c0, c1 := pair[0].Commitment(), pair[1].Commitment()
	if c0.Equal(&c1) {
		t.Fatal("dummy pair must commit to distinct values")
	}

	sk := field.FromUint64(1)
	sig0 := Signature(sk, c0, 0)
	sig1 := Signature(sk, c1, 0)
	nf0 := Nullifier(c0, 0, sig0)
	nf1 := Nullifier(c1, 0, sig1)
	if nf0.Equal(&nf1) {
		t.Fatal("dummy pair nullifiers collided")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating recipient key: %v", err)
	}

	pk := field.FromUint64(77)
	n, err := New(big.NewInt(123_456), pk, field.FromUint64(888))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ct, err := Encrypt(n, *pub)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(ct) != EncryptedLen {
		t.Fatalf("ciphertext is %d bytes, want %d", len(ct), EncryptedLen)
	}

	got, err := Decrypt(ct, pk, *pub, *priv)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !got.Amount.Equal(&n.Amount) || !got.Blinding.Equal(&n.Blinding) {
		t.Fatal("decrypted note differs from original")
	}

	gc, nc := got.Commitment(), n.Commitment()
	if !gc.Equal(&nc) {
		t.Fatal("decrypted note commits differently")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	pub, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	otherPub, otherPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	n, _ := New(big.NewInt(1), field.FromUint64(1), field.FromUint64(1))
	ct, err := Encrypt(n, *pub)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(ct, n.Pk, *otherPub, *otherPriv); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("wrong key: expected ErrCiphertext, got %v", err)
	}
}

func TestDecryptRejectsWrongLength(t *testing.T) {
	pub, priv, _ := box.GenerateKey(rand.Reader)
	if _, err := Decrypt(make([]byte, EncryptedLen-1), field.Element{}, *pub, *priv); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("short ciphertext: expected ErrCiphertext, got %v", err)
	}
}
