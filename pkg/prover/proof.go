package prover

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// OnChainProof is the uncompressed 256-byte Groth16 serialization the target
// verifier precompile expects: G1 points as x||y big-endian, G2 coordinates
// with the extension component c1 before c0.
type OnChainProof struct {
	A [64]byte
	B [128]byte
	C [64]byte
}

// Bytes concatenates a || b || c.
func (p OnChainProof) Bytes() []byte {
	out := make([]byte, 0, 256)
	out = append(out, p.A[:]...)
	out = append(out, p.B[:]...)
	out = append(out, p.C[:]...)
	return out
}

// EncodeOnChain converts a gnark BN254 proof into the on-chain layout.
func EncodeOnChain(proof groth16.Proof) (OnChainProof, error) {
	p, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return OnChainProof{}, fmt.Errorf("expected bn254 proof, got %T", proof)
	}

	var out OnChainProof

	ax := p.Ar.X.Bytes()
	ay := p.Ar.Y.Bytes()
	copy(out.A[:32], ax[:])
	copy(out.A[32:], ay[:])

	// G2: imaginary before real for each coordinate
	bx1 := p.Bs.X.A1.Bytes()
	bx0 := p.Bs.X.A0.Bytes()
	by1 := p.Bs.Y.A1.Bytes()
	by0 := p.Bs.Y.A0.Bytes()
	copy(out.B[:32], bx1[:])
	copy(out.B[32:64], bx0[:])
	copy(out.B[64:96], by1[:])
	copy(out.B[96:], by0[:])

	cx := p.Krs.X.Bytes()
	cy := p.Krs.Y.Bytes()
	copy(out.C[:32], cx[:])
	copy(out.C[32:], cy[:])

	return out, nil
}

// compress serializes a proof in the compressed (ark-default) form used for
// local verification.
func compress(proof groth16.Proof) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serializing proof: %v", err)
	}
	return buf.Bytes(), nil
}
