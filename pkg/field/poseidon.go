package field

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// Poseidon2 parameters shared with the circuit. The in-circuit gadget is
// instantiated with the same widths/rounds so native and proven hashes agree.
// BN254 Poseidon2 ships widths 2 and 3 only; wider arities are built by
// folding through the two-input compression.
const (
	PoseidonFullRounds    = 8
	PoseidonPartialRounds = 56
)

var (
	perm2 = poseidon2.NewPermutation(2, PoseidonFullRounds, PoseidonPartialRounds)
	perm3 = poseidon2.NewPermutation(3, PoseidonFullRounds, PoseidonPartialRounds)
)

// hashN runs the width len(in)+1 permutation over a capacity-0 sponge and
// returns the first rate slot.
func hashN(perm *poseidon2.Permutation, in ...Element) Element {
	state := make([]Element, len(in)+1)
	copy(state[1:], in)
	if err := perm.Permutation(state); err != nil {
		// widths are fixed at init; a mismatch is a programming error
		panic(err)
	}
	return state[1]
}

// Poseidon1 is the arity-1 hash used by the circuit's Keypair gadget.
func Poseidon1(a Element) Element {
	return hashN(perm2, a)
}

// Poseidon2Hash is the arity-2 hash used for Merkle internal nodes.
func Poseidon2Hash(a, b Element) Element {
	return hashN(perm3, a, b)
}

// Poseidon3 is the three-input hash used for commitments, signatures,
// nullifiers and compliance leaves. It is the left fold of the two-input
// compression; the circuit gadget folds identically.
func Poseidon3(a, b, c Element) Element {
	return Poseidon2Hash(Poseidon2Hash(a, b), c)
}
