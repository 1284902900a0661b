package merkle

import (
	"errors"
	"testing"

	"zkpool/pkg/field"
)

func TestEmptyTreeRoot(t *testing.T) {
	tree := New(5)

	// The empty root is the zero leaf hashed up every level.
	node := field.ZeroLeaf()
	for i := 0; i < 5; i++ {
		node = field.Poseidon2Hash(node, node)
	}
	root := tree.Root()
	if !root.Equal(&node) {
		t.Fatalf("empty root = %s, want %s", field.Hex(root), field.Hex(node))
	}
	if tree.NextIndex() != 0 {
		t.Fatalf("empty tree has next index %d", tree.NextIndex())
	}
}

func TestInsertAndProve(t *testing.T) {
	tree := New(5)

	leaves := make([]field.Element, 7)
	for i := range leaves {
		leaves[i] = field.FromUint64(uint64(1000 + i))
		index, err := tree.Insert(leaves[i])
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		if index != uint64(i) {
			t.Fatalf("leaf %d got index %d", i, index)
		}
	}

	root := tree.Root()
	for i, leaf := range leaves {
		proof, err := tree.Proof(uint64(i))
		if err != nil {
			t.Fatalf("Proof %d: %v", i, err)
		}
		if len(proof.PathElements) != 5 {
			t.Fatalf("proof %d has %d elements", i, len(proof.PathElements))
		}
		if !Verify(root, leaf, proof) {
			t.Fatalf("proof %d does not verify", i)
		}
	}
}

func TestProofDetectsTampering(t *testing.T) {
	tree := New(4)
	leaf := field.FromUint64(42)
	index, err := tree.Insert(leaf)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tree.Insert(field.FromUint64(43)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	root := tree.Root()
	proof, err := tree.Proof(index)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	wrongLeaf := field.FromUint64(41)
	if Verify(root, wrongLeaf, proof) {
		t.Fatal("proof verified a different leaf")
	}

	tampered := proof
	tampered.PathElements = append([]field.Element(nil), proof.PathElements...)
	tampered.PathElements[0] = field.FromUint64(1)
	if Verify(root, leaf, tampered) {
		t.Fatal("proof verified with a tampered sibling")
	}

	flipped := proof
	flipped.PathIndices ^= 1
	if Verify(root, leaf, flipped) {
		t.Fatal("proof verified with flipped path direction")
	}

	wrongRoot := field.FromUint64(99)
	if Verify(wrongRoot, leaf, proof) {
		t.Fatal("proof verified against the wrong root")
	}
}

func TestRootChangesPerInsert(t *testing.T) {
	tree := New(5)
	prev := tree.Root()
	for i := 0; i < 4; i++ {
		if _, err := tree.Insert(field.FromUint64(uint64(i + 1))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		root := tree.Root()
		if root.Equal(&prev) {
			t.Fatalf("root did not change after insert %d", i)
		}
		prev = root
	}
}

func TestOldProofInvalidAfterInsert(t *testing.T) {
	tree := New(4)
	leaf := field.FromUint64(7)
	index, _ := tree.Insert(leaf)
	proof, err := tree.Proof(index)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	oldRoot := tree.Root()

	if _, err := tree.Insert(field.FromUint64(8)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	newRoot := tree.Root()

	if !Verify(oldRoot, leaf, proof) {
		t.Fatal("proof must verify against the root it was built for")
	}
	if Verify(newRoot, leaf, proof) {
		t.Fatal("stale proof verified against the new root")
	}
}

func TestTreeFull(t *testing.T) {
	tree := New(2)
	for i := 0; i < 4; i++ {
		if _, err := tree.Insert(field.FromUint64(uint64(i))); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if _, err := tree.Insert(field.FromUint64(5)); !errors.Is(err, ErrTreeFull) {
		t.Fatalf("expected ErrTreeFull, got %v", err)
	}
}

func TestProofIndexOutOfRange(t *testing.T) {
	tree := New(3)
	if _, err := tree.Proof(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := tree.Leaf(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestPathIndicesMarkLeftSiblings(t *testing.T) {
	tree := New(3)
	tree.Insert(field.FromUint64(1))
	tree.Insert(field.FromUint64(2))

	// Leaf 1 is a right child: its level-0 sibling (leaf 0) is on the left.
	proof, err := tree.Proof(1)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if proof.PathIndices&1 == 0 {
		t.Fatal("bit 0 should mark the left sibling of an odd leaf")
	}

	// Leaf 0 is a left child everywhere in a two-leaf tree.
	proof, err = tree.Proof(0)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if proof.PathIndices != 0 {
		t.Fatalf("leaf 0 path indices = %b, want 0", proof.PathIndices)
	}
}
