package merkle

import (
	"errors"
	"fmt"

	"zkpool/pkg/field"
)

var (
	// ErrTreeFull is returned when inserting into a tree with 2^depth leaves.
	ErrTreeFull = errors.New("merkle tree is full")

	// ErrIndexOutOfRange is returned for proof requests past the last leaf.
	ErrIndexOutOfRange = errors.New("leaf index out of range")
)

// Proof is a membership proof for a leaf. Bit j of PathIndices is 1 iff the
// sibling at level j is the left sibling.
type Proof struct {
	PathElements []field.Element
	PathIndices  uint32
}

// Tree is a fixed-depth append-only Merkle tree over Poseidon2. Empty slots
// hold the protocol zero leaf. Insert and Proof are O(depth) via the cached
// zero-subtree roots and right spine.
type Tree struct {
	depth      int
	zeroHashes []field.Element
	leaves     []field.Element
	// layers[0] are the leaves; layers[d] holds the single root
	layers [][]field.Element
}

// New creates an empty tree of the given depth.
func New(depth int) *Tree {
	if depth <= 0 || depth > 32 {
		panic(fmt.Sprintf("unsupported tree depth %d", depth))
	}

	t := &Tree{
		depth:      depth,
		zeroHashes: make([]field.Element, depth+1),
		layers:     make([][]field.Element, depth+1),
	}

	// Precompute zero-subtree roots for empty branches
	t.zeroHashes[0] = field.ZeroLeaf()
	for i := 1; i <= depth; i++ {
		t.zeroHashes[i] = field.Poseidon2Hash(t.zeroHashes[i-1], t.zeroHashes[i-1])
	}

	return t
}

// Depth returns the tree depth.
func (t *Tree) Depth() int { return t.depth }

// NextIndex returns the count of inserted leaves.
func (t *Tree) NextIndex() uint64 { return uint64(len(t.leaves)) }

// Insert appends a leaf and returns its index.
func (t *Tree) Insert(leaf field.Element) (uint64, error) {
	if uint64(len(t.leaves)) >= uint64(1)<<t.depth {
		return 0, ErrTreeFull
	}

	index := uint64(len(t.leaves))
	t.leaves = append(t.leaves, leaf)
	t.layers[0] = append(t.layers[0], leaf)

	// Update the path from the new leaf to the root
	pos := index
	for level := 0; level < t.depth; level++ {
		parent := pos / 2
		node := t.hashAt(level, pos&^1, pos|1)
		if uint64(len(t.layers[level+1])) <= parent {
			t.layers[level+1] = append(t.layers[level+1], node)
		} else {
			t.layers[level+1][parent] = node
		}
		pos = parent
	}

	return index, nil
}

// Root returns the current root.
func (t *Tree) Root() field.Element {
	if len(t.layers[t.depth]) == 0 {
		return t.zeroHashes[t.depth]
	}
	return t.layers[t.depth][0]
}

// Proof returns the membership proof for the leaf at index.
func (t *Tree) Proof(index uint64) (Proof, error) {
	if index >= uint64(len(t.leaves)) {
		return Proof{}, fmt.Errorf("index %d with %d leaves: %w", index, len(t.leaves), ErrIndexOutOfRange)
	}

	proof := Proof{PathElements: make([]field.Element, t.depth)}
	pos := index
	for level := 0; level < t.depth; level++ {
		sibling := pos ^ 1
		proof.PathElements[level] = t.node(level, sibling)
		if sibling < pos {
			// left sibling
			proof.PathIndices |= 1 << level
		}
		pos /= 2
	}

	return proof, nil
}

// Leaf returns the leaf stored at index.
func (t *Tree) Leaf(index uint64) (field.Element, error) {
	if index >= uint64(len(t.leaves)) {
		return field.Element{}, fmt.Errorf("index %d with %d leaves: %w", index, len(t.leaves), ErrIndexOutOfRange)
	}
	return t.leaves[index], nil
}

// Verify replays a proof against a root.
func Verify(root, leaf field.Element, proof Proof) bool {
	node := leaf
	for level, sibling := range proof.PathElements {
		if proof.PathIndices&(1<<level) != 0 {
			node = field.Poseidon2Hash(sibling, node)
		} else {
			node = field.Poseidon2Hash(node, sibling)
		}
	}
	return node.Equal(&root)
}

// node returns the stored node at (level, pos), or the zero-subtree root if
// that position is still empty.
func (t *Tree) node(level int, pos uint64) field.Element {
	if pos < uint64(len(t.layers[level])) {
		return t.layers[level][pos]
	}
	return t.zeroHashes[level]
}

func (t *Tree) hashAt(level int, left, right uint64) field.Element {
	return field.Poseidon2Hash(t.node(level, left), t.node(level, right))
}
