package smt

import (
	"errors"
	"fmt"

	"zkpool/pkg/field"
)

var (
	// ErrSanctioned is returned when a non-membership proof is requested for
	// a key that is present in the tree.
	ErrSanctioned = errors.New("key is present in the non-membership tree")

	// ErrSlotOccupied is returned when inserting a key whose path position is
	// taken by a different key.
	ErrSlotOccupied = errors.New("smt slot occupied by another key")
)

// NonMembershipProof shows a key is absent: traversing Siblings by the bits
// of Key lands either on an empty leaf (IsOld0) or on a leaf holding a
// different key.
type NonMembershipProof struct {
	Key      field.Element
	OldKey   field.Element
	OldValue field.Element
	IsOld0   bool
	Siblings []field.Element
	Root     field.Element
}

type leafRecord struct {
	key   field.Element
	value field.Element
}

// Tree is a sparse Merkle key/value tree. Empty subtrees are the literal
// element 0 at every level, so the empty tree has root 0. Occupied leaves
// hash as Poseidon3(key, value, 1); internal nodes as Poseidon2. Path bits
// are taken LSB-first from the key.
type Tree struct {
	levels int
	leaves map[uint64]leafRecord
	// nodes[level][pos]; level 0 holds leaf hashes, level `levels` the root
	nodes []map[uint64]field.Element
}

// New creates an empty tree. Depths up to 20 are exercised in tests.
func New(levels int) *Tree {
	if levels <= 0 || levels > 32 {
		panic(fmt.Sprintf("unsupported smt depth %d", levels))
	}
	t := &Tree{
		levels: levels,
		leaves: make(map[uint64]leafRecord),
		nodes:  make([]map[uint64]field.Element, levels+1),
	}
	for i := range t.nodes {
		t.nodes[i] = make(map[uint64]field.Element)
	}
	return t
}

// Levels returns the tree depth.
func (t *Tree) Levels() int { return t.levels }

// Root returns the current root, 0 for the empty tree.
func (t *Tree) Root() field.Element {
	return t.node(t.levels, 0)
}

// position extracts the leaf slot from the low bits of the key.
func (t *Tree) position(key field.Element) uint64 {
	le := field.ToLEBytes(key)
	var pos uint64
	for i := 0; i < t.levels; i++ {
		if le[i/8]&(1<<(i%8)) != 0 {
			pos |= 1 << i
		}
	}
	return pos
}

// Insert sets key -> value. Inserting a key whose slot holds a different key
// fails; re-inserting the same key overwrites its value.
func (t *Tree) Insert(key, value field.Element) error {
	pos := t.position(key)
	if rec, ok := t.leaves[pos]; ok && !rec.key.Equal(&key) {
		return fmt.Errorf("position %d: %w", pos, ErrSlotOccupied)
	}

	t.leaves[pos] = leafRecord{key: key, value: value}
	t.nodes[0][pos] = field.Poseidon3(key, value, field.FromUint64(1))

	for level := 0; level < t.levels; level++ {
		parent := pos / 2
		left := t.node(level, pos&^1)
		right := t.node(level, pos|1)
		t.nodes[level+1][parent] = field.Poseidon2Hash(left, right)
		pos = parent
	}
	return nil
}

// Get returns the value stored for key and whether it is present.
func (t *Tree) Get(key field.Element) (field.Element, bool) {
	rec, ok := t.leaves[t.position(key)]
	if !ok || !rec.key.Equal(&key) {
		return field.Element{}, false
	}
	return rec.value, true
}

// NonMembershipProof builds the absence proof for key. A present key fails
// with ErrSanctioned. The empty tree short-circuits to the canonical proof
// without traversal.
func (t *Tree) NonMembershipProof(key field.Element) (NonMembershipProof, error) {
	proof := NonMembershipProof{
		Key:      key,
		Siblings: make([]field.Element, t.levels),
	}

	root := t.Root()
	if root.IsZero() {
		proof.IsOld0 = true
		return proof, nil
	}
	proof.Root = root

	pos := t.position(key)
	if rec, ok := t.leaves[pos]; ok {
		if rec.key.Equal(&key) {
			return NonMembershipProof{}, fmt.Errorf("key %s: %w", field.Hex(key), ErrSanctioned)
		}
		proof.OldKey = rec.key
		proof.OldValue = rec.value
	} else {
		proof.IsOld0 = true
	}

	p := pos
	for level := 0; level < t.levels; level++ {
		proof.Siblings[level] = t.node(level, p^1)
		p /= 2
	}

	return proof, nil
}

// VerifyNonMembership replays the proof against its root.
func VerifyNonMembership(proof NonMembershipProof) bool {
	if proof.Root.IsZero() {
		// canonical empty-tree proof
		if !proof.IsOld0 {
			return false
		}
		for _, s := range proof.Siblings {
			if !s.IsZero() {
				return false
			}
		}
		return true
	}

	var node field.Element
	if proof.IsOld0 {
		if !proof.OldKey.IsZero() || !proof.OldValue.IsZero() {
			return false
		}
	} else {
		if proof.OldKey.Equal(&proof.Key) {
			return false
		}
		node = field.Poseidon3(proof.OldKey, proof.OldValue, field.FromUint64(1))
	}

	le := field.ToLEBytes(proof.Key)
	for level, sibling := range proof.Siblings {
		if node.IsZero() && sibling.IsZero() {
			// both subtrees empty, parent stays the zero node
			continue
		}
		if le[level/8]&(1<<(level%8)) != 0 {
			node = field.Poseidon2Hash(sibling, node)
		} else {
			node = field.Poseidon2Hash(node, sibling)
		}
	}
	return node.Equal(&proof.Root)
}

func (t *Tree) node(level int, pos uint64) field.Element {
	if n, ok := t.nodes[level][pos]; ok {
		return n
	}
	return field.Element{}
}
