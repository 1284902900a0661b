package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/permutation/poseidon2"
	"github.com/consensys/gnark/std/rangecheck"

	"zkpool/pkg/field"
	"zkpool/pkg/note"
)

// Slot counts are compile-time constants of the circuit.
const (
	NIns  = 2
	NOuts = 2
)

// Transaction2x2 proves one shielded pool state transition: input notes are
// leaves of the pool tree (unless dummy), their nullifiers are correctly
// derived, amounts balance against the public amount, and every non-dummy
// input's owner is registered with the ASP and absent from the sanctions SMT.
type Transaction2x2 struct {
	// Public inputs
	Root             frontend.Variable        `gnark:",public"`
	PublicAmount     frontend.Variable        `gnark:",public"`
	ExtDataHash      frontend.Variable        `gnark:",public"`
	InputNullifier   [NIns]frontend.Variable  `gnark:",public"`
	OutputCommitment [NOuts]frontend.Variable `gnark:",public"`

	// Historical-root lists; the builder supplies singletons.
	MembershipRoots    [NIns][1]frontend.Variable `gnark:",public"`
	NonMembershipRoots [NIns][1]frontend.Variable `gnark:",public"`

	// Private inputs
	InAmount       [NIns]frontend.Variable   `gnark:",secret"`
	InPrivateKey   [NIns]frontend.Variable   `gnark:",secret"`
	InBlinding     [NIns]frontend.Variable   `gnark:",secret"`
	InPathIndices  [NIns]frontend.Variable   `gnark:",secret"`
	InPathElements [NIns][]frontend.Variable `gnark:",secret"`

	OutAmount   [NOuts]frontend.Variable `gnark:",secret"`
	OutPubkey   [NOuts]frontend.Variable `gnark:",secret"`
	OutBlinding [NOuts]frontend.Variable `gnark:",secret"`

	// ASP membership path per input
	MemBlinding     [NIns]frontend.Variable   `gnark:",secret"`
	MemPathIndices  [NIns]frontend.Variable   `gnark:",secret"`
	MemPathElements [NIns][]frontend.Variable `gnark:",secret"`

	// SMT non-membership per input
	NmOldKey   [NIns]frontend.Variable   `gnark:",secret"`
	NmOldValue [NIns]frontend.Variable   `gnark:",secret"`
	NmIsOld0   [NIns]frontend.Variable   `gnark:",secret"`
	NmSiblings [NIns][]frontend.Variable `gnark:",secret"`

	levels    int
	smtLevels int
}

// New allocates a circuit shell for the given tree depths.
func New(levels, smtLevels int) *Transaction2x2 {
	c := &Transaction2x2{levels: levels, smtLevels: smtLevels}
	for i := 0; i < NIns; i++ {
		c.InPathElements[i] = make([]frontend.Variable, levels)
		c.MemPathElements[i] = make([]frontend.Variable, levels)
		c.NmSiblings[i] = make([]frontend.Variable, smtLevels)
	}
	return c
}

type hasher struct {
	api   frontend.API
	perms map[int]*poseidon2.Permutation
}

func newHasher(api frontend.API) (*hasher, error) {
	h := &hasher{api: api, perms: make(map[int]*poseidon2.Permutation)}
	for _, width := range []int{2, 3} {
		p, err := poseidon2.NewPoseidon2FromParameters(api, width,
			field.PoseidonFullRounds, field.PoseidonPartialRounds)
		if err != nil {
			return nil, err
		}
		h.perms[width] = p
	}
	return h, nil
}

// hash runs the capacity-0 sponge used natively by pkg/field. One or two
// inputs go through the matching permutation directly; wider arities fold
// left through the two-input compression, exactly as field.Poseidon3 does.
func (h *hasher) hash(in ...frontend.Variable) frontend.Variable {
	if len(in) <= 2 {
		state := make([]frontend.Variable, len(in)+1)
		state[0] = 0
		copy(state[1:], in)
		if err := h.perms[len(in)+1].Permutation(state); err != nil {
			panic(err)
		}
		return state[1]
	}
	node := h.hash(in[0], in[1])
	for _, v := range in[2:] {
		node = h.hash(node, v)
	}
	return node
}

func (c *Transaction2x2) Define(api frontend.API) error {
	h, err := newHasher(api)
	if err != nil {
		return err
	}
	rc := rangecheck.New(api)

	sumIn := frontend.Variable(0)
	var nullifiers [NIns]frontend.Variable

	for i := 0; i < NIns; i++ {
		rc.Check(c.InAmount[i], note.MaxAmountBits)

		pk := h.hash(c.InPrivateKey[i])
		commitment := h.hash(c.InAmount[i], pk, c.InBlinding[i])
		signature := h.hash(c.InPrivateKey[i], commitment, c.InPathIndices[i])
		nullifier := h.hash(commitment, c.InPathIndices[i], signature)
		api.AssertIsEqual(nullifier, c.InputNullifier[i])
		nullifiers[i] = nullifier

		isDummy := api.IsZero(c.InAmount[i])

		// Pool membership, skipped for dummies
		computed := merkleRoot(api, h, commitment, c.InPathIndices[i], c.InPathElements[i])
		api.AssertIsEqual(api.Select(isDummy, c.Root, computed), c.Root)

		// ASP membership of the owner key
		memLeaf := h.hash(pk, c.MemBlinding[i], 1)
		memRoot := merkleRoot(api, h, memLeaf, c.MemPathIndices[i], c.MemPathElements[i])
		api.AssertIsEqual(api.Select(isDummy, c.MembershipRoots[i][0], memRoot), c.MembershipRoots[i][0])

		// Sanctions SMT absence of the owner key
		c.checkNonMembership(api, h, i, pk, isDummy)

		sumIn = api.Add(sumIn, c.InAmount[i])
	}

	api.AssertIsDifferent(nullifiers[0], nullifiers[1])

	sumOut := frontend.Variable(0)
	for i := 0; i < NOuts; i++ {
		rc.Check(c.OutAmount[i], note.MaxAmountBits)
		commitment := h.hash(c.OutAmount[i], c.OutPubkey[i], c.OutBlinding[i])
		api.AssertIsEqual(commitment, c.OutputCommitment[i])
		sumOut = api.Add(sumOut, c.OutAmount[i])
	}

	api.AssertIsEqual(api.Add(sumIn, c.PublicAmount), sumOut)

	// Bind the ext-data hash into the constraint system.
	api.Mul(c.ExtDataHash, c.ExtDataHash)

	return nil
}

// merkleRoot folds a leaf up its path. Bit j of pathIndices is 1 iff the
// sibling at level j is on the left.
func merkleRoot(api frontend.API, h *hasher, leaf, pathIndices frontend.Variable,
	pathElements []frontend.Variable) frontend.Variable {

	bits := api.ToBinary(pathIndices, len(pathElements))
	node := leaf
	for j, sibling := range pathElements {
		left := api.Select(bits[j], sibling, node)
		right := api.Select(bits[j], node, sibling)
		node = h.hash(left, right)
	}
	return node
}

// checkNonMembership replays the SMT absence proof for the input's owner key.
// Empty subtrees are the literal 0 and are never hashed, matching pkg/smt.
func (c *Transaction2x2) checkNonMembership(api frontend.API, h *hasher, i int,
	pk, isDummy frontend.Variable) {

	root := c.NonMembershipRoots[i][0]
	rootIsZero := api.IsZero(root)

	// Either the traversed leaf is empty, or it holds a different key.
	isOld0 := c.NmIsOld0[i]
	api.AssertIsBoolean(isOld0)
	keysDiffer := api.Sub(1, api.IsZero(api.Sub(c.NmOldKey[i], pk)))
	api.AssertIsEqual(api.Select(isOld0, 1, keysDiffer), 1)

	leaf := api.Select(isOld0, 0, h.hash(c.NmOldKey[i], c.NmOldValue[i], 1))

	keyBits := api.ToBinary(pk, api.Compiler().FieldBitLen())
	node := leaf
	for level, sibling := range c.NmSiblings[i] {
		left := api.Select(keyBits[level], sibling, node)
		right := api.Select(keyBits[level], node, sibling)
		hashed := h.hash(left, right)
		bothZero := api.And(api.IsZero(node), api.IsZero(sibling))
		node = api.Select(bothZero, 0, hashed)
	}

	// Enforced only for real inputs against a non-empty tree.
	skip := api.Or(isDummy, rootIsZero)
	api.AssertIsEqual(api.Select(skip, root, node), root)
}
