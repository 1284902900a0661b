package circuit

import (
	"fmt"
	"math/big"

	"zkpool/pkg/builder"
	"zkpool/pkg/field"
)

// Assign fills a full assignment from an assembled witness. Shapes must
// match the compile-time slot counts and the tree depths the circuit was
// allocated with.
func Assign(w builder.Witness, levels, smtLevels int) (*Transaction2x2, error) {
	if len(w.InAmounts) != NIns || len(w.OutAmounts) != NOuts || len(w.Compliance) != NIns {
		return nil, fmt.Errorf("witness shape %dx%d, circuit is %dx%d",
			len(w.InAmounts), len(w.OutAmounts), NIns, NOuts)
	}

	c := New(levels, smtLevels)
	c.Root = fv(w.Root)
	c.PublicAmount = fv(w.PublicAmount)
	c.ExtDataHash = fv(w.ExtDataHash)

	for i := 0; i < NIns; i++ {
		if len(w.InPathElements[i]) != levels {
			return nil, fmt.Errorf("input %d path has %d elements, want %d", i, len(w.InPathElements[i]), levels)
		}

		c.InputNullifier[i] = fv(w.InputNullifiers[i])
		c.InAmount[i] = fv(w.InAmounts[i])
		c.InPrivateKey[i] = fv(w.InPrivateKeys[i])
		c.InBlinding[i] = fv(w.InBlindings[i])
		c.InPathIndices[i] = uint64(w.InPathIndices[i])
		for j, e := range w.InPathElements[i] {
			c.InPathElements[i][j] = fv(e)
		}

		comp := w.Compliance[i]
		m := comp.Membership[0]
		if len(m.PathElements) != levels {
			return nil, fmt.Errorf("membership path has %d elements, want %d", len(m.PathElements), levels)
		}
		c.MembershipRoots[i][0] = fv(comp.MembershipRoots[0])
		c.MemBlinding[i] = fv(m.Blinding)
		c.MemPathIndices[i] = uint64(m.PathIndices)
		for j, e := range m.PathElements {
			c.MemPathElements[i][j] = fv(e)
		}

		n := comp.NonMembership[0]
		if len(n.Siblings) != smtLevels {
			return nil, fmt.Errorf("smt proof has %d siblings, want %d", len(n.Siblings), smtLevels)
		}
		c.NonMembershipRoots[i][0] = fv(comp.NonMembershipRoots[0])
		c.NmOldKey[i] = fv(n.OldKey)
		c.NmOldValue[i] = fv(n.OldValue)
		c.NmIsOld0[i] = boolToVar(n.IsOld0)
		for j, s := range n.Siblings {
			c.NmSiblings[i][j] = fv(s)
		}
	}

	for i := 0; i < NOuts; i++ {
		c.OutputCommitment[i] = fv(w.OutputCommitments[i])
		c.OutAmount[i] = fv(w.OutAmounts[i])
		c.OutPubkey[i] = fv(w.OutPubkeys[i])
		c.OutBlinding[i] = fv(w.OutBlindings[i])
	}

	return c, nil
}

// fv lifts a field element into an assignable witness value.
func fv(e field.Element) *big.Int {
	var b big.Int
	e.BigInt(&b)
	return &b
}

func boolToVar(b bool) int {
	if b {
		return 1
	}
	return 0
}
