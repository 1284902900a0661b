package builder

import (
	"encoding/json"
	"math/big"

	"zkpool/pkg/compliance"
	"zkpool/pkg/extdata"
	"zkpool/pkg/field"
	"zkpool/pkg/gateway"
)

// Witness is the full circuit assignment. Values stay field-typed internally;
// the decimal-string form exists only at the JSON boundary to the external
// witness calculator.
type Witness struct {
	Root         field.Element
	PublicAmount field.Element
	ExtDataHash  field.Element

	InputNullifiers   []field.Element
	OutputCommitments []field.Element

	InAmounts      []field.Element
	InPrivateKeys  []field.Element
	InBlindings    []field.Element
	InPathIndices  []uint32
	InPathElements [][]field.Element

	OutAmounts   []field.Element
	OutPubkeys   []field.Element
	OutBlindings []field.Element

	Compliance []compliance.InputCompliance
}

func (a *Assembler) emitWitness(req *Request, pk field.Element, publicAmount *big.Int,
	hash extdata.Hash, ins []shapedInput, outs []shapedOutput,
	comp []compliance.InputCompliance) Witness {

	w := Witness{
		Root:        req.PoolRoot,
		ExtDataHash: hash.Field,
		Compliance:  comp,
	}

	// Signed public amounts are reduced into the field the way the circuit
	// expects: negatives wrap mod BN254_FR.
	reduced := new(big.Int).Mod(publicAmount, field.Modulus())
	w.PublicAmount.SetBigInt(reduced)

	for _, in := range ins {
		w.InputNullifiers = append(w.InputNullifiers, in.nullifier)
		w.InAmounts = append(w.InAmounts, in.note.Amount)
		w.InPrivateKeys = append(w.InPrivateKeys, req.Sk)
		w.InBlindings = append(w.InBlindings, in.note.Blinding)
		w.InPathIndices = append(w.InPathIndices, in.pathIndices)
		w.InPathElements = append(w.InPathElements, in.pathElements)
	}

	for _, out := range outs {
		w.OutputCommitments = append(w.OutputCommitments, out.commitment)
		w.OutAmounts = append(w.OutAmounts, out.note.Amount)
		w.OutPubkeys = append(w.OutPubkeys, out.note.Pk)
		w.OutBlindings = append(w.OutBlindings, out.note.Blinding)
	}

	return w
}

// wireMembership mirrors the circuit's membership proof object.
type wireMembership struct {
	Leaf         string   `json:"leaf"`
	Blinding     string   `json:"blinding"`
	PathIndices  string   `json:"pathIndices"`
	PathElements []string `json:"pathElements"`
	Root         string   `json:"root"`
}

// wireNonMembership mirrors the circuit's SMT proof object.
type wireNonMembership struct {
	Key      string   `json:"key"`
	OldKey   string   `json:"oldKey"`
	OldValue string   `json:"oldValue"`
	IsOld0   string   `json:"isOld0"`
	Siblings []string `json:"siblings"`
	Root     string   `json:"root"`
}

type wireWitness struct {
	Root             string   `json:"root"`
	PublicAmount     string   `json:"publicAmount"`
	ExtDataHash      string   `json:"extDataHash"`
	InputNullifier   []string `json:"inputNullifier"`
	OutputCommitment []string `json:"outputCommitment"`

	InAmount       []string   `json:"inAmount"`
	InPrivateKey   []string   `json:"inPrivateKey"`
	InBlinding     []string   `json:"inBlinding"`
	InPathIndices  []string   `json:"inPathIndices"`
	InPathElements [][]string `json:"inPathElements"`

	OutAmount   []string `json:"outAmount"`
	OutPubkey   []string `json:"outPubkey"`
	OutBlinding []string `json:"outBlinding"`

	MembershipRoots     [][]string            `json:"membershipRoots"`
	NonMembershipRoots  [][]string            `json:"nonMembershipRoots"`
	MembershipProofs    [][]wireMembership    `json:"membershipProofs"`
	NonMembershipProofs [][]wireNonMembership `json:"nonMembershipProofs"`
}

// MarshalJSON renders the decimal-string wire form consumed by the witness
// calculator.
func (w Witness) MarshalJSON() ([]byte, error) {
	out := wireWitness{
		Root:             field.Decimal(w.Root),
		PublicAmount:     field.Decimal(w.PublicAmount),
		ExtDataHash:      field.Decimal(w.ExtDataHash),
		InputNullifier:   decimals(w.InputNullifiers),
		OutputCommitment: decimals(w.OutputCommitments),
		InAmount:         decimals(w.InAmounts),
		InPrivateKey:     decimals(w.InPrivateKeys),
		InBlinding:       decimals(w.InBlindings),
		OutAmount:        decimals(w.OutAmounts),
		OutPubkey:        decimals(w.OutPubkeys),
		OutBlinding:      decimals(w.OutBlindings),
	}

	for _, idx := range w.InPathIndices {
		out.InPathIndices = append(out.InPathIndices, field.Decimal(field.FromUint64(uint64(idx))))
	}
	for _, path := range w.InPathElements {
		out.InPathElements = append(out.InPathElements, decimals(path))
	}

	for _, c := range w.Compliance {
		out.MembershipRoots = append(out.MembershipRoots, decimals(c.MembershipRoots))
		out.NonMembershipRoots = append(out.NonMembershipRoots, decimals(c.NonMembershipRoots))

		ms := make([]wireMembership, len(c.Membership))
		for i, m := range c.Membership {
			ms[i] = wireMembership{
				Leaf:         field.Decimal(m.Leaf),
				Blinding:     field.Decimal(m.Blinding),
				PathIndices:  field.Decimal(field.FromUint64(uint64(m.PathIndices))),
				PathElements: decimals(m.PathElements),
				Root:         field.Decimal(m.Root),
			}
		}
		out.MembershipProofs = append(out.MembershipProofs, ms)

		ns := make([]wireNonMembership, len(c.NonMembership))
		for i, n := range c.NonMembership {
			isOld0 := "0"
			if n.IsOld0 {
				isOld0 = "1"
			}
			ns[i] = wireNonMembership{
				Key:      field.Decimal(n.Key),
				OldKey:   field.Decimal(n.OldKey),
				OldValue: field.Decimal(n.OldValue),
				IsOld0:   isOld0,
				Siblings: decimals(n.Siblings),
				Root:     field.Decimal(n.Root),
			}
		}
		out.NonMembershipProofs = append(out.NonMembershipProofs, ns)
	}

	return json.Marshal(out)
}

func decimals(es []field.Element) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = field.Decimal(e)
	}
	return out
}

// SubmitRequest shapes the transaction for the chain gateway once the proof
// bytes are known.
func (t *Transaction) SubmitRequest(proofA [64]byte, proofB [128]byte, proofC [64]byte,
	membershipRoot, nonMembershipRoot field.Element, sender string) gateway.SubmitRequest {

	return gateway.SubmitRequest{
		ProofA:               proofA,
		ProofB:               proofB,
		ProofC:               proofC,
		Root:                 t.Witness.Root,
		InputNullifiers:      t.Witness.InputNullifiers,
		OutputCommitments:    t.Witness.OutputCommitments,
		PublicAmount:         t.PublicAmount,
		ExtDataHash:          t.ExtDataHash.Bytes,
		ASPMembershipRoot:    membershipRoot,
		ASPNonMembershipRoot: nonMembershipRoot,
		ExtData:              t.ExtData,
		Sender:               sender,
	}
}
