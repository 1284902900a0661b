package builder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog/log"

	"zkpool/pkg/compliance"
	"zkpool/pkg/core"
	"zkpool/pkg/extdata"
	"zkpool/pkg/field"
	"zkpool/pkg/merkle"
	"zkpool/pkg/note"
	"zkpool/pkg/smt"
)

var (
	// ErrUnbalanced is returned when inputs + public amount != outputs.
	ErrUnbalanced = errors.New("transaction amounts do not balance")

	// ErrMissingProof is returned when a non-dummy input lacks a Merkle proof.
	ErrMissingProof = errors.New("input note is missing its merkle proof")

	// ErrRootMismatch is returned when an input proof does not verify against
	// the supplied pool root.
	ErrRootMismatch = errors.New("input proof does not match pool root")

	// ErrNullifierCollision is returned when two inputs nullify identically.
	ErrNullifierCollision = errors.New("duplicate nullifier within transaction")
)

// InputNote is an owned note together with its pool-tree position.
type InputNote struct {
	Note      note.Note
	LeafIndex uint64
	Proof     *merkle.Proof
}

// OutputSpec describes one desired output. A nil RecipientPk defaults to the
// sender; a nil RecipientEncPk encrypts to the sender's own encryption key.
// A nil Blinding is sampled from the CSPRNG.
type OutputSpec struct {
	Amount         *big.Int
	Blinding       *field.Element
	RecipientPk    *field.Element
	RecipientEncPk *[32]byte
}

// Request carries everything a witness build needs. Inputs is empty for
// deposits; ExtData arrives without its encrypted_output fields, which the
// assembler fills.
//
// PoolRoot must be the chain's current root and every input proof must be
// built against it. When the chain advanced underneath the caller, Build
// fails with ErrRootMismatch; the caller replays the commitment events
// (gateway.ReplayPoolTree), refreshes the proofs and retries.
type Request struct {
	Sk                field.Element
	EncryptionPk      [32]byte
	PoolRoot          field.Element
	MembershipRoot    field.Element
	NonMembershipRoot field.Element

	Inputs  []InputNote
	Outputs []OutputSpec
	ExtData extdata.ExtData

	MembershipLeafIndex uint64
	MembershipBlinding  field.Element
}

// Transaction is the assembled result: the circuit witness plus everything
// the submit call needs besides the proof itself.
type Transaction struct {
	Witness          Witness
	OutputNotes      []note.Note
	EncryptedOutputs [][]byte
	ExtData          extdata.ExtData
	ExtDataHash      extdata.Hash
	PublicAmount     *big.Int
}

// Assembler gathers notes, proofs and compliance state into circuit inputs.
type Assembler struct {
	cfg        *core.Config
	compliance *compliance.Builder
}

func NewAssembler(cfg *core.Config, comp *compliance.Builder) *Assembler {
	return &Assembler{cfg: cfg, compliance: comp}
}

// Build runs the assembly pipeline: derive pk, shape and pad inputs and
// outputs, encrypt outputs, complete and hash ext-data, attach compliance
// proofs, and emit the witness. All validation errors surface before any
// prover work.
func (a *Assembler) Build(req *Request) (*Transaction, error) {
	pk := field.Poseidon1(req.Sk)

	inputs, err := a.shapeInputs(req, pk)
	if err != nil {
		return nil, err
	}

	outputs, err := a.shapeOutputs(req, pk)
	if err != nil {
		return nil, err
	}

	publicAmount, err := a.checkBalance(req, inputs, outputs)
	if err != nil {
		return nil, err
	}

	encrypted, err := a.encryptOutputs(req, outputs)
	if err != nil {
		return nil, err
	}

	extData := req.ExtData
	extData.EncryptedOutput0 = encrypted[0]
	extData.EncryptedOutput1 = encrypted[1]
	hash, err := extData.Hash()
	if err != nil {
		return nil, fmt.Errorf("hashing ext-data: %w", err)
	}

	comp, err := a.buildCompliance(req, pk, inputs)
	if err != nil {
		return nil, err
	}

	w := a.emitWitness(req, pk, publicAmount, hash, inputs, outputs, comp)

	outputNotes := make([]note.Note, len(outputs))
	for i, o := range outputs {
		outputNotes[i] = o.note
	}

	return &Transaction{
		Witness:          w,
		OutputNotes:      outputNotes,
		EncryptedOutputs: encrypted,
		ExtData:          extData,
		ExtDataHash:      hash,
		PublicAmount:     publicAmount,
	}, nil
}

// shapedInput is an input slot after nullifier derivation.
type shapedInput struct {
	note         note.Note
	pathIndices  uint32
	pathElements []field.Element
	commitment   field.Element
	nullifier    field.Element
	dummy        bool
}

type shapedOutput struct {
	note       note.Note
	commitment field.Element
	encPk      [32]byte
}

func (a *Assembler) shapeInputs(req *Request, pk field.Element) ([]shapedInput, error) {
	if len(req.Inputs) > a.cfg.NIns {
		return nil, fmt.Errorf("%d inputs with %d slots: %w", len(req.Inputs), a.cfg.NIns, ErrMissingProof)
	}

	shaped := make([]shapedInput, 0, a.cfg.NIns)
	for _, in := range req.Inputs {
		if in.Note.IsDummy() {
			return nil, fmt.Errorf("zero-amount note supplied as real input: %w", ErrMissingProof)
		}
		if in.Proof == nil {
			return nil, fmt.Errorf("note at leaf %d: %w", in.LeafIndex, ErrMissingProof)
		}

		commitment := in.Note.Commitment()
		if !merkle.Verify(req.PoolRoot, commitment, *in.Proof) {
			return nil, fmt.Errorf("note at leaf %d: %w", in.LeafIndex, ErrRootMismatch)
		}

		sig := note.Signature(req.Sk, commitment, in.Proof.PathIndices)
		shaped = append(shaped, shapedInput{
			note:         in.Note,
			pathIndices:  in.Proof.PathIndices,
			pathElements: in.Proof.PathElements,
			commitment:   commitment,
			nullifier:    note.Nullifier(commitment, in.Proof.PathIndices, sig),
		})
	}

	// Pad to N_INS with dummies. Dummies still derive nullifiers so the
	// distinctness check below covers every slot.
	dummies := note.DummyPair(pk)
	for i := 0; len(shaped) < a.cfg.NIns; i++ {
		d := dummies[i%len(dummies)]
		commitment := d.Commitment()
		sig := note.Signature(req.Sk, commitment, 0)
		shaped = append(shaped, shapedInput{
			note:         d,
			pathElements: make([]field.Element, a.cfg.Levels),
			commitment:   commitment,
			nullifier:    note.Nullifier(commitment, 0, sig),
			dummy:        true,
		})
	}

	for i := range shaped {
		for j := i + 1; j < len(shaped); j++ {
			if shaped[i].nullifier.Equal(&shaped[j].nullifier) {
				return nil, fmt.Errorf("inputs %d and %d: %w", i, j, ErrNullifierCollision)
			}
		}
	}

	return shaped, nil
}

func (a *Assembler) shapeOutputs(req *Request, pk field.Element) ([]shapedOutput, error) {
	if len(req.Outputs) > a.cfg.NOuts {
		return nil, fmt.Errorf("%d outputs with %d slots: %w", len(req.Outputs), a.cfg.NOuts, ErrUnbalanced)
	}

	shaped := make([]shapedOutput, 0, a.cfg.NOuts)
	for _, spec := range req.Outputs {
		recipient := pk
		if spec.RecipientPk != nil {
			recipient = *spec.RecipientPk
		}
		blinding, err := outputBlinding(spec.Blinding)
		if err != nil {
			return nil, err
		}
		n, err := note.New(spec.Amount, recipient, blinding)
		if err != nil {
			return nil, err
		}
		encPk := req.EncryptionPk
		if spec.RecipientEncPk != nil {
			encPk = *spec.RecipientEncPk
		}
		shaped = append(shaped, shapedOutput{note: n, commitment: n.Commitment(), encPk: encPk})
	}

	// Pad to N_OUTS with zero-amount notes under fresh blindings.
	for len(shaped) < a.cfg.NOuts {
		blinding, err := field.RandomElement()
		if err != nil {
			return nil, err
		}
		n := note.Note{Pk: pk, Blinding: blinding}
		shaped = append(shaped, shapedOutput{note: n, commitment: n.Commitment(), encPk: req.EncryptionPk})
	}

	return shaped, nil
}

func outputBlinding(b *field.Element) (field.Element, error) {
	if b != nil {
		return *b, nil
	}
	return field.RandomElement()
}

// checkBalance enforces sum(in) + (ext_amount - fee) = sum(out) with signed
// arithmetic, before any prover work.
func (a *Assembler) checkBalance(req *Request, ins []shapedInput, outs []shapedOutput) (*big.Int, error) {
	publicAmount := new(big.Int)
	if req.ExtData.ExtAmount != nil {
		publicAmount.Set(req.ExtData.ExtAmount)
	}
	publicAmount.Sub(publicAmount, new(big.Int).SetUint64(req.ExtData.Fee))

	total := new(big.Int).Set(publicAmount)
	var v big.Int
	for _, in := range ins {
		in.note.Amount.BigInt(&v)
		total.Add(total, &v)
	}
	for _, out := range outs {
		out.note.Amount.BigInt(&v)
		total.Sub(total, &v)
	}

	if total.Sign() != 0 {
		return nil, fmt.Errorf("residual %s: %w", total, ErrUnbalanced)
	}
	return publicAmount, nil
}

func (a *Assembler) encryptOutputs(req *Request, outs []shapedOutput) ([][]byte, error) {
	encrypted := make([][]byte, len(outs))
	for i, out := range outs {
		ct, err := note.Encrypt(out.note, out.encPk)
		if err != nil {
			return nil, fmt.Errorf("encrypting output %d: %w", i, err)
		}
		if len(ct) != a.cfg.EncLen {
			return nil, fmt.Errorf("output %d ciphertext is %d bytes, want %d: %w",
				i, len(ct), a.cfg.EncLen, note.ErrCiphertext)
		}
		encrypted[i] = ct
	}
	return encrypted, nil
}

func (a *Assembler) buildCompliance(req *Request, pk field.Element, ins []shapedInput) ([]compliance.InputCompliance, error) {
	membership, err := a.compliance.Membership(req.MembershipLeafIndex, pk, req.MembershipBlinding)
	if err != nil {
		return nil, err
	}

	if localRoot := a.compliance.MembershipRoot(); !localRoot.Equal(&req.MembershipRoot) {
		// The on-chain verifier is authoritative; the local root still goes
		// into the witness.
		log.Warn().Str("local", field.Hex(localRoot)).Str("chain", field.Hex(req.MembershipRoot)).
			Msg("Local membership root differs from chain")
	}

	nonMembership, err := a.compliance.NonMembership(pk)
	if err != nil {
		return nil, err
	}

	// Every slot (dummies included) carries the same owner's proofs; the
	// circuit only enforces them for non-dummy inputs.
	out := make([]compliance.InputCompliance, len(ins))
	for i := range ins {
		out[i] = compliance.InputCompliance{
			MembershipRoots:    []field.Element{membership.Root},
			NonMembershipRoots: []field.Element{nonMembership.Root},
			Membership:         []compliance.MembershipProof{membership},
			NonMembership:      []smt.NonMembershipProof{nonMembership},
		}
	}
	return out, nil
}
