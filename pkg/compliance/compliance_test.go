package compliance

import (
	"context"
	"errors"
	"testing"

	"zkpool/pkg/field"
	"zkpool/pkg/gateway"
	"zkpool/pkg/merkle"
	"zkpool/pkg/smt"
)

const (
	levels    = 5
	smtLevels = 5
)

func registrationLeaf(pk, blinding field.Element) field.Element {
	return field.Poseidon3(pk, blinding, field.FromUint64(1))
}

func TestSyncRebuildsMembership(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewFakeGateway(levels, smtLevels)

	pk := field.FromUint64(7)
	blinding := field.FromUint64(11)
	index, err := gw.RegisterMember(registrationLeaf(pk, blinding))
	if err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}
	if _, err := gw.RegisterMember(registrationLeaf(field.FromUint64(8), field.FromUint64(12))); err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}

	b := NewBuilder(levels, smt.New(smtLevels))
	if err := b.SyncFromChain(ctx, gw); err != nil {
		t.Fatalf("SyncFromChain: %v", err)
	}

	state, err := gw.ReadASPMembershipState(ctx)
	if err != nil {
		t.Fatalf("ReadASPMembershipState: %v", err)
	}
	if field.Hex(b.MembershipRoot()) != state.Root {
		t.Fatal("rebuilt membership root disagrees with chain")
	}

	proof, err := b.Membership(index, pk, blinding)
	if err != nil {
		t.Fatalf("Membership: %v", err)
	}
	if !merkle.Verify(proof.Root, proof.Leaf,
		merkle.Proof{PathElements: proof.PathElements, PathIndices: proof.PathIndices}) {
		t.Fatal("membership proof does not verify")
	}
}

func TestMembershipRejectsWrongBlinding(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewFakeGateway(levels, smtLevels)

	pk := field.FromUint64(7)
	index, err := gw.RegisterMember(registrationLeaf(pk, field.FromUint64(11)))
	if err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}

	b := NewBuilder(levels, smt.New(smtLevels))
	if err := b.SyncFromChain(ctx, gw); err != nil {
		t.Fatalf("SyncFromChain: %v", err)
	}

	if _, err := b.Membership(index, pk, field.FromUint64(12)); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := b.Membership(5, pk, field.FromUint64(11)); !errors.Is(err, merkle.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestNonMembershipEmptyChain(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewFakeGateway(levels, smtLevels)

	b := NewBuilder(levels, smt.New(smtLevels))
	if err := b.SyncFromChain(ctx, gw); err != nil {
		t.Fatalf("SyncFromChain: %v", err)
	}

	proof, err := b.NonMembership(field.FromUint64(7))
	if err != nil {
		t.Fatalf("NonMembership: %v", err)
	}
	if !proof.IsOld0 || !proof.Root.IsZero() {
		t.Fatal("expected the canonical empty proof")
	}
	if len(proof.Siblings) != smtLevels {
		t.Fatalf("proof has %d siblings, want %d", len(proof.Siblings), smtLevels)
	}
	if !smt.VerifyNonMembership(proof) {
		t.Fatal("canonical proof does not verify")
	}
}

func TestNonMembershipAgainstPopulatedChain(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewFakeGateway(levels, smtLevels)
	source := smt.New(smtLevels)

	// Keep the local mirror and the chain tree in lockstep.
	sanctioned := field.FromUint64(13)
	if err := gw.Sanction(sanctioned); err != nil {
		t.Fatalf("Sanction: %v", err)
	}
	if err := source.Insert(sanctioned, field.FromUint64(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	b := NewBuilder(levels, source)
	if err := b.SyncFromChain(ctx, gw); err != nil {
		t.Fatalf("SyncFromChain: %v", err)
	}

	proof, err := b.NonMembership(field.FromUint64(7))
	if err != nil {
		t.Fatalf("NonMembership: %v", err)
	}
	if !smt.VerifyNonMembership(proof) {
		t.Fatal("proof does not verify")
	}

	// A sanctioned key cannot prove absence.
	if _, err := b.NonMembership(sanctioned); !errors.Is(err, smt.ErrSanctioned) {
		t.Fatalf("expected ErrSanctioned, got %v", err)
	}
}

func TestNonMembershipRootMismatch(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewFakeGateway(levels, smtLevels)
	source := smt.New(smtLevels)

	// The chain knows one sanction the local mirror is missing.
	if err := gw.Sanction(field.FromUint64(13)); err != nil {
		t.Fatalf("Sanction: %v", err)
	}
	if err := source.Insert(field.FromUint64(14), field.FromUint64(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	b := NewBuilder(levels, source)
	if err := b.SyncFromChain(ctx, gw); err != nil {
		t.Fatalf("SyncFromChain: %v", err)
	}

	if _, err := b.NonMembership(field.FromUint64(7)); !errors.Is(err, ErrRootMismatch) {
		t.Fatalf("expected ErrRootMismatch, got %v", err)
	}
}
