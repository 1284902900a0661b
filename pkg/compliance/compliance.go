package compliance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"zkpool/pkg/field"
	"zkpool/pkg/gateway"
	"zkpool/pkg/merkle"
	"zkpool/pkg/smt"
)

var (
	// ErrRootMismatch is returned when the sanction proof's root disagrees
	// with the on-chain non-membership root.
	ErrRootMismatch = errors.New("non-membership root mismatch with chain")

	// ErrNotRegistered is returned when the membership root cannot be
	// reconciled with the chain and no local rebuild is possible.
	ErrNotRegistered = errors.New("membership root mismatch with chain")
)

// MembershipProof is the per-input ASP registration proof, shaped for the
// circuit: the leaf is Poseidon3(pk, blinding, 1).
type MembershipProof struct {
	Leaf         field.Element
	Blinding     field.Element
	PathIndices  uint32
	PathElements []field.Element
	Root         field.Element
}

// InputCompliance pairs the two proofs for one input. The outer lists are
// singletons: the circuit accepts a set of acceptable historical roots and
// the builder supplies the current one.
type InputCompliance struct {
	MembershipRoots    []field.Element
	NonMembershipRoots []field.Element
	Membership         []MembershipProof
	NonMembership      []smt.NonMembershipProof
}

// SanctionsSource yields non-membership proofs against the external ASP
// state. A local smt.Tree satisfies it for tests.
type SanctionsSource interface {
	Levels() int
	NonMembershipProof(key field.Element) (smt.NonMembershipProof, error)
}

// Builder maintains the locally-rebuilt ASP membership tree and drives the
// sanctions source. The sync task is the single writer; proof reads take the
// lock for the duration of a build.
type Builder struct {
	mu         sync.RWMutex
	membership *merkle.Tree
	source     SanctionsSource

	chainNonMembershipRoot field.Element
	chainIsEmpty           bool
}

func NewBuilder(levels int, source SanctionsSource) *Builder {
	return &Builder{
		membership:   merkle.New(levels),
		source:       source,
		chainIsEmpty: true,
	}
}

// SyncFromChain rebuilds the membership tree from registration events and
// refreshes the non-membership root.
func (b *Builder) SyncFromChain(ctx context.Context, gw gateway.ChainGateway) error {
	events, err := gw.GetPoolEvents(ctx, 0)
	if err != nil {
		return fmt.Errorf("reading pool events: %w", err)
	}

	nmState, err := gw.ReadASPNonMembershipState(ctx)
	if err != nil {
		return fmt.Errorf("reading non-membership state: %w", err)
	}
	nmRoot, err := field.FromHex(nmState.Root)
	if err != nil {
		return fmt.Errorf("parsing non-membership root: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Rebuild from scratch; registration events are append-ordered.
	rebuilt := merkle.New(b.membership.Depth())
	count := 0
	for _, ev := range events {
		if ev.Topic != gateway.TopicRegistration || len(ev.Data) == 0 {
			continue
		}
		if _, err := rebuilt.Insert(ev.Data[0]); err != nil {
			return fmt.Errorf("rebuilding membership tree: %w", err)
		}
		count++
	}
	b.membership = rebuilt
	b.chainNonMembershipRoot = nmRoot
	b.chainIsEmpty = nmState.IsEmpty

	log.Info().Int("registrations", count).
		Str("membership_root", field.Hex(rebuilt.Root())).
		Str("non_membership_root", nmState.Root).
		Msg("Synced compliance state from chain")
	return nil
}

// MembershipRoot returns the locally-rebuilt registration root.
func (b *Builder) MembershipRoot() field.Element {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.membership.Root()
}

// Membership builds the registration proof for the leaf at index. The leaf
// must equal Poseidon3(pk, blinding, 1) as stored on chain.
func (b *Builder) Membership(leafIndex uint64, pk, blinding field.Element) (MembershipProof, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	leaf := field.Poseidon3(pk, blinding, field.FromUint64(1))
	stored, err := b.membership.Leaf(leafIndex)
	if err != nil {
		return MembershipProof{}, fmt.Errorf("membership leaf %d: %w", leafIndex, err)
	}
	if !stored.Equal(&leaf) {
		return MembershipProof{}, fmt.Errorf("leaf %d does not match registration: %w", leafIndex, ErrNotRegistered)
	}

	proof, err := b.membership.Proof(leafIndex)
	if err != nil {
		return MembershipProof{}, fmt.Errorf("membership proof at %d: %w", leafIndex, err)
	}

	return MembershipProof{
		Leaf:         leaf,
		Blinding:     blinding,
		PathIndices:  proof.PathIndices,
		PathElements: proof.PathElements,
		Root:         b.membership.Root(),
	}, nil
}

// NonMembership builds the sanctions absence proof for pk. An empty on-chain
// tree yields the canonical empty proof without consulting the source; a
// present key surfaces smt.ErrSanctioned; a proof whose root disagrees with
// the chain fails with ErrRootMismatch.
func (b *Builder) NonMembership(pk field.Element) (smt.NonMembershipProof, error) {
	b.mu.RLock()
	chainRoot := b.chainNonMembershipRoot
	isEmpty := b.chainIsEmpty
	b.mu.RUnlock()

	if isEmpty || chainRoot.IsZero() {
		return canonicalEmptyProof(pk, b.source.Levels()), nil
	}

	proof, err := b.source.NonMembershipProof(pk)
	if err != nil {
		return smt.NonMembershipProof{}, err
	}
	if !proof.Root.Equal(&chainRoot) {
		return smt.NonMembershipProof{}, fmt.Errorf("proof root %s, chain root %s: %w",
			field.Hex(proof.Root), field.Hex(chainRoot), ErrRootMismatch)
	}
	return proof, nil
}

func canonicalEmptyProof(key field.Element, levels int) smt.NonMembershipProof {
	return smt.NonMembershipProof{
		Key:      key,
		IsOld0:   true,
		Siblings: make([]field.Element, levels),
	}
}
