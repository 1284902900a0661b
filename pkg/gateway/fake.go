package gateway

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"zkpool/pkg/extdata"
	"zkpool/pkg/field"
	"zkpool/pkg/merkle"
	"zkpool/pkg/smt"
)

// FakeSigner is a deterministic in-process wallet for tests and demos. It
// signs with an ed25519 key derived from a fixed seed.
type FakeSigner struct {
	priv ed25519.PrivateKey
	pub  [32]byte

	// Reject makes every request fail as user-cancelled.
	Reject bool
}

// NewFakeSigner derives the keypair from an arbitrary seed string.
func NewFakeSigner(seed string) *FakeSigner {
	sum := sha256.Sum256([]byte(seed))
	priv := ed25519.NewKeyFromSeed(sum[:])
	s := &FakeSigner{priv: priv}
	copy(s.pub[:], priv.Public().(ed25519.PublicKey))
	return s
}

func (s *FakeSigner) Address() string {
	return extdata.EncodeAccountStrkey(s.pub)
}

func (s *FakeSigner) SignMessage(ctx context.Context, msg string) ([]byte, error) {
	if s.Reject {
		return nil, &SignerError{Code: CodeUserRejected, Message: "signature request cancelled"}
	}
	return ed25519.Sign(s.priv, []byte(msg)), nil
}

func (s *FakeSigner) SignTransaction(ctx context.Context, xdrB64 string, opts TxSignOptions) (SignedTx, error) {
	if s.Reject {
		return SignedTx{}, &SignerError{Code: CodeUserRejected, Message: "signature request cancelled"}
	}
	return SignedTx{SignedXDR: xdrB64, SignerAddress: s.Address()}, nil
}

func (s *FakeSigner) SignAuthEntry(ctx context.Context, entryXDR string, opts TxSignOptions) (SignedTx, error) {
	if s.Reject {
		return SignedTx{}, &SignerError{Code: CodeUserRejected, Message: "signature request cancelled"}
	}
	return SignedTx{SignedXDR: entryXDR, SignerAddress: s.Address()}, nil
}

// FakeGateway is an in-memory chain: the pool tree, the ASP trees, the spent
// nullifier set and the event log behind a single lock. Submissions apply the
// state transition the way the contract would, minus proof verification
// (tests verify proofs through the prover instead).
type FakeGateway struct {
	mu sync.RWMutex

	pool       *merkle.Tree
	membership *merkle.Tree
	sanctions  *smt.Tree
	spent      map[string]bool
	events     []PoolEvent
	ledger     uint32
}

func NewFakeGateway(levels, smtLevels int) *FakeGateway {
	return &FakeGateway{
		pool:       merkle.New(levels),
		membership: merkle.New(levels),
		sanctions:  smt.New(smtLevels),
		spent:      make(map[string]bool),
		ledger:     1,
	}
}

// RegisterMember appends a registration leaf to the ASP membership tree.
func (g *FakeGateway) RegisterMember(leaf field.Element) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	index, err := g.membership.Insert(leaf)
	if err != nil {
		return 0, err
	}
	g.appendEvent(TopicRegistration, []field.Element{leaf})
	return index, nil
}

// Sanction marks a public key in the non-membership tree.
func (g *FakeGateway) Sanction(pk field.Element) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sanctions.Insert(pk, field.FromUint64(1))
}

func (g *FakeGateway) ReadPoolState(ctx context.Context) (PoolState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return PoolState{
		MerkleRoot:      field.Hex(g.pool.Root()),
		MerkleNextIndex: g.pool.NextIndex(),
		MerkleLevels:    uint32(g.pool.Depth()),
	}, nil
}

func (g *FakeGateway) ReadASPMembershipState(ctx context.Context) (ASPMembershipState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return ASPMembershipState{
		Root:      field.Hex(g.membership.Root()),
		NextIndex: g.membership.NextIndex(),
		Capacity:  1 << g.membership.Depth(),
	}, nil
}

func (g *FakeGateway) ReadASPNonMembershipState(ctx context.Context) (ASPNonMembershipState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	root := g.sanctions.Root()
	return ASPNonMembershipState{
		Root:    field.Hex(root),
		IsEmpty: root.IsZero(),
	}, nil
}

func (g *FakeGateway) GetPoolEvents(ctx context.Context, limit int) ([]PoolEvent, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	events := g.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]PoolEvent, len(events))
	copy(out, events)
	return out, nil
}

func (g *FakeGateway) SubmitPoolTransaction(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	root := g.pool.Root()
	if !req.Root.Equal(&root) {
		return SubmitResult{Error: "#8"}, nil
	}

	for _, n := range req.InputNullifiers {
		if g.spent[field.Hex(n)] {
			return SubmitResult{Error: "#9"}, nil
		}
	}
	for _, n := range req.InputNullifiers {
		g.spent[field.Hex(n)] = true
	}

	for _, c := range req.OutputCommitments {
		if _, err := g.pool.Insert(c); err != nil {
			return SubmitResult{}, fmt.Errorf("inserting output commitment: %w", err)
		}
		g.appendEvent(TopicCommitment, []field.Element{c})
	}

	g.ledger++
	txHash := field.Keccak256(req.ExtDataHash[:], req.ProofA[:])
	result := SubmitResult{
		Success: true,
		TxHash:  fmt.Sprintf("%x", txHash),
		Ledger:  g.ledger,
	}
	log.Info().Str("tx_hash", result.TxHash).Uint32("ledger", result.Ledger).Msg("Applied pool transaction")
	return result, nil
}

func (g *FakeGateway) appendEvent(topic string, data []field.Element) {
	g.events = append(g.events, PoolEvent{
		Topic:  topic,
		ID:     fmt.Sprintf("%07d", len(g.events)),
		Ledger: g.ledger,
		TxHash: fmt.Sprintf("%064x", len(g.events)),
		Data:   data,
	})
}
