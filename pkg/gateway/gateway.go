package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"zkpool/pkg/extdata"
	"zkpool/pkg/field"
)

// Signer error codes, mirroring the wallet error shape.
const (
	CodeUserRejected = "USER_REJECTED"
	CodeWalletError  = "WALLET_ERROR"
)

var (
	// ErrUserRejected is returned when the user cancels a wallet step.
	ErrUserRejected = errors.New("user rejected the signature request")

	// ErrChainError is returned for contract-level submit failures.
	ErrChainError = errors.New("chain error")
)

// SignerError carries the wallet error shape: a code, a message, and the
// transport-level cause when there is one.
type SignerError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SignerError) Error() string {
	return fmt.Sprintf("signer error %s: %s", e.Code, e.Message)
}

func (e *SignerError) Unwrap() error {
	if e.Code == CodeUserRejected {
		return ErrUserRejected
	}
	return e.Cause
}

// TxSignOptions parameterize a transaction or auth-entry signature.
type TxSignOptions struct {
	NetworkPassphrase string
	Address           string
}

// SignedTx is the result of a transaction signature round trip.
type SignedTx struct {
	SignedXDR     string
	SignerAddress string
}

// Signer is the wallet. Implementations wrap the extension messaging; tests
// use the deterministic in-process fake.
type Signer interface {
	SignMessage(ctx context.Context, msg string) ([]byte, error)
	SignTransaction(ctx context.Context, xdrB64 string, opts TxSignOptions) (SignedTx, error)
	SignAuthEntry(ctx context.Context, entryXDR string, opts TxSignOptions) (SignedTx, error)
	Address() string
}

// PoolState is the pool tree's on-chain view.
type PoolState struct {
	MerkleRoot      string // hex, big-endian
	MerkleNextIndex uint64
	MerkleLevels    uint32
}

// ASPMembershipState is the registration tree's on-chain view.
type ASPMembershipState struct {
	Root      string
	NextIndex uint64
	Capacity  uint64
}

// ASPNonMembershipState is the sanctions SMT's on-chain view.
type ASPNonMembershipState struct {
	Root    string
	IsEmpty bool
}

// Event topics the compliance sync consumes.
const (
	TopicCommitment   = "commitment"
	TopicRegistration = "registration"
)

// PoolEvent is a contract event with its emitted values.
type PoolEvent struct {
	Topic  string
	ID     string
	Ledger uint32
	TxHash string
	Data   []field.Element
}

// SubmitRequest carries the on-chain proof object and its metadata.
type SubmitRequest struct {
	// Groth16 proof, uncompressed: G1 x||y big-endian, G2 c1||c0.
	ProofA [64]byte
	ProofB [128]byte
	ProofC [64]byte

	Root                 field.Element
	InputNullifiers      []field.Element
	OutputCommitments    []field.Element
	PublicAmount         *big.Int
	ExtDataHash          [32]byte
	ASPMembershipRoot    field.Element
	ASPNonMembershipRoot field.Element

	ExtData extdata.ExtData
	Sender  string
}

// SubmitResult reports the submit outcome. Contract error codes (#0 verifier,
// #7 invalid proof, #8 invalid root, #9 double-spend) surface verbatim in
// Error.
type SubmitResult struct {
	Success bool
	TxHash  string
	Ledger  uint32
	Error   string
}

// ChainGateway is the chain client surface the builder depends on.
type ChainGateway interface {
	ReadPoolState(ctx context.Context) (PoolState, error)
	ReadASPMembershipState(ctx context.Context) (ASPMembershipState, error)
	ReadASPNonMembershipState(ctx context.Context) (ASPNonMembershipState, error)
	GetPoolEvents(ctx context.Context, limit int) ([]PoolEvent, error)
	SubmitPoolTransaction(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}
