package prover

import (
	"errors"

	"zkpool/pkg/artifact"
	"zkpool/pkg/builder"
)

// MsgType tags worker protocol frames.
type MsgType string

const (
	MsgInitModules    MsgType = "INIT_MODULES"
	MsgInitWitness    MsgType = "INIT_WITNESS"
	MsgInitProver     MsgType = "INIT_PROVER"
	MsgProve          MsgType = "PROVE"
	MsgVerify         MsgType = "VERIFY"
	MsgGetVK          MsgType = "GET_VK"
	MsgGetCircuitInfo MsgType = "GET_CIRCUIT_INFO"
	MsgPing           MsgType = "PING"
	MsgCheckCache     MsgType = "CHECK_CACHE"
	MsgClearCache     MsgType = "CLEAR_CACHE"
	MsgProgress       MsgType = "PROGRESS"
)

// State is the worker lifecycle stage. Transitions are monotone forward;
// errors leave the state unchanged.
type State int

const (
	StateLoaded State = iota
	StateModReady
	StateWitReady
	StateProverReady
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "LOADED"
	case StateModReady:
		return "MOD_READY"
	case StateWitReady:
		return "WIT_READY"
	case StateProverReady:
		return "PROVER_READY"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrWorkerTimeout is returned when a request outlives its deadline. The
	// worker may still complete; the late response is discarded.
	ErrWorkerTimeout = errors.New("worker request timed out")

	// ErrWorkerNotReady is returned for requests issued out of lifecycle order.
	ErrWorkerNotReady = errors.New("worker is not in the required state")

	// ErrUnknownMessageType is returned for unrecognized request types.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrProverFailure means the witness solver or prover rejected the
	// inputs; typically a constraint was violated before proving.
	ErrProverFailure = errors.New("prover rejected the witness")
)

// Request is one protocol frame towards the worker. MessageID must be unique
// per in-flight request; the response echoes it.
type Request struct {
	Type      MsgType
	MessageID string

	// PROVE
	Witness *builder.Witness

	// VERIFY
	Proof        []byte
	PublicInputs []byte
}

// StateTuple is the PING result.
type StateTuple struct {
	ModulesReady bool
	WitnessReady bool
	ProverReady  bool
}

// CircuitInfo is the GET_CIRCUIT_INFO result.
type CircuitInfo struct {
	Constraints int
	Levels      int
	SMTLevels   int
	NIns        int
	NOuts       int
}

// ProveResult carries both proof serializations: the compressed form for
// local verification and the raw on-chain form.
type ProveResult struct {
	Compressed   []byte
	OnChain      OnChainProof
	PublicInputs []byte
}

// Response is one protocol frame from the worker. Exactly one final frame is
// emitted per request; PROGRESS frames may precede it.
type Response struct {
	Type      MsgType
	MessageID string
	Success   bool
	Error     string

	State       StateTuple
	Prove       *ProveResult
	Verified    bool
	VK          []byte
	CircuitInfo *CircuitInfo
	Cached      bool
	Progress    *artifact.Progress
}
