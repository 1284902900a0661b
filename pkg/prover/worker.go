package prover

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog/log"

	"zkpool/pkg/artifact"
	"zkpool/pkg/circuit"
	"zkpool/pkg/core"
)

// Worker owns the expensive proving state: the compiled constraint system,
// the proving key and the verifying key. It serves one request at a time
// from its channel; callers correlate responses by message id.
type Worker struct {
	cfg      *core.Config
	provider artifact.Provider

	reqCh chan Request

	mu      sync.Mutex
	pending map[string]chan Response

	state State

	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(cfg *core.Config, provider artifact.Provider) *Worker {
	return &Worker{
		cfg:      cfg,
		provider: provider,
		reqCh:    make(chan Request, 16),
		pending:  make(map[string]chan Response),
		done:     make(chan struct{}),
	}
}

// Start spawns the worker goroutine and waits for it to come up, bounded by
// the configured spawn timeout.
func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	ready := make(chan struct{})
	go w.loop(ctx, ready)

	select {
	case <-ready:
		return nil
	case <-time.After(w.cfg.SpawnTimeout):
		w.cancel()
		return fmt.Errorf("worker spawn after %s: %w", w.cfg.SpawnTimeout, ErrWorkerTimeout)
	}
}

// Stop terminates the worker; in-flight work completes or is abandoned with
// the process.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Worker) loop(ctx context.Context, ready chan<- struct{}) {
	defer close(w.done)
	log.Info().Msg("Prover worker started")
	close(ready)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqCh:
			w.emit(w.handle(ctx, req))
		}
	}
}

// Send enqueues a request and returns the channel its frames arrive on.
// PROGRESS frames precede the final response.
func (w *Worker) Send(req Request) (<-chan Response, error) {
	if req.MessageID == "" {
		return nil, fmt.Errorf("request without message id: %w", ErrUnknownMessageType)
	}

	ch := make(chan Response, 32)
	w.mu.Lock()
	if _, dup := w.pending[req.MessageID]; dup {
		w.mu.Unlock()
		return nil, fmt.Errorf("duplicate message id %q", req.MessageID)
	}
	w.pending[req.MessageID] = ch
	w.mu.Unlock()

	w.reqCh <- req
	return ch, nil
}

// emit routes a frame to its waiter. Final frames evict the pending entry;
// frames for evicted (timed-out) requests are discarded.
func (w *Worker) emit(resp Response) {
	w.mu.Lock()
	ch, ok := w.pending[resp.MessageID]
	if ok && resp.Type != MsgProgress {
		delete(w.pending, resp.MessageID)
	}
	w.mu.Unlock()

	if !ok {
		log.Debug().Str("message_id", resp.MessageID).Msg("Discarding late worker response")
		return
	}
	select {
	case ch <- resp:
	default:
		log.Warn().Str("message_id", resp.MessageID).Msg("Dropping worker frame, receiver is full")
	}
}

// evict abandons a timed-out request so its late response is dropped.
func (w *Worker) evict(messageID string) {
	w.mu.Lock()
	delete(w.pending, messageID)
	w.mu.Unlock()
}

func (w *Worker) timeoutFor(t MsgType) time.Duration {
	if t == MsgProve {
		return w.cfg.ProveTimeout
	}
	return w.cfg.RequestTimeout
}

// Call sends a request and waits for its final response, forwarding nothing.
func (w *Worker) Call(ctx context.Context, req Request) (Response, error) {
	return w.CallWithProgress(ctx, req, nil)
}

// CallWithProgress additionally forwards PROGRESS frames to cb.
func (w *Worker) CallWithProgress(ctx context.Context, req Request, cb artifact.ProgressFunc) (Response, error) {
	ch, err := w.Send(req)
	if err != nil {
		return Response{}, err
	}

	timer := time.NewTimer(w.timeoutFor(req.Type))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.evict(req.MessageID)
			return Response{}, ctx.Err()
		case <-timer.C:
			w.evict(req.MessageID)
			return Response{}, fmt.Errorf("%s after %s: %w", req.Type, w.timeoutFor(req.Type), ErrWorkerTimeout)
		case resp := <-ch:
			if resp.Type == MsgProgress {
				if cb != nil && resp.Progress != nil {
					cb(*resp.Progress)
				}
				continue
			}
			return resp, nil
		}
	}
}

// idempotent reports whether a timed-out call may be retried automatically.
func idempotent(t MsgType) bool {
	switch t {
	case MsgPing, MsgCheckCache, MsgGetVK, MsgGetCircuitInfo:
		return true
	}
	return false
}

// CallWithRetry retries once on timeout for idempotent message types. PROVE
// is never retried.
func (w *Worker) CallWithRetry(ctx context.Context, req Request) (Response, error) {
	resp, err := w.Call(ctx, req)
	if err != nil && idempotent(req.Type) {
		log.Warn().Str("type", string(req.Type)).Msg("Retrying idempotent worker call after timeout")
		req.MessageID = NewMessageID()
		return w.Call(ctx, req)
	}
	return resp, err
}

var msgCounter atomic.Uint64

// NewMessageID returns a unique correlation id.
func NewMessageID() string {
	var r [4]byte
	rand.Read(r[:])
	return fmt.Sprintf("%d-%s", msgCounter.Add(1), hex.EncodeToString(r[:]))
}

func (w *Worker) handle(ctx context.Context, req Request) Response {
	resp := Response{Type: req.Type, MessageID: req.MessageID}

	fail := func(err error) Response {
		resp.Success = false
		resp.Error = err.Error()
		log.Error().Str("type", string(req.Type)).Err(err).Msg("Worker request failed")
		return resp
	}

	switch req.Type {
	case MsgPing:
		resp.Success = true
		resp.State = w.stateTuple()

	case MsgCheckCache:
		resp.Success = true
		resp.Cached = w.provider.CheckCache(w.cfg.ArtifactURLs.ProvingKey) &&
			w.provider.CheckCache(w.cfg.ArtifactURLs.R1CS)

	case MsgClearCache:
		if err := w.provider.ClearCache(); err != nil {
			return fail(err)
		}
		resp.Success = true

	case MsgInitModules:
		// Module loading is a marker stage here; the heavyweight work is
		// split across INIT_WITNESS and INIT_PROVER.
		if w.state < StateModReady {
			w.state = StateModReady
		}
		resp.Success = true
		resp.State = w.stateTuple()

	case MsgInitWitness:
		if w.state < StateModReady {
			return fail(fmt.Errorf("INIT_WITNESS in %s: %w", w.state, ErrWorkerNotReady))
		}
		if w.state < StateWitReady {
			if err := w.compileCircuit(); err != nil {
				return fail(err)
			}
			w.state = StateWitReady
		}
		resp.Success = true
		resp.State = w.stateTuple()

	case MsgInitProver:
		if w.state < StateWitReady {
			return fail(fmt.Errorf("INIT_PROVER in %s: %w", w.state, ErrWorkerNotReady))
		}
		if w.state < StateProverReady {
			if err := w.initProver(ctx, req.MessageID); err != nil {
				return fail(err)
			}
			w.state = StateProverReady
		}
		resp.Success = true
		resp.State = w.stateTuple()

	case MsgProve:
		if w.state < StateProverReady {
			return fail(fmt.Errorf("PROVE in %s: %w", w.state, ErrWorkerNotReady))
		}
		result, err := w.prove(req)
		if err != nil {
			return fail(err)
		}
		resp.Success = true
		resp.Prove = result

	case MsgVerify:
		if w.state < StateProverReady {
			return fail(fmt.Errorf("VERIFY in %s: %w", w.state, ErrWorkerNotReady))
		}
		ok, err := w.verify(req)
		if err != nil {
			return fail(err)
		}
		resp.Success = true
		resp.Verified = ok

	case MsgGetVK:
		if w.state < StateProverReady {
			return fail(fmt.Errorf("GET_VK in %s: %w", w.state, ErrWorkerNotReady))
		}
		if w.vk == nil {
			return fail(fmt.Errorf("no verifying key loaded: %w", ErrWorkerNotReady))
		}
		var buf bytes.Buffer
		if _, err := w.vk.WriteTo(&buf); err != nil {
			return fail(fmt.Errorf("serializing verifying key: %v", err))
		}
		resp.Success = true
		resp.VK = buf.Bytes()

	case MsgGetCircuitInfo:
		if w.state < StateWitReady {
			return fail(fmt.Errorf("GET_CIRCUIT_INFO in %s: %w", w.state, ErrWorkerNotReady))
		}
		resp.Success = true
		resp.CircuitInfo = &CircuitInfo{
			Constraints: w.cs.GetNbConstraints(),
			Levels:      w.cfg.Levels,
			SMTLevels:   w.cfg.SMTLevels,
			NIns:        w.cfg.NIns,
			NOuts:       w.cfg.NOuts,
		}

	default:
		return fail(fmt.Errorf("%q: %w", req.Type, ErrUnknownMessageType))
	}

	return resp
}

func (w *Worker) stateTuple() StateTuple {
	return StateTuple{
		ModulesReady: w.state >= StateModReady,
		WitnessReady: w.state >= StateWitReady,
		ProverReady:  w.state >= StateProverReady,
	}
}

func (w *Worker) compileCircuit() error {
	start := time.Now()
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder,
		circuit.New(w.cfg.Levels, w.cfg.SMTLevels))
	if err != nil {
		return fmt.Errorf("compiling circuit: %v", err)
	}
	w.cs = cs
	log.Info().Int("constraints", cs.GetNbConstraints()).Dur("elapsed", time.Since(start)).
		Msg("Circuit compiled")
	return nil
}

// initProver loads the proving artifacts. With artifact URLs configured the
// content-addressed cache is consulted; otherwise a local setup runs, which
// is the dev and test path.
func (w *Worker) initProver(ctx context.Context, messageID string) error {
	urls := w.cfg.ArtifactURLs
	if urls.ProvingKey == "" {
		pk, vk, err := groth16.Setup(w.cs)
		if err != nil {
			return fmt.Errorf("local groth16 setup: %v", err)
		}
		w.pk, w.vk = pk, vk
		log.Info().Msg("Prover initialized from local setup")
		return nil
	}

	progress := func(p artifact.Progress) {
		w.emit(Response{Type: MsgProgress, MessageID: messageID, Success: true, Progress: &p})
	}

	pkBytes, err := w.provider.FetchWithProgress(ctx, urls.ProvingKey, progress)
	if err != nil {
		return fmt.Errorf("fetching proving key: %w", err)
	}
	csBytes, err := w.provider.FetchWithProgress(ctx, urls.R1CS, progress)
	if err != nil {
		return fmt.Errorf("fetching r1cs: %w", err)
	}

	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.UnsafeReadFrom(bytes.NewReader(pkBytes)); err != nil {
		return fmt.Errorf("decoding proving key: %v", err)
	}
	cs := groth16.NewCS(ecc.BN254)
	if _, err := cs.ReadFrom(bytes.NewReader(csBytes)); err != nil {
		return fmt.Errorf("decoding r1cs: %v", err)
	}
	w.pk = pk
	w.cs = cs

	if urls.VerifyingKey != "" {
		vkBytes, err := w.provider.FetchWithProgress(ctx, urls.VerifyingKey, progress)
		if err != nil {
			return fmt.Errorf("fetching verifying key: %w", err)
		}
		vk := groth16.NewVerifyingKey(ecc.BN254)
		if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
			return fmt.Errorf("decoding verifying key: %v", err)
		}
		w.vk = vk
	}

	log.Info().Int("pk_bytes", len(pkBytes)).Int("cs_bytes", len(csBytes)).
		Msg("Prover initialized from artifacts")
	return nil
}

func (w *Worker) prove(req Request) (*ProveResult, error) {
	if req.Witness == nil {
		return nil, fmt.Errorf("PROVE without witness: %w", ErrProverFailure)
	}

	assignment, err := circuit.Assign(*req.Witness, w.cfg.Levels, w.cfg.SMTLevels)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrProverFailure)
	}

	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("building witness: %v: %w", err, ErrProverFailure)
	}

	start := time.Now()
	proof, err := groth16.Prove(w.cs, w.pk, full)
	if err != nil {
		return nil, fmt.Errorf("groth16 prove: %v: %w", err, ErrProverFailure)
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Proof generated")

	compressed, err := compress(proof)
	if err != nil {
		return nil, err
	}
	onChain, err := EncodeOnChain(proof)
	if err != nil {
		return nil, err
	}

	public, err := full.Public()
	if err != nil {
		return nil, fmt.Errorf("extracting public witness: %v", err)
	}
	var pubBuf bytes.Buffer
	if _, err := public.WriteTo(&pubBuf); err != nil {
		return nil, fmt.Errorf("serializing public witness: %v", err)
	}

	return &ProveResult{
		Compressed:   compressed,
		OnChain:      onChain,
		PublicInputs: pubBuf.Bytes(),
	}, nil
}

func (w *Worker) verify(req Request) (bool, error) {
	if w.vk == nil {
		return false, fmt.Errorf("no verifying key loaded: %w", ErrWorkerNotReady)
	}
	public, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return false, fmt.Errorf("allocating public witness: %v", err)
	}
	if _, err := public.ReadFrom(bytes.NewReader(req.PublicInputs)); err != nil {
		return false, fmt.Errorf("decoding public witness: %v", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(req.Proof)); err != nil {
		return false, fmt.Errorf("decoding proof: %v", err)
	}

	if err := groth16.Verify(proof, w.vk, public); err != nil {
		return false, nil
	}
	return true, nil
}
