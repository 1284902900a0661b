package prover

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"zkpool/pkg/artifact"
	"zkpool/pkg/builder"
	"zkpool/pkg/compliance"
	"zkpool/pkg/core"
	"zkpool/pkg/extdata"
	"zkpool/pkg/field"
	"zkpool/pkg/gateway"
	"zkpool/pkg/keys"
	"zkpool/pkg/smt"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.ArtifactCache = t.TempDir()
	w := NewWorker(cfg, artifact.NewCache(cfg.ArtifactCache))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestPingReportsState(t *testing.T) {
	w := newTestWorker(t)

	resp, err := w.Call(context.Background(), Request{Type: MsgPing, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.False(t, resp.State.ModulesReady)
	require.False(t, resp.State.WitnessReady)
	require.False(t, resp.State.ProverReady)

	resp, err = w.Call(context.Background(), Request{Type: MsgInitModules, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, resp.State.ModulesReady)
	require.False(t, resp.State.WitnessReady)
}

func TestOutOfOrderRequestsFail(t *testing.T) {
	w := newTestWorker(t)
	ctx := context.Background()

	for _, typ := range []MsgType{MsgInitWitness, MsgInitProver, MsgProve, MsgVerify, MsgGetVK} {
		resp, err := w.Call(ctx, Request{Type: typ, MessageID: NewMessageID()})
		require.NoError(t, err)
		require.False(t, resp.Success, "type %s must fail before its prerequisites", typ)
		require.Contains(t, resp.Error, ErrWorkerNotReady.Error())
	}

	// Failed requests must not advance the state.
	resp, err := w.Call(ctx, Request{Type: MsgPing, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.False(t, resp.State.ModulesReady)
}

func TestUnknownMessageType(t *testing.T) {
	w := newTestWorker(t)
	resp, err := w.Call(context.Background(), Request{Type: "BOGUS", MessageID: NewMessageID()})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, ErrUnknownMessageType.Error())
}

func TestDuplicateMessageID(t *testing.T) {
	w := newTestWorker(t)

	id := NewMessageID()
	_, err := w.Send(Request{Type: MsgPing, MessageID: id})
	require.NoError(t, err)
	_, err = w.Send(Request{Type: MsgPing, MessageID: id})
	require.Error(t, err)

	_, err = w.Send(Request{Type: MsgPing})
	require.Error(t, err)
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		if seen[id] {
			t.Fatalf("duplicate message id %q", id)
		}
		seen[id] = true
	}
}

func TestCancelledContextEvicts(t *testing.T) {
	w := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Call(ctx, Request{Type: MsgPing, MessageID: NewMessageID()})
	require.ErrorIs(t, err, context.Canceled)

	// The worker stays usable after the eviction.
	resp, err := w.Call(context.Background(), Request{Type: MsgPing, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestCheckCacheEmpty(t *testing.T) {
	w := newTestWorker(t)
	resp, err := w.Call(context.Background(), Request{Type: MsgCheckCache, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.False(t, resp.Cached)

	resp, err = w.Call(context.Background(), Request{Type: MsgClearCache, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

// A download-initialized worker may reach PROVER_READY without a verifying
// key. GET_VK must answer with an error response and leave the worker
// serving, never crash its goroutine.
func TestGetVKWithoutVerifyingKey(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.ArtifactCache = t.TempDir()
	w := NewWorker(cfg, artifact.NewCache(cfg.ArtifactCache))
	w.state = StateProverReady
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	ctx := context.Background()
	resp, err := w.Call(ctx, Request{Type: MsgGetVK, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, ErrWorkerNotReady.Error())

	ping, err := w.Call(ctx, Request{Type: MsgPing, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, ping.Success)
	require.True(t, ping.State.ProverReady)
}

// depositWitness assembles a full deposit against the fake chain.
func depositWitness(t *testing.T, cfg *core.Config) builder.Witness {
	t.Helper()
	ctx := context.Background()

	gw := gateway.NewFakeGateway(cfg.Levels, cfg.SMTLevels)
	signer := gateway.NewFakeSigner("prover-test")

	spending, err := keys.DeriveSpendingKey(ctx, signer)
	require.NoError(t, err)
	encryption, err := keys.DeriveEncryptionKeys(ctx, signer)
	require.NoError(t, err)

	memBlinding := field.FromUint64(42)
	memIndex, err := gw.RegisterMember(field.Poseidon3(spending.Pk, memBlinding, field.FromUint64(1)))
	require.NoError(t, err)

	comp := compliance.NewBuilder(cfg.Levels, smt.New(cfg.SMTLevels))
	require.NoError(t, comp.SyncFromChain(ctx, gw))

	state, err := gw.ReadPoolState(ctx)
	require.NoError(t, err)
	root, err := field.FromHex(state.MerkleRoot)
	require.NoError(t, err)

	tx, err := builder.NewAssembler(cfg, comp).Build(&builder.Request{
		Sk:             spending.Sk,
		EncryptionPk:   encryption.Public,
		PoolRoot:       root,
		MembershipRoot: comp.MembershipRoot(),
		Outputs: []builder.OutputSpec{
			{Amount: big.NewInt(500_000)},
		},
		ExtData: extdata.ExtData{
			Recipient: signer.Address(),
			ExtAmount: big.NewInt(500_000),
		},
		MembershipLeafIndex: memIndex,
		MembershipBlinding:  memBlinding,
	})
	require.NoError(t, err)
	return tx.Witness
}

func TestFullProvingLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup and prove are slow")
	}

	w := newTestWorker(t)
	ctx := context.Background()

	for _, typ := range []MsgType{MsgInitModules, MsgInitWitness, MsgInitProver} {
		resp, err := w.Call(ctx, Request{Type: typ, MessageID: NewMessageID()})
		require.NoError(t, err)
		require.True(t, resp.Success, "stage %s failed: %s", typ, resp.Error)
	}

	info, err := w.Call(ctx, Request{Type: MsgGetCircuitInfo, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, info.Success)
	require.Greater(t, info.CircuitInfo.Constraints, 0)
	require.Equal(t, w.cfg.Levels, info.CircuitInfo.Levels)

	witness := depositWitness(t, w.cfg)
	resp, err := w.Call(ctx, Request{Type: MsgProve, MessageID: NewMessageID(), Witness: &witness})
	require.NoError(t, err)
	require.True(t, resp.Success, "prove failed: %s", resp.Error)
	require.NotNil(t, resp.Prove)

	// On-chain form is exactly 256 bytes: A || B || C.
	onChain := resp.Prove.OnChain.Bytes()
	require.Len(t, onChain, 256)
	require.NotEqual(t, make([]byte, 64), onChain[:64])

	// The compressed proof verifies against its own public inputs.
	verify, err := w.Call(ctx, Request{
		Type:         MsgVerify,
		MessageID:    NewMessageID(),
		Proof:        resp.Prove.Compressed,
		PublicInputs: resp.Prove.PublicInputs,
	})
	require.NoError(t, err)
	require.True(t, verify.Success, "verify failed: %s", verify.Error)
	require.True(t, verify.Verified)

	vk, err := w.Call(ctx, Request{Type: MsgGetVK, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, vk.Success)
	require.NotEmpty(t, vk.VK)

	// Repeated init stages are idempotent.
	again, err := w.Call(ctx, Request{Type: MsgInitProver, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.True(t, again.Success)
	require.True(t, again.State.ProverReady)
}

func TestProveRequiresWitness(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}

	w := newTestWorker(t)
	ctx := context.Background()

	for _, typ := range []MsgType{MsgInitModules, MsgInitWitness, MsgInitProver} {
		resp, err := w.Call(ctx, Request{Type: typ, MessageID: NewMessageID()})
		require.NoError(t, err)
		require.True(t, resp.Success)
	}

	resp, err := w.Call(ctx, Request{Type: MsgProve, MessageID: NewMessageID()})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, ErrProverFailure.Error())
}
