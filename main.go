package main

import (
	"context"
	"math/big"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"zkpool/pkg/artifact"
	"zkpool/pkg/builder"
	"zkpool/pkg/compliance"
	"zkpool/pkg/core"
	"zkpool/pkg/extdata"
	"zkpool/pkg/field"
	"zkpool/pkg/gateway"
	"zkpool/pkg/keys"
	"zkpool/pkg/prover"
	"zkpool/pkg/smt"
)

// Demo flow against the in-memory gateway: derive keys, register with the
// ASP, deposit into the pool, then withdraw. Proofs are generated with a
// locally set-up Groth16 instance unless artifact URLs are configured.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config := core.DefaultConfig()
	if levels := os.Getenv("POOL_LEVELS"); levels != "" {
		n, err := strconv.Atoi(levels)
		if err != nil {
			log.Fatal().Str("value", levels).Msg("Failed to parse POOL_LEVELS")
		}
		config.Levels = n
	}
	if levels := os.Getenv("SMT_LEVELS"); levels != "" {
		n, err := strconv.Atoi(levels)
		if err != nil {
			log.Fatal().Str("value", levels).Msg("Failed to parse SMT_LEVELS")
		}
		config.SMTLevels = n
	}
	if dir := os.Getenv("ARTIFACT_CACHE"); dir != "" {
		config.ArtifactCache = dir
	}

	ctx := context.Background()

	signer := gateway.NewFakeSigner(os.Getenv("WALLET_SEED"))
	gw := gateway.NewFakeGateway(config.Levels, config.SMTLevels)

	spending, err := keys.DeriveSpendingKey(ctx, signer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to derive spending key")
	}
	encryption, err := keys.DeriveEncryptionKeys(ctx, signer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to derive encryption keys")
	}
	log.Info().Str("address", signer.Address()).Str("pk", field.Hex(spending.Pk)).Msg("Wallet ready")

	// Register with the ASP before any pool activity.
	memBlinding, err := field.RandomElement()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sample membership blinding")
	}
	memLeaf := field.Poseidon3(spending.Pk, memBlinding, field.FromUint64(1))
	memIndex, err := gw.RegisterMember(memLeaf)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register with ASP")
	}

	comp := compliance.NewBuilder(config.Levels, smt.New(config.SMTLevels))
	if err := comp.SyncFromChain(ctx, gw); err != nil {
		log.Fatal().Err(err).Msg("Failed to sync compliance state")
	}

	worker := prover.NewWorker(config, artifact.NewCache(config.ArtifactCache))
	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start prover worker")
	}
	defer worker.Stop()

	for _, t := range []prover.MsgType{prover.MsgInitModules, prover.MsgInitWitness, prover.MsgInitProver} {
		resp, err := worker.CallWithProgress(ctx, prover.Request{Type: t, MessageID: prover.NewMessageID()},
			func(p artifact.Progress) {
				log.Info().Int64("loaded", p.Loaded).Float64("percent", p.Percent).Msg("Downloading artifacts")
			})
		if err != nil {
			log.Fatal().Err(err).Str("stage", string(t)).Msg("Prover initialization failed")
		}
		if !resp.Success {
			log.Fatal().Str("stage", string(t)).Str("error", resp.Error).Msg("Prover initialization failed")
		}
	}

	assembler := builder.NewAssembler(config, comp)

	depositAmount := int64(500_000)
	if v := os.Getenv("DEPOSIT_AMOUNT"); v != "" {
		depositAmount, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatal().Str("value", v).Msg("Failed to parse DEPOSIT_AMOUNT")
		}
	}

	deposited := transact(ctx, config, gw, worker, assembler, &builder.Request{
		Sk:           spending.Sk,
		EncryptionPk: encryption.Public,
		Outputs: []builder.OutputSpec{
			{Amount: big.NewInt(depositAmount)},
		},
		ExtData: extdata.ExtData{
			Recipient: signer.Address(),
			ExtAmount: big.NewInt(depositAmount),
		},
		MembershipLeafIndex: memIndex,
		MembershipBlinding:  memBlinding,
	}, comp, signer.Address())

	// Spend the deposit: withdraw everything back to the wallet address.
	pool, indexes, err := gateway.ReplayPoolTree(ctx, gw, config.Levels)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to rebuild pool tree")
	}
	leafIndex, ok := indexes[field.Hex(deposited.OutputNotes[0].Commitment())]
	if !ok {
		log.Fatal().Msg("Commitment not found in pool events")
	}
	proof, err := pool.Proof(leafIndex)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pool proof")
	}

	transact(ctx, config, gw, worker, assembler, &builder.Request{
		Sk:           spending.Sk,
		EncryptionPk: encryption.Public,
		Inputs: []builder.InputNote{
			{Note: deposited.OutputNotes[0], LeafIndex: leafIndex, Proof: &proof},
		},
		ExtData: extdata.ExtData{
			Recipient: signer.Address(),
			ExtAmount: big.NewInt(-depositAmount),
		},
		MembershipLeafIndex: memIndex,
		MembershipBlinding:  memBlinding,
	}, comp, signer.Address())

	state, err := gw.ReadPoolState(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read pool state")
	}
	log.Info().Uint64("leaves", state.MerkleNextIndex).Str("root", state.MerkleRoot).Msg("Demo complete")
}

// transact assembles, proves and submits one pool transaction.
func transact(ctx context.Context, config *core.Config, gw gateway.ChainGateway, worker *prover.Worker,
	assembler *builder.Assembler, req *builder.Request, comp *compliance.Builder, sender string) *builder.Transaction {

	if req.PoolRoot.IsZero() {
		state, err := gw.ReadPoolState(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read pool state")
		}
		root, err := field.FromHex(state.MerkleRoot)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to parse pool root")
		}
		req.PoolRoot = root
	}
	req.MembershipRoot = comp.MembershipRoot()

	tx, err := assembler.Build(req)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble transaction")
	}

	resp, err := worker.Call(ctx, prover.Request{
		Type:      prover.MsgProve,
		MessageID: prover.NewMessageID(),
		Witness:   &tx.Witness,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Proving failed")
	}
	if !resp.Success {
		log.Fatal().Str("error", resp.Error).Msg("Proving failed")
	}

	nmRoot := tx.Witness.Compliance[0].NonMembershipRoots[0]
	submit := tx.SubmitRequest(resp.Prove.OnChain.A, resp.Prove.OnChain.B, resp.Prove.OnChain.C,
		comp.MembershipRoot(), nmRoot, sender)
	result, err := gw.SubmitPoolTransaction(ctx, submit)
	if err != nil {
		log.Fatal().Err(err).Msg("Submission failed")
	}
	if !result.Success {
		log.Fatal().Str("error", result.Error).Msg("Transaction rejected by contract")
	}

	log.Info().Str("tx_hash", result.TxHash).Str("public_amount", tx.PublicAmount.String()).
		Msg("Pool transaction applied")
	return tx
}
