// Package verifier re-validates the transactions of a received block before
// the node accepts it. A block passes only if every check PackBlock applies
// while packing holds for it.
package verifier

import (
	"bytes"
	"context"
	"runtime"
	"sort"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/ruleerrors"
	"github.com/blockpipe/txpipe/domain/txpipeline/txvalidation"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"golang.org/x/sync/errgroup"
)

// Verifier verifies blocks of one chain
type Verifier struct {
	cc       *chaincontext.ChainContext
	gateways *model.Gateways
}

// New returns a Verifier for the given chain
func New(cc *chaincontext.ChainContext, gateways *model.Gateways) *Verifier {
	return &Verifier{
		cc:       cc,
		gateways: gateways,
	}
}

type blockTransaction struct {
	tx         *model.Transaction
	serialized []byte
	register   *model.TxRegister
}

// VerifyBlock checks serializedTxs, the transactions of the block described
// by header. It returns an error matching ruleerrors.ErrBlockRejected if
// the block must not be accepted.
func (v *Verifier) VerifyBlock(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader,
	prevStateRoot []byte) (*model.VerifyResult, error) {

	onEnd := logger.LogAndMeasureExecutionTime(log, "VerifyBlock")
	defer onEnd()

	result, err := v.verifyBlock(ctx, serializedTxs, header, prevStateRoot)
	if err != nil {
		v.cc.Metrics.VerifyRejects.Inc()
		log.Warnf("Rejected block at height %d: %s", header.Height, err)
		return nil, err
	}
	return result, nil
}

func (v *Verifier) verifyBlock(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader,
	prevStateRoot []byte) (*model.VerifyResult, error) {

	blockTxs, err := v.parseTransactions(serializedTxs)
	if err != nil {
		return nil, err
	}

	err = v.checkBlockRules(blockTxs, header)
	if err != nil {
		return nil, err
	}

	err = v.validateTransactionsInIsolation(blockTxs)
	if err != nil {
		return nil, err
	}

	err = v.verifyWithLedger(ctx, blockTxs, serializedTxs, header.Height)
	if err != nil {
		return nil, err
	}

	err = v.validateWithModules(ctx, blockTxs, header)
	if err != nil {
		return nil, err
	}

	stateRoot, err := v.checkProducedTransactions(ctx, blockTxs, header)
	if err != nil {
		return nil, err
	}
	if stateRoot == nil {
		stateRoot = prevStateRoot
	}

	return &model.VerifyResult{
		StateRoot: stateRoot,
		TxCount:   len(blockTxs),
	}, nil
}

// parseTransactions deserializes the block and rejects unknown types,
// duplicates and transactions that were already confirmed
func (v *Verifier) parseTransactions(serializedTxs [][]byte) ([]*blockTransaction, error) {
	blockTxs := make([]*blockTransaction, len(serializedTxs))
	seen := make(model.TxHashSet, len(serializedTxs))
	for i, serialized := range serializedTxs {
		tx, err := txserialization.DeserializeTransaction(serialized)
		if err != nil {
			return nil, ruleerrors.NewErrBlockRejected("transaction %d is malformed: %s", i, err)
		}
		hash := txhashing.TransactionHash(tx)

		if seen.Contains(hash) {
			return nil, ruleerrors.NewErrBlockRejected("transaction %s appears twice", hash)
		}
		seen.Add(hash)

		isConfirmed, err := v.cc.ConfirmedStore.Has(hash)
		if err != nil {
			return nil, err
		}
		if isConfirmed {
			return nil, ruleerrors.NewErrBlockRejected("transaction %s is already confirmed", hash)
		}

		register, err := v.cc.Registry.Get(tx.Type)
		if err != nil {
			return nil, ruleerrors.NewErrBlockRejected("transaction %s: %s", hash, err)
		}
		blockTxs[i] = &blockTransaction{tx: tx, serialized: serialized, register: register}
	}
	return blockTxs, nil
}

// checkBlockRules checks the rules PackBlock applies to the block as a whole
func (v *Verifier) checkBlockRules(blockTxs []*blockTransaction, header *model.BlockHeader) error {
	config := v.cc.Config
	tolerance := int64(config.TimeWindowTolerance.Seconds())
	crossChain := 0
	systemTxsStarted := false
	for _, blockTx := range blockTxs {
		hash := *blockTx.tx.Hash
		if blockTx.register.SystemTx {
			systemTxsStarted = true
			continue
		}
		if systemTxsStarted {
			return ruleerrors.NewErrBlockRejected("transaction %s follows the system transactions", hash)
		}

		if blockTx.register.CrossChain {
			crossChain++
			if crossChain > config.MaxCrossChainTxPerBlock {
				return ruleerrors.NewErrBlockRejected("more than %d cross-chain transactions",
					config.MaxCrossChainTxPerBlock)
			}
		}

		if blockTx.register.TimeWindow {
			difference := blockTx.tx.Time - header.Time
			if difference < -tolerance || difference > tolerance {
				return ruleerrors.NewErrBlockRejected("transaction %s with time %d is out of the time window "+
					"of block time %d", hash, blockTx.tx.Time, header.Time)
			}
		}
	}
	return nil
}

// validateTransactionsInIsolation runs the local checks of every user
// transaction this node didn't admit itself, on a bounded worker pool
func (v *Verifier) validateTransactionsInIsolation(blockTxs []*blockTransaction) error {
	assetChainID, assetID := v.cc.MainAsset()
	feeParams := &txvalidation.FeeParams{
		AssetChainID: assetChainID,
		AssetID:      assetID,
		MinFeePerKB:  v.cc.Config.MinFeePerKB,
	}

	group := errgroup.Group{}
	group.SetLimit(runtime.NumCPU())
	for _, blockTx := range blockTxs {
		if blockTx.register.SystemTx {
			continue
		}
		isUnconfirmed, err := v.cc.UnconfirmedStore.Has(*blockTx.tx.Hash)
		if err != nil {
			return err
		}
		if isUnconfirmed {
			continue
		}

		blockTx := blockTx
		group.Go(func() error {
			err := txvalidation.ValidateTransactionInIsolation(blockTx.tx, blockTx.register, feeParams)
			if err != nil {
				return ruleerrors.NewErrBlockRejected("transaction %s: %s", blockTx.tx.Hash, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// verifyWithLedger sends the whole block to the ledger in one call. Every
// transaction must be accepted.
func (v *Verifier) verifyWithLedger(ctx context.Context, blockTxs []*blockTransaction,
	serializedTxs [][]byte, height uint64) (err error) {

	ledger := v.gateways.Ledger
	chainID := v.cc.ChainID
	err = ledger.BeginBatchNotify(ctx, chainID)
	if err != nil {
		return ruleerrors.NewErrBlockRejected("ledger is unavailable: %s", err)
	}
	defer func() {
		endErr := ledger.EndBatchNotify(ctx, chainID)
		if endErr != nil && err == nil {
			err = ruleerrors.NewErrBlockRejected("ledger is unavailable: %s", endErr)
		}
	}()

	result, err := ledger.VerifyBatch(ctx, chainID, serializedTxs, height)
	if err != nil {
		return ruleerrors.NewErrBlockRejected("ledger is unavailable: %s", err)
	}
	if len(result.Failed) > 0 {
		return ruleerrors.NewErrBlockRejected("ledger rejected transaction %s", result.Failed[0])
	}
	if len(result.Orphaned) > 0 {
		return ruleerrors.NewErrBlockRejected("transaction %s is an orphan", result.Orphaned[0])
	}
	accepted := model.NewTxHashSet(result.Accepted...)
	for _, blockTx := range blockTxs {
		if !accepted.Contains(*blockTx.tx.Hash) {
			return ruleerrors.NewErrBlockRejected("ledger returned no verdict for transaction %s", blockTx.tx.Hash)
		}
	}
	return nil
}

// validateWithModules calls the validator of every module owning a
// transaction of the block once
func (v *Verifier) validateWithModules(ctx context.Context, blockTxs []*blockTransaction,
	header *model.BlockHeader) error {

	groups := make(map[string][][]byte)
	for _, blockTx := range blockTxs {
		moduleCode := blockTx.register.ModuleCode
		groups[moduleCode] = append(groups[moduleCode], blockTx.serialized)
	}
	moduleCodes := make([]string, 0, len(groups))
	for moduleCode := range groups {
		moduleCodes = append(moduleCodes, moduleCode)
	}
	sort.Strings(moduleCodes)

	for _, moduleCode := range moduleCodes {
		rejected, err := v.gateways.Module.Validate(ctx, v.cc.ChainID, moduleCode, groups[moduleCode], header)
		if err != nil {
			return ruleerrors.NewErrBlockRejected("module %s is unavailable: %s", moduleCode, err)
		}
		if len(rejected) > 0 {
			return ruleerrors.NewErrBlockRejected("module %s rejected transaction %s", moduleCode, rejected[0])
		}
	}
	return nil
}

// checkProducedTransactions runs the produce hooks in verify mode and
// requires their output to match the block's system transactions byte for
// byte. It returns the last non-empty state root the hooks reported.
func (v *Verifier) checkProducedTransactions(ctx context.Context, blockTxs []*blockTransaction,
	header *model.BlockHeader) ([]byte, error) {

	var blockProduced [][]byte
	for _, blockTx := range blockTxs {
		if blockTx.register.SystemTx {
			blockProduced = append(blockProduced, blockTx.serialized)
		}
	}

	var expectedProduced [][]byte
	var stateRoot []byte
	for _, moduleCode := range v.cc.Registry.ProduceModules() {
		var originals [][]byte
		for _, blockTx := range blockTxs {
			if blockTx.register.ModuleCode == moduleCode && blockTx.register.PackProduce {
				originals = append(originals, blockTx.serialized)
			}
		}
		if len(originals) == 0 {
			continue
		}

		result, err := v.gateways.Module.Produce(ctx, v.cc.ChainID, moduleCode, originals,
			header.Height, header.Time, model.ProduceModeVerify)
		if err != nil {
			return nil, ruleerrors.NewErrBlockRejected("produce hook of module %s failed: %s", moduleCode, err)
		}
		if result == nil {
			continue
		}
		if len(result.MustRemove) > 0 {
			return nil, ruleerrors.NewErrBlockRejected("module %s can't produce the effect of transaction %s",
				moduleCode, result.MustRemove[0])
		}
		expectedProduced = append(expectedProduced, result.NewTxs...)
		if len(result.StateRoot) > 0 {
			stateRoot = result.StateRoot
		}
	}

	if len(expectedProduced) != len(blockProduced) {
		return nil, ruleerrors.NewErrBlockRejected("expected %d produced transactions, the block has %d",
			len(expectedProduced), len(blockProduced))
	}
	for i := range expectedProduced {
		if !bytes.Equal(expectedProduced[i], blockProduced[i]) {
			return nil, ruleerrors.NewErrBlockRejected("produced transaction %d differs from the expected one", i)
		}
	}
	return stateRoot, nil
}
