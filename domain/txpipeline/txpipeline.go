package txpipeline

import (
	"context"

	"github.com/blockpipe/txpipe/domain/txpipeline/admission"
	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/coordinator"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/packager"
	"github.com/blockpipe/txpipe/domain/txpipeline/verifier"
)

// TxPipeline packs pooled transactions into blocks, verifies received
// blocks and applies confirmed and disconnected blocks, for one chain
type TxPipeline interface {
	PackBlock(ctx context.Context, request *model.PackRequest) (*model.PackResult, error)
	ReturnPackedBlock(result *model.PackResult) error
	VerifyBlock(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader,
		prevStateRoot []byte) (*model.VerifyResult, error)
	SubmitTransaction(ctx context.Context, serializedTx []byte) (model.TxHash, error)
	OnBlockConfirmed(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader) error
	OnBlockRolledBack(ctx context.Context, hashes []model.TxHash, header *model.BlockHeader) error

	RegisterTxTypes(moduleCode string, registers ...*model.TxRegister) error
	UnregisterTxTypes(moduleCode string, txTypes ...uint16)

	SetAccepting(accepting bool)
	PoolSize() int
}

type txPipeline struct {
	cc          *chaincontext.ChainContext
	packager    *packager.Packager
	verifier    *verifier.Verifier
	coordinator *coordinator.Coordinator
	admitter    *admission.Admitter
}

// PackBlock fills a block proposal from the pool before request.Deadline
func (tp *txPipeline) PackBlock(ctx context.Context, request *model.PackRequest) (*model.PackResult, error) {
	return tp.packager.PackBlock(ctx, request)
}

// ReturnPackedBlock pools again the transactions of a packed block that
// will not be confirmed
func (tp *txPipeline) ReturnPackedBlock(result *model.PackResult) error {
	return tp.packager.ReturnPackedBlock(result)
}

// VerifyBlock checks the transactions of a received block
func (tp *txPipeline) VerifyBlock(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader,
	prevStateRoot []byte) (*model.VerifyResult, error) {

	return tp.verifier.VerifyBlock(ctx, serializedTxs, header, prevStateRoot)
}

// SubmitTransaction validates a client transaction and adds it to the pool
func (tp *txPipeline) SubmitTransaction(ctx context.Context, serializedTx []byte) (model.TxHash, error) {
	return tp.admitter.SubmitTransaction(ctx, serializedTx)
}

// OnBlockConfirmed commits the transactions of a confirmed block
func (tp *txPipeline) OnBlockConfirmed(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader) error {
	return tp.coordinator.OnBlockConfirmed(ctx, serializedTxs, header)
}

// OnBlockRolledBack undoes a disconnected block and pools its user
// transactions again
func (tp *txPipeline) OnBlockRolledBack(ctx context.Context, hashes []model.TxHash, header *model.BlockHeader) error {
	return tp.coordinator.OnBlockRolledBack(ctx, hashes, header)
}

// RegisterTxTypes registers the transaction types owned by moduleCode. It
// waits for a running packaging attempt to end.
func (tp *txPipeline) RegisterTxTypes(moduleCode string, registers ...*model.TxRegister) error {
	tp.cc.Lock.HighPriorityLock()
	defer tp.cc.Lock.HighPriorityUnlock()

	err := tp.cc.Registry.Register(moduleCode, registers...)
	if err != nil {
		return err
	}
	log.Infof("Module %s registered %d transaction types on chain %d", moduleCode, len(registers), tp.cc.ChainID)
	return nil
}

// UnregisterTxTypes removes the given types of moduleCode, or all of its
// types if none are given
func (tp *txPipeline) UnregisterTxTypes(moduleCode string, txTypes ...uint16) {
	tp.cc.Lock.HighPriorityLock()
	defer tp.cc.Lock.HighPriorityUnlock()

	tp.cc.Registry.Unregister(moduleCode, txTypes...)
	log.Infof("Module %s unregistered transaction types %v on chain %d", moduleCode, txTypes, tp.cc.ChainID)
}

// SetAccepting pauses or resumes admission of new transactions
func (tp *txPipeline) SetAccepting(accepting bool) {
	tp.cc.SetAccepting(accepting)
}

// PoolSize returns the number of pooled transactions
func (tp *txPipeline) PoolSize() int {
	return tp.cc.Pool.TransactionCount()
}
