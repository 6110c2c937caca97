// Package admission accepts transactions submitted by clients into the
// packable pool.
package admission

import (
	"context"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/ruleerrors"
	"github.com/blockpipe/txpipe/domain/txpipeline/txvalidation"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Admitter admits submitted transactions of one chain
type Admitter struct {
	cc       *chaincontext.ChainContext
	gateways *model.Gateways
}

// New returns an Admitter for the given chain
func New(cc *chaincontext.ChainContext, gateways *model.Gateways) *Admitter {
	return &Admitter{
		cc:       cc,
		gateways: gateways,
	}
}

// SubmitTransaction validates a serialized transaction, stores it as
// unconfirmed, pools it and broadcasts it. Submitting a transaction that is
// already known returns its hash and no error. Rejections are RuleErrors
// carrying a RejectCode.
//
// A transaction that was pooled but could not be broadcast is returned
// along with a RejectBroadcast error. It stays pooled.
func (a *Admitter) SubmitTransaction(ctx context.Context, serializedTx []byte) (model.TxHash, error) {
	hash, err := a.submitTransaction(ctx, serializedTx)
	if err != nil {
		if _, ok := ruleerrors.ExtractRejectCode(err); ok {
			a.cc.Metrics.AdmissionRejects.Inc()
		}
		log.Debugf("Rejected transaction %s: %s", hash, err)
		return hash, err
	}
	return hash, nil
}

func (a *Admitter) submitTransaction(ctx context.Context, serializedTx []byte) (model.TxHash, error) {
	if len(serializedTx) > model.MaxTransactionSize {
		return model.TxHash{}, ruleerrors.NewTxRuleErrorf(ruleerrors.RejectMalformed,
			"transaction size %d exceeds the maximum of %d", len(serializedTx), model.MaxTransactionSize)
	}
	tx, err := txserialization.DeserializeTransaction(serializedTx)
	if err != nil {
		return model.TxHash{}, ruleerrors.NewTxRuleErrorf(ruleerrors.RejectMalformed, "%s", err)
	}
	hash := txhashing.TransactionHash(tx)

	register, err := a.cc.Registry.Get(tx.Type)
	if err != nil {
		return hash, ruleerrors.NewTxRuleErrorf(ruleerrors.RejectUnknownType, "%s", err)
	}
	if register.SystemTx {
		return hash, ruleerrors.NewTxRuleErrorf(ruleerrors.RejectSystemTx,
			"transactions of type %d are created by the node and can't be submitted", tx.Type)
	}
	if !a.cc.IsAccepting() {
		return hash, ruleerrors.NewTxRuleError(ruleerrors.RejectPaused,
			"the chain is not accepting new transactions right now")
	}

	isKnown, err := a.isKnown(hash)
	if err != nil {
		return hash, err
	}
	if isKnown {
		log.Debugf("Transaction %s is already known", hash)
		return hash, nil
	}
	// A stored transaction missing from the pool was packed into a block
	// that never got confirmed. It is validated and pooled again.
	wasUnconfirmed, err := a.cc.UnconfirmedStore.Has(hash)
	if err != nil {
		return hash, err
	}

	assetChainID, assetID := a.cc.MainAsset()
	err = txvalidation.ValidateTransactionInIsolation(tx, register, &txvalidation.FeeParams{
		AssetChainID: assetChainID,
		AssetID:      assetID,
		MinFeePerKB:  a.cc.Config.MinFeePerKB,
	})
	if err != nil {
		return hash, err
	}

	err = a.validateInContext(ctx, tx, serializedTx)
	if err != nil {
		return hash, err
	}

	err = a.cc.UnconfirmedStore.Put(tx)
	if err != nil {
		return hash, err
	}
	admitted, err := a.cc.Pool.Admit(tx)
	if err != nil {
		if !wasUnconfirmed {
			deleteErr := a.cc.UnconfirmedStore.Delete(hash)
			if deleteErr != nil {
				log.Errorf("Failed to delete unpooled transaction %s from the unconfirmed store: %s", hash, deleteErr)
			}
		}
		return hash, err
	}
	if !admitted {
		return hash, nil
	}
	a.cc.Metrics.AdmittedTransactions.Inc()

	return hash, a.broadcast(ctx, hash, serializedTx)
}

func (a *Admitter) isKnown(hash model.TxHash) (bool, error) {
	if a.cc.Pool.Contains(hash) {
		return true, nil
	}
	return a.cc.ConfirmedStore.Has(hash)
}

// validateInContext asks the ledger and the owning module about tx as a
// candidate for the block following the chain tip. An orphan is admitted,
// the packager retries it until its parent arrives.
func (a *Admitter) validateInContext(ctx context.Context, tx *model.Transaction, serializedTx []byte) error {
	height := a.cc.TipHeight() + 1
	verdict, err := a.gateways.Ledger.VerifyOne(ctx, a.cc.ChainID, serializedTx, height)
	if err != nil {
		return errors.Wrap(err, "ledger verification failed")
	}
	if verdict == model.LedgerFailed {
		return ruleerrors.NewTxRuleError(ruleerrors.RejectInvalid, "the ledger rejected the coin data")
	}

	moduleCode, err := a.cc.Registry.ModuleOf(tx.Type)
	if err != nil {
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectUnknownType, "%s", err)
	}
	header := &model.BlockHeader{Height: height, Time: a.cc.Clock.Now().Unix()}
	rejected, err := a.gateways.Module.Validate(ctx, a.cc.ChainID, moduleCode, [][]byte{serializedTx}, header)
	if err != nil {
		return errors.Wrapf(err, "module %s validation failed", moduleCode)
	}
	if len(rejected) > 0 {
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectModule, "module %s rejected the transaction", moduleCode)
	}
	return nil
}

// broadcast relays the transaction, retrying at a constant interval
func (a *Admitter) broadcast(ctx context.Context, hash model.TxHash, serializedTx []byte) error {
	config := a.cc.Config
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(config.BroadcastRetryInterval), uint64(config.BroadcastRetries)),
		ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		broadcasted, err := a.gateways.Broadcast.Broadcast(ctx, a.cc.ChainID, serializedTx)
		if err != nil {
			return err
		}
		if !broadcasted {
			return errors.New("the transaction was not broadcast")
		}
		return nil
	}, policy)
	if err != nil {
		log.Warnf("Failed to broadcast transaction %s after %d attempts: %s", hash, attempt, err)
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectBroadcast, "broadcast failed: %s", err)
	}
	return nil
}
