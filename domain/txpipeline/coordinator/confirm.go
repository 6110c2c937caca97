package coordinator

import (
	"context"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/pkg/errors"
)

// OnBlockConfirmed stores the transactions of a confirmed block and commits
// them to their modules and then to the ledger. If any commit fails, the
// commits that succeeded are rolled back and the stored records are
// deleted before the error is returned. Once every commit succeeded the
// block is confirmed, and failures while clearing the unconfirmed state are
// only logged.
func (c *Coordinator) OnBlockConfirmed(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader) error {
	onEnd := logger.LogAndMeasureExecutionTime(log, "OnBlockConfirmed")
	defer onEnd()

	c.cc.Lock.HighPriorityLock()
	defer c.cc.Lock.HighPriorityUnlock()

	txs := make([]*model.Transaction, len(serializedTxs))
	for i, serialized := range serializedTxs {
		tx, err := txserialization.DeserializeTransaction(serialized)
		if err != nil {
			return errors.Wrapf(err, "transaction %d of block %d is malformed", i, header.Height)
		}
		txhashing.TransactionHash(tx)
		txs[i] = tx
	}
	hashes := txhashing.TransactionHashes(txs)

	batches, err := c.groupByModule(txs, serializedTxs)
	if err != nil {
		return err
	}

	err = c.cc.ConfirmedStore.Put(confirmedRecords(txs, header.Height, model.TxStatusCommitted)...)
	if err != nil {
		return err
	}

	syncMode := model.SyncModeNormal
	if !c.cc.IsAccepting() {
		syncMode = model.SyncModeSyncing
	}
	for i, batch := range batches {
		err = c.commitModule(ctx, batch, header, syncMode)
		if err != nil {
			c.rollbackModules(ctx, batches[:i], header)
			c.deleteConfirmedRecords(hashes)
			return err
		}
	}

	committed, err := c.gateways.Ledger.Commit(ctx, c.cc.ChainID, serializedTxs, header.Height)
	if err == nil && !committed {
		err = errors.New("the ledger refused the commit")
	}
	if err != nil {
		c.rollbackModules(ctx, batches, header)
		c.deleteConfirmedRecords(hashes)
		return errors.Wrapf(err, "failed to commit block %d to the ledger", header.Height)
	}

	c.cc.SetTipHeight(header.Height)
	c.cc.Pool.Remove(hashes...)
	c.cc.OrphanCounter.Forget(hashes...)
	err = c.cc.UnconfirmedStore.Delete(hashes...)
	if err != nil {
		log.Errorf("Failed to delete the committed transactions of block %d from the unconfirmed store: %s",
			header.Height, err)
	}

	log.Debugf("Committed %d transactions of block %d", len(txs), header.Height)
	return nil
}

func (c *Coordinator) commitModule(ctx context.Context, batch *moduleBatch, header *model.BlockHeader,
	syncMode model.SyncMode) error {

	committed, err := c.gateways.Module.Commit(ctx, c.cc.ChainID, batch.moduleCode, batch.serializedTxs,
		header, syncMode)
	if err != nil {
		return errors.Wrapf(err, "failed to commit block %d to module %s", header.Height, batch.moduleCode)
	}
	if !committed {
		return errors.Errorf("module %s refused to commit block %d", batch.moduleCode, header.Height)
	}
	return nil
}

// rollbackModules compensates the commits of batches, last first. Failures
// are logged since the caller is already failing.
func (c *Coordinator) rollbackModules(ctx context.Context, batches []*moduleBatch, header *model.BlockHeader) {
	for i := len(batches) - 1; i >= 0; i-- {
		batch := batches[i]
		rolledBack, err := c.gateways.Module.Rollback(ctx, c.cc.ChainID, batch.moduleCode, batch.serializedTxs, header)
		if err != nil || !rolledBack {
			log.Errorf("Module %s could not compensate the commit of block %d and needs to be "+
				"reconciled: rolledBack=%t err=%v", batch.moduleCode, header.Height, rolledBack, err)
		}
	}
}

func (c *Coordinator) deleteConfirmedRecords(hashes []model.TxHash) {
	err := c.cc.ConfirmedStore.Delete(hashes...)
	if err != nil {
		log.Errorf("Failed to delete confirmed records of a failed commit: %s", err)
	}
}

func confirmedRecords(txs []*model.Transaction, height uint64, status model.TxStatus) []*model.ConfirmedTransaction {
	records := make([]*model.ConfirmedTransaction, len(txs))
	for i, tx := range txs {
		records[i] = &model.ConfirmedTransaction{
			Tx:          tx,
			BlockHeight: height,
			Status:      status,
		}
	}
	return records
}
