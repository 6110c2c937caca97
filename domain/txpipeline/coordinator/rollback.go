package coordinator

import (
	"context"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/pkg/errors"
)

// OnBlockRolledBack undoes a confirmed block: the ledger first, then the
// modules in reverse module order. Afterwards the block's user
// transactions are pooled again, ahead of everything else and in their
// block order. Admission is paused for the duration.
func (c *Coordinator) OnBlockRolledBack(ctx context.Context, hashes []model.TxHash, header *model.BlockHeader) error {
	onEnd := logger.LogAndMeasureExecutionTime(log, "OnBlockRolledBack")
	defer onEnd()

	c.cc.Lock.HighPriorityLock()
	defer c.cc.Lock.HighPriorityUnlock()

	wasAccepting := c.cc.IsAccepting()
	c.cc.SetAccepting(false)
	defer c.cc.SetAccepting(wasAccepting)

	txs := make([]*model.Transaction, len(hashes))
	for i, hash := range hashes {
		record, found, err := c.cc.ConfirmedStore.Get(hash)
		if err != nil {
			return err
		}
		if !found {
			return errors.Errorf("transaction %s of block %d is not confirmed", hash, header.Height)
		}
		txs[i] = record.Tx
	}
	serializedTxs, err := serializeAll(txs)
	if err != nil {
		return err
	}
	batches, err := c.groupByModule(txs, serializedTxs)
	if err != nil {
		return err
	}

	rolledBack, err := c.gateways.Ledger.Rollback(ctx, c.cc.ChainID, serializedTxs, header.Height)
	if err == nil && !rolledBack {
		err = errors.New("the ledger refused the rollback")
	}
	if err != nil {
		return errors.Wrapf(err, "failed to roll back block %d in the ledger", header.Height)
	}

	for i := len(batches) - 1; i >= 0; i-- {
		err = c.rollbackModule(ctx, batches[i], header)
		if err != nil {
			c.recommitModules(ctx, batches[i+1:], header)
			c.recommitLedger(ctx, serializedTxs, header)
			return err
		}
	}

	err = c.cc.ConfirmedStore.Delete(hashes...)
	if err != nil {
		return err
	}

	if header.Height > 0 {
		c.cc.SetTipHeight(header.Height - 1)
	}

	readmitted := 0
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if c.cc.Registry.IsSystemTx(tx.Type) {
			continue
		}
		err = c.cc.UnconfirmedStore.Put(tx)
		if err != nil {
			return err
		}
		c.cc.Pool.ReturnToFront(tx)
		readmitted++
	}

	log.Debugf("Rolled back block %d and returned %d transactions to the pool", header.Height, readmitted)
	return nil
}

func (c *Coordinator) rollbackModule(ctx context.Context, batch *moduleBatch, header *model.BlockHeader) error {
	rolledBack, err := c.gateways.Module.Rollback(ctx, c.cc.ChainID, batch.moduleCode, batch.serializedTxs, header)
	if err != nil {
		return errors.Wrapf(err, "failed to roll back block %d in module %s", header.Height, batch.moduleCode)
	}
	if !rolledBack {
		return errors.Errorf("module %s refused to roll back block %d", batch.moduleCode, header.Height)
	}
	return nil
}

// recommitModules compensates the rollbacks of batches
func (c *Coordinator) recommitModules(ctx context.Context, batches []*moduleBatch, header *model.BlockHeader) {
	for _, batch := range batches {
		err := c.commitModule(ctx, batch, header, model.SyncModeNormal)
		if err != nil {
			log.Errorf("Module %s could not compensate the rollback of block %d and needs to be "+
				"reconciled: %s", batch.moduleCode, header.Height, err)
		}
	}
}

func (c *Coordinator) recommitLedger(ctx context.Context, serializedTxs [][]byte, header *model.BlockHeader) {
	committed, err := c.gateways.Ledger.Commit(ctx, c.cc.ChainID, serializedTxs, header.Height)
	if err != nil || !committed {
		log.Errorf("The ledger could not compensate the rollback of block %d and needs to be "+
			"reconciled: committed=%t err=%v", header.Height, committed, err)
	}
}
