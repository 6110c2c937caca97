package packager

import (
	"sort"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/packablepool"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
)

// wrappersToRestore returns the wrappers of every entry that must go back to
// the pool. An aborted pass returns its candidates as well.
func (pass *packingPass) wrappersToRestore(aborted bool) []*model.PackageWrapper {
	var wrappers []*model.PackageWrapper
	for _, entry := range pass.entries {
		switch entry.status {
		case statusPending, statusRestore:
			wrappers = append(wrappers, entry.PackageWrapper)
		case statusCandidate:
			if aborted {
				wrappers = append(wrappers, entry.PackageWrapper)
			}
		}
	}
	return wrappers
}

// restoreToPool pushes wrappers back to the head of pool. They are pushed
// in descending Index order so the pool ends up holding them in the order
// they were taken, ahead of everything that was never taken.
func restoreToPool(pool *packablepool.Pool, wrappers []*model.PackageWrapper) {
	if len(wrappers) == 0 {
		return
	}
	sort.Slice(wrappers, func(i, j int) bool {
		return wrappers[i].Index > wrappers[j].Index
	})
	for _, wrapper := range wrappers {
		pool.ReturnToFront(wrapper.Tx)
	}
	log.Debugf("Returned %d transactions to the pool", len(wrappers))
}

func (pass *packingPass) restoreToPool(wrappers []*model.PackageWrapper) {
	restoreToPool(pass.packager.cc.Pool, wrappers)
}

// ReturnPackedBlock puts the user transactions of a packed block that was
// never confirmed back at the head of the pool, in their block order.
// Transactions that got confirmed or left the unconfirmed store meanwhile
// are skipped.
func (p *Packager) ReturnPackedBlock(result *model.PackResult) error {
	p.cc.Lock.HighPriorityLock()
	defer p.cc.Lock.HighPriorityUnlock()

	returned := 0
	for i := len(result.Txs) - 1; i >= 0; i-- {
		tx := result.Txs[i]
		if p.cc.Registry.IsSystemTx(tx.Type) {
			continue
		}
		hash := txhashing.TransactionHash(tx)
		isConfirmed, err := p.cc.ConfirmedStore.Has(hash)
		if err != nil {
			return err
		}
		isUnconfirmed, err := p.cc.UnconfirmedStore.Has(hash)
		if err != nil {
			return err
		}
		if isConfirmed || !isUnconfirmed {
			continue
		}
		if p.cc.Pool.ReturnToFront(tx) {
			returned++
		}
	}
	log.Infof("Returned %d transactions of an unconfirmed block to the pool", returned)
	return nil
}
