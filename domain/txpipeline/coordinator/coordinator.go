// Package coordinator applies a block's transactions to the ledger and to
// their owning modules once the block is confirmed, and undoes them when
// the block is disconnected.
//
// The ledger and the modules are separate systems and there is no
// two-phase commit between them. When one of them fails the coordinator
// compensates the ones that already succeeded, but a crash between a
// module commit and the ledger commit leaves them diverged. Such a state
// needs external reconciliation.
package coordinator

import (
	"sort"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
)

// Coordinator commits and rolls back blocks of one chain
type Coordinator struct {
	cc       *chaincontext.ChainContext
	gateways *model.Gateways
}

// New returns a Coordinator for the given chain
func New(cc *chaincontext.ChainContext, gateways *model.Gateways) *Coordinator {
	return &Coordinator{
		cc:       cc,
		gateways: gateways,
	}
}

// moduleBatch holds the transactions of a block owned by one module, in
// block order
type moduleBatch struct {
	moduleCode    string
	serializedTxs [][]byte
}

// groupByModule groups txs by owning module. The batches are sorted by
// module code.
func (c *Coordinator) groupByModule(txs []*model.Transaction, serializedTxs [][]byte) ([]*moduleBatch, error) {
	batches := make(map[string]*moduleBatch)
	for i, tx := range txs {
		moduleCode, err := c.cc.Registry.ModuleOf(tx.Type)
		if err != nil {
			return nil, err
		}
		batch, ok := batches[moduleCode]
		if !ok {
			batch = &moduleBatch{moduleCode: moduleCode}
			batches[moduleCode] = batch
		}
		batch.serializedTxs = append(batch.serializedTxs, serializedTxs[i])
	}

	sorted := make([]*moduleBatch, 0, len(batches))
	for _, batch := range batches {
		sorted = append(sorted, batch)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].moduleCode < sorted[j].moduleCode
	})
	return sorted, nil
}

func serializeAll(txs []*model.Transaction) ([][]byte, error) {
	serializedTxs := make([][]byte, len(txs))
	for i, tx := range txs {
		serialized, err := txserialization.SerializeTransaction(tx)
		if err != nil {
			return nil, err
		}
		serializedTxs[i] = serialized
	}
	return serializedTxs, nil
}
