package packager

import (
	"context"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/pkg/errors"
)

type entryStatus uint8

const (
	// statusPending entries were collected but not verified by the ledger yet
	statusPending entryStatus = iota

	// statusCandidate entries were accepted by the ledger and are headed for the block
	statusCandidate

	// statusRestore entries go back to the pool when the pass ends
	statusRestore

	// statusDropped entries were found invalid, stale or evicted and are gone for good
	statusDropped
)

type packEntry struct {
	*model.PackageWrapper
	register *model.TxRegister
	status   entryStatus

	// heldByLedger is set once the ledger accepted the entry
	heldByLedger bool
}

// packingPass is the state of a single packaging attempt
type packingPass struct {
	ctx      context.Context
	packager *Packager
	request  *model.PackRequest

	budget     int
	usedBytes  int
	crossChain int

	collectDeadline time.Time
	workDeadline    time.Time

	entries    []*packEntry
	candidates []*packEntry
	seen       model.TxHashSet

	producedStateRoot []byte

	batchOpen        bool
	validationRounds int
}

func newPackingPass(ctx context.Context, packager *Packager, request *model.PackRequest, budget int) *packingPass {
	reserve := packager.cc.Config.PackReserve
	return &packingPass{
		ctx:             ctx,
		packager:        packager,
		request:         request,
		budget:          budget,
		collectDeadline: request.Deadline.Add(-reserve),
		workDeadline:    request.Deadline.Add(-reserve / 2),
		seen:            make(model.TxHashSet),
	}
}

func (pass *packingPass) chainID() uint16 {
	return pass.packager.cc.ChainID
}

func (pass *packingPass) run() (result *model.PackResult, err error) {
	defer func() {
		if pass.batchOpen {
			pass.closeBatchInBackground()
		}
		pass.restoreToPool(pass.wrappersToRestore(err != nil))
	}()

	err = pass.collect()
	if err != nil {
		return nil, err
	}

	err = pass.resolveModuleConflicts()
	if err != nil {
		return nil, err
	}

	produced, err := pass.produceUntilStable()
	if err != nil {
		return nil, err
	}

	return pass.seal(produced)
}

// collect drains the pool into ledger-verified batches until the pool is
// empty, the byte budget is exhausted or the collection deadline is reached.
func (pass *packingPass) collect() error {
	err := pass.beginBatch()
	if err != nil {
		return err
	}

	config := pass.packager.cc.Config
	var batch []*packEntry
	quotations := 0
	interrupted := false
	for {
		if !pass.packager.cc.Clock.Now().Before(pass.collectDeadline) || pass.ctx.Err() != nil {
			interrupted = true
			break
		}

		tx, ok := pass.packager.cc.Pool.Take(pass.ctx)
		if !ok {
			break
		}

		entry, stop, err := pass.classify(tx)
		if err != nil {
			return err
		}
		if stop {
			break
		}
		if entry == nil {
			continue
		}

		if entry.register.Quotation {
			batch = insertAt(batch, quotations, entry)
			quotations++
		} else {
			batch = append(batch, entry)
		}

		if len(batch) >= config.BatchSize {
			err = pass.verifyBatch(batch)
			if err != nil {
				return err
			}
			batch = nil
			quotations = 0
		}
	}

	if interrupted {
		log.Debugf("Collection for height %d was interrupted by the deadline with %d unverified transactions",
			pass.request.Height, len(batch))
	} else if len(batch) > 0 {
		err = pass.verifyBatch(batch)
		if err != nil {
			return err
		}
	}

	return pass.endBatch()
}

// classify registers tx with the pass and decides what to do with it.
// It returns a nil entry for transactions that don't join the current batch
// and stop=true once the block is full.
func (pass *packingPass) classify(tx *model.Transaction) (entry *packEntry, stop bool, err error) {
	cc := pass.packager.cc
	hash := txhashing.TransactionHash(tx)

	entry = &packEntry{
		PackageWrapper: &model.PackageWrapper{Tx: tx, Index: len(pass.entries)},
		status:         statusRestore,
	}
	pass.entries = append(pass.entries, entry)

	if pass.seen.Contains(hash) {
		entry.status = statusDropped
		return nil, false, nil
	}
	pass.seen.Add(hash)

	isConfirmed, err := cc.ConfirmedStore.Has(hash)
	if err != nil {
		return nil, false, err
	}
	if isConfirmed {
		log.Debugf("Transaction %s is already confirmed. Dropping it", hash)
		pass.drop(entry)
		return nil, false, nil
	}

	entry.Serialized, err = txserialization.SerializeTransaction(tx)
	if err != nil {
		log.Warnf("Failed to serialize transaction %s. Dropping it: %s", hash, err)
		pass.drop(entry)
		return nil, false, nil
	}

	entry.register, err = cc.Registry.Get(tx.Type)
	if err != nil {
		log.Debugf("Dropping transaction %s: %s", hash, err)
		pass.drop(entry)
		return nil, false, nil
	}

	if pass.usedBytes+len(entry.Serialized) > pass.budget {
		log.Debugf("Transaction %s does not fit in the block. Stopping collection", hash)
		return nil, true, nil
	}

	if entry.register.TimeWindow && !pass.isInTimeWindow(tx) {
		log.Debugf("Transaction %s with time %d is out of the time window of block time %d. Dropping it",
			hash, tx.Time, pass.request.BlockTime)
		pass.drop(entry)
		return nil, false, nil
	}

	if entry.register.CrossChain {
		if pass.crossChain >= cc.Config.MaxCrossChainTxPerBlock {
			return nil, false, nil
		}
		pass.crossChain++
	}

	pass.usedBytes += len(entry.Serialized)
	entry.status = statusPending
	return entry, false, nil
}

func (pass *packingPass) isInTimeWindow(tx *model.Transaction) bool {
	tolerance := int64(pass.packager.cc.Config.TimeWindowTolerance / time.Second)
	difference := tx.Time - pass.request.BlockTime
	if difference < 0 {
		difference = -difference
	}
	return difference <= tolerance
}

// verifyBatch sends batch to the ledger in a single call and sorts the
// entries by the verdict.
func (pass *packingPass) verifyBatch(batch []*packEntry) error {
	var result *model.LedgerVerifyResult
	err := pass.callGateway("VerifyBatch", func(ctx context.Context) error {
		var err error
		result, err = pass.packager.gateways.Ledger.VerifyBatch(ctx, pass.chainID(),
			serializedOf(batch), pass.request.Height)
		return err
	})
	if err != nil {
		return err
	}

	accepted, failed, orphaned, unknown := partition(batch, result)
	for _, entry := range accepted {
		entry.status = statusCandidate
		entry.heldByLedger = true
		pass.candidates = append(pass.candidates, entry)
	}
	for _, entry := range failed {
		pass.usedBytes -= len(entry.Serialized)
		pass.drop(entry)
	}
	for _, entry := range orphaned {
		pass.usedBytes -= len(entry.Serialized)
		pass.handleOrphan(entry)
	}
	for _, entry := range unknown {
		log.Warnf("Ledger returned no verdict for transaction %s. Returning it to the pool", entry.Hash())
		pass.usedBytes -= len(entry.Serialized)
		entry.status = statusRestore
	}
	return nil
}

// handleOrphan returns entry to the pool unless it was judged an orphan
// too many times
func (pass *packingPass) handleOrphan(entry *packEntry) {
	cc := pass.packager.cc
	count, evict := cc.OrphanCounter.Increment(entry.Hash())
	if evict {
		log.Debugf("Transaction %s was an orphan %d times. Evicting it", entry.Hash(), count)
		cc.Metrics.OrphansEvicted.Inc()
		pass.drop(entry)
		return
	}
	entry.status = statusRestore
}

// drop marks entry as gone for good and removes it from the unconfirmed
// store
func (pass *packingPass) drop(entry *packEntry) {
	entry.status = statusDropped
	err := pass.packager.cc.UnconfirmedStore.Delete(entry.Hash())
	if err != nil {
		log.Errorf("Failed to delete transaction %s from the unconfirmed store: %s", entry.Hash(), err)
	}
}

func (pass *packingPass) seal(produced []*model.Transaction) (*model.PackResult, error) {
	result := &model.PackResult{
		Transactions: make([][]byte, 0, len(pass.candidates)+len(produced)),
		Txs:          make([]*model.Transaction, 0, len(pass.candidates)+len(produced)),
		StateRoot:    pass.request.PrevStateRoot,
	}
	for _, entry := range pass.candidates {
		result.Transactions = append(result.Transactions, entry.Serialized)
		result.Txs = append(result.Txs, entry.Tx)
	}
	for _, tx := range produced {
		serialized, err := txserialization.SerializeTransaction(tx)
		if err != nil {
			return nil, err
		}
		result.Transactions = append(result.Transactions, serialized)
		result.Txs = append(result.Txs, tx)
	}
	if pass.producedStateRoot != nil {
		result.StateRoot = pass.producedStateRoot
	}
	result.Empty = len(result.Txs) == 0
	return result, nil
}

func serializedOf(entries []*packEntry) [][]byte {
	serialized := make([][]byte, len(entries))
	for i, entry := range entries {
		serialized[i] = entry.Serialized
	}
	return serialized
}

func partition(entries []*packEntry, result *model.LedgerVerifyResult) (
	accepted, failed, orphaned, unknown []*packEntry) {

	if result == nil {
		return nil, nil, nil, entries
	}
	acceptedSet := model.NewTxHashSet(result.Accepted...)
	failedSet := model.NewTxHashSet(result.Failed...)
	orphanedSet := model.NewTxHashSet(result.Orphaned...)
	for _, entry := range entries {
		hash := entry.Hash()
		switch {
		case failedSet.Contains(hash):
			failed = append(failed, entry)
		case orphanedSet.Contains(hash):
			orphaned = append(orphaned, entry)
		case acceptedSet.Contains(hash):
			accepted = append(accepted, entry)
		default:
			unknown = append(unknown, entry)
		}
	}
	return accepted, failed, orphaned, unknown
}

func insertAt(entries []*packEntry, index int, entry *packEntry) []*packEntry {
	entries = append(entries, nil)
	copy(entries[index+1:], entries[index:])
	entries[index] = entry
	return entries
}

var errDeadlineExceeded = errors.New("packaging deadline exceeded")
