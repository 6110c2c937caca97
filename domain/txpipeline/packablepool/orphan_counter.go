package packablepool

import (
	"sync"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
)

// OrphanCounter counts how many times each transaction was judged an orphan
// by the ledger. It is shared across packaging attempts.
//
// Memory is bounded by clearing the whole map once it grows past
// maxEntries, at the price of resetting every count.
type OrphanCounter struct {
	mtx        sync.Mutex
	counts     map[model.TxHash]int
	maxRetries int
	maxEntries int
}

// NewOrphanCounter returns an empty OrphanCounter
func NewOrphanCounter(maxRetries, maxEntries int) *OrphanCounter {
	return &OrphanCounter{
		counts:     make(map[model.TxHash]int),
		maxRetries: maxRetries,
		maxEntries: maxEntries,
	}
}

// Increment records another orphan judgement of hash. evict is true once
// the count exceeds the retry limit, in which case the entry is dropped and
// the transaction must not be offered to the pool again.
func (oc *OrphanCounter) Increment(hash model.TxHash) (count int, evict bool) {
	oc.mtx.Lock()
	defer oc.mtx.Unlock()

	count = oc.counts[hash] + 1
	if count > oc.maxRetries {
		delete(oc.counts, hash)
		return count, true
	}

	if _, ok := oc.counts[hash]; !ok && len(oc.counts) >= oc.maxEntries {
		log.Warnf("Orphan counter reached %d entries. Clearing it", len(oc.counts))
		oc.counts = make(map[model.TxHash]int)
	}
	oc.counts[hash] = count
	return count, false
}

// Forget drops the count of hash
func (oc *OrphanCounter) Forget(hashes ...model.TxHash) {
	oc.mtx.Lock()
	defer oc.mtx.Unlock()

	for _, hash := range hashes {
		delete(oc.counts, hash)
	}
}

// Count returns the current count of hash
func (oc *OrphanCounter) Count(hash model.TxHash) int {
	oc.mtx.Lock()
	defer oc.mtx.Unlock()

	return oc.counts[hash]
}

// Len returns the number of tracked hashes
func (oc *OrphanCounter) Len() int {
	oc.mtx.Lock()
	defer oc.mtx.Unlock()

	return len(oc.counts)
}
