package packablepool

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/ruleerrors"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
)

// ErrNotAccepting is returned by Admit while the chain does not accept new
// transactions
var ErrNotAccepting = ruleerrors.NewTxRuleError(ruleerrors.RejectPaused,
	"the chain is not accepting new transactions")

// Pool is the queue of transactions eligible for the next block. Many
// goroutines may admit concurrently while a single packaging goroutine
// drains it with Take and ReturnToFront.
//
// A hash is in the lookup map if and only if its transaction is in the queue.
type Pool struct {
	mtx      sync.Mutex
	queue    *list.List
	elements map[model.TxHash]*list.Element

	// signal wakes up a Take waiting on an empty pool
	signal chan struct{}

	accepting uint32

	maxTransactions int
	pollInterval    time.Duration
}

// New returns an empty pool that accepts transactions. maxTransactions of 0
// means unlimited.
func New(maxTransactions int, pollInterval time.Duration) *Pool {
	return &Pool{
		queue:           list.New(),
		elements:        make(map[model.TxHash]*list.Element),
		signal:          make(chan struct{}, 1),
		accepting:       1,
		maxTransactions: maxTransactions,
		pollInterval:    pollInterval,
	}
}

// SetAccepting sets whether Admit accepts new transactions
func (p *Pool) SetAccepting(accepting bool) {
	var value uint32
	if accepting {
		value = 1
	}
	atomic.StoreUint32(&p.accepting, value)
}

// IsAccepting returns whether Admit accepts new transactions
func (p *Pool) IsAccepting() bool {
	return atomic.LoadUint32(&p.accepting) == 1
}

// Admit appends tx to the tail of the queue. It returns false without an
// error if the transaction is already pooled.
func (p *Pool) Admit(tx *model.Transaction) (bool, error) {
	if !p.IsAccepting() {
		return false, ErrNotAccepting
	}
	hash := txhashing.TransactionHash(tx)

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, ok := p.elements[hash]; ok {
		return false, nil
	}
	if p.maxTransactions > 0 && len(p.elements) >= p.maxTransactions {
		return false, ruleerrors.NewTxRuleErrorf(ruleerrors.RejectPoolFull,
			"the pool already holds %d transactions", len(p.elements))
	}

	p.elements[hash] = p.queue.PushBack(tx)
	p.notify()
	return true, nil
}

// notify MUST be called with the mutex locked
func (p *Pool) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// TryTake pops the head of the queue without waiting
func (p *Pool) TryTake() (*model.Transaction, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.popFront()
}

// popFront MUST be called with the mutex locked
func (p *Pool) popFront() (*model.Transaction, bool) {
	front := p.queue.Front()
	if front == nil {
		return nil, false
	}
	tx := p.queue.Remove(front).(*model.Transaction)
	delete(p.elements, *tx.Hash)
	return tx, true
}

// Take pops the head of the queue. If the pool is empty it waits up to the
// poll interval for an admission before giving up.
func (p *Pool) Take(ctx context.Context) (*model.Transaction, bool) {
	tx, ok := p.TryTake()
	if ok {
		return tx, true
	}

	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-p.signal:
	case <-timer.C:
	case <-ctx.Done():
		return nil, false
	}
	return p.TryTake()
}

// ReturnToFront pushes tx back to the head of the queue so it is tried first
// by the next packaging attempt. It returns false if the transaction is
// already pooled.
func (p *Pool) ReturnToFront(tx *model.Transaction) bool {
	hash := txhashing.TransactionHash(tx)

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, ok := p.elements[hash]; ok {
		return false
	}
	p.elements[hash] = p.queue.PushFront(tx)
	p.notify()
	return true
}

// Remove removes the given hashes from the pool and returns how many were
// pooled
func (p *Pool) Remove(hashes ...model.TxHash) int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	removed := 0
	for _, hash := range hashes {
		element, ok := p.elements[hash]
		if !ok {
			continue
		}
		p.queue.Remove(element)
		delete(p.elements, hash)
		removed++
	}
	if removed > 0 {
		log.Tracef("Removed %d transactions from the pool", removed)
	}
	return removed
}

// Contains returns whether hash is pooled
func (p *Pool) Contains(hash model.TxHash) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	_, ok := p.elements[hash]
	return ok
}

// Get returns the pooled transaction with the given hash
func (p *Pool) Get(hash model.TxHash) (*model.Transaction, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	element, ok := p.elements[hash]
	if !ok {
		return nil, false
	}
	return element.Value.(*model.Transaction), true
}

// HashCount returns the number of pooled hashes
func (p *Pool) HashCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return len(p.elements)
}

// TransactionCount returns the number of queued transactions. It always
// equals HashCount.
func (p *Pool) TransactionCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.queue.Len()
}

// Transactions returns a snapshot of the queue, head first
func (p *Pool) Transactions() []*model.Transaction {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	transactions := make([]*model.Transaction, 0, p.queue.Len())
	for element := p.queue.Front(); element != nil; element = element.Next() {
		transactions = append(transactions, element.Value.(*model.Transaction))
	}
	return transactions
}

// Clear empties the pool
func (p *Pool) Clear() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.queue.Init()
	p.elements = make(map[model.TxHash]*list.Element)
}
