package prioritylock

import (
	"sync"
)

// Mutex implements a lock with three priorities:
//   - High priority write lock - locks the mutex with the highest priority.
//   - High priority read lock - locks the mutex with lower priority than
//     the high priority write lock. Can be held concurrently with other
//     read locks.
//   - Low priority write lock - locks the mutex with lower priority than
//     the read lock.
//
// The pipeline takes the low priority lock for a packaging attempt and the
// high priority lock for block disconnection, so a pending rollback is never
// starved by back-to-back packaging attempts.
type Mutex struct {
	dataMutex           sync.RWMutex
	lowPriorityMutex    sync.Mutex
	highPriorityWaiting sync.WaitGroup
}

// New returns a new priority Mutex
func New() *Mutex {
	lock := Mutex{
		highPriorityWaiting: sync.WaitGroup{},
	}
	return &lock
}

// LowPriorityLock will acquire a low-priority lock
// it must wait until both low priority and all high priority lock holders are released.
func (mtx *Mutex) LowPriorityLock() {
	mtx.lowPriorityMutex.Lock()
	mtx.highPriorityWaiting.Wait()
	mtx.dataMutex.Lock()
}

// LowPriorityUnlock will unlock the low-priority lock
func (mtx *Mutex) LowPriorityUnlock() {
	mtx.dataMutex.Unlock()
	mtx.lowPriorityMutex.Unlock()
}

// HighPriorityLock will acquire a high-priority lock
// it must still wait until a low-priority lock has been released.
func (mtx *Mutex) HighPriorityLock() {
	mtx.highPriorityWaiting.Add(1)
	mtx.dataMutex.Lock()
}

// HighPriorityUnlock will unlock the high-priority lock
func (mtx *Mutex) HighPriorityUnlock() {
	mtx.dataMutex.Unlock()
	mtx.highPriorityWaiting.Done()
}

// HighPriorityReadLock acquires a high-priority read lock.
func (mtx *Mutex) HighPriorityReadLock() {
	mtx.highPriorityWaiting.Add(1)
	mtx.dataMutex.RLock()
}

// HighPriorityReadUnlock releases a high-priority read lock.
func (mtx *Mutex) HighPriorityReadUnlock() {
	mtx.dataMutex.RUnlock()
	mtx.highPriorityWaiting.Done()
}
