package prioritylock

import (
	"sync"
	"testing"
	"time"
)

func TestMutexExclusion(t *testing.T) {
	mtx := New()
	var (
		wg       sync.WaitGroup
		inside   int32
		maxSeen  int32
		insideMu sync.Mutex
	)
	enter := func() {
		insideMu.Lock()
		inside++
		if inside > maxSeen {
			maxSeen = inside
		}
		insideMu.Unlock()
		time.Sleep(time.Millisecond)
		insideMu.Lock()
		inside--
		insideMu.Unlock()
	}

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			mtx.LowPriorityLock()
			defer mtx.LowPriorityUnlock()
			enter()
		}()
		go func() {
			defer wg.Done()
			mtx.HighPriorityLock()
			defer mtx.HighPriorityUnlock()
			enter()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one lock holder at a time, got %d", maxSeen)
	}
}

func TestHighPriorityBeatsWaitingLowPriority(t *testing.T) {
	mtx := New()
	mtx.LowPriorityLock()

	order := make(chan string, 2)
	highWaiting := make(chan struct{})
	go func() {
		close(highWaiting)
		mtx.HighPriorityLock()
		order <- "high"
		mtx.HighPriorityUnlock()
	}()
	<-highWaiting
	time.Sleep(10 * time.Millisecond)

	go func() {
		mtx.LowPriorityLock()
		order <- "low"
		mtx.LowPriorityUnlock()
	}()
	time.Sleep(10 * time.Millisecond)
	mtx.LowPriorityUnlock()

	if first := <-order; first != "high" {
		t.Fatalf("expected the high priority lock to be taken first, got %s", first)
	}
	<-order
}
