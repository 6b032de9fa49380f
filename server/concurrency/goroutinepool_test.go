package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunWaits(t *testing.T) {
	p := NewGoRoutinePool(2)
	defer p.Stop()

	var n int32
	for i := 0; i < 10; i++ {
		p.Run(func() { atomic.AddInt32(&n, 1) })
		if got := atomic.LoadInt32(&n); got != int32(i+1) {
			t.Fatalf("task %d not finished after Run: counter=%d", i, got)
		}
	}
}

func TestConcurrencyLimit(t *testing.T) {
	const workers = 3
	p := NewGoRoutinePool(workers)
	defer p.Stop()

	var running, peak int32
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go p.Run(func() {
			defer wg.Done()
			cur := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
		})
	}
	close(release)
	wg.Wait()

	if peak > workers {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, workers)
	}
}

func TestZeroWorkers(t *testing.T) {
	p := NewGoRoutinePool(0)
	defer p.Stop()

	done := false
	p.Run(func() { done = true })
	if !done {
		t.Error("task did not run")
	}
}
