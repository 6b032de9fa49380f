// Package concurrency caps the number of goroutines doing work on behalf of clients.
package concurrency

// Task is a unit of work run on the pool.
type Task func()

// GoRoutinePool runs tasks on at most numWorkers goroutines. Idle workers pick up new
// tasks, new workers are started only while below the limit.
type GoRoutinePool struct {
	// Work queue.
	work chan Task
	// Counter to control the number of already allocated/running goroutines.
	sem chan struct{}
	// Exit knob.
	stop chan struct{}
}

// NewGoRoutinePool allocates a new pool limited to numWorkers goroutines.
func NewGoRoutinePool(numWorkers int) *GoRoutinePool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &GoRoutinePool{
		work: make(chan Task),
		sem:  make(chan struct{}, numWorkers),
		stop: make(chan struct{}, numWorkers),
	}
}

// Schedule hands the task to an idle worker or starts a new one. Blocks while all
// workers are busy.
func (p *GoRoutinePool) Schedule(task Task) {
	select {
	case p.work <- task:
	case p.sem <- struct{}{}:
		go p.worker(task)
	}
}

// Run schedules the task and waits for it to finish.
func (p *GoRoutinePool) Run(task Task) {
	done := make(chan struct{})
	p.Schedule(func() {
		defer close(done)
		task()
	})
	<-done
}

// Stop tells all workers to exit once they finish the current task.
func (p *GoRoutinePool) Stop() {
	for i := 0; i < cap(p.sem); i++ {
		p.stop <- struct{}{}
	}
}

func (p *GoRoutinePool) worker(task Task) {
	defer func() { <-p.sem }()
	for {
		task()
		select {
		case task = <-p.work:
		case <-p.stop:
			return
		}
	}
}
