package consumer

import (
	"context"
	"sync"
	"sync/atomic"
)

type task interface {
	do()
}

// pool runs a fixed set of workers pulling tasks from one shared queue.
type pool struct {
	tasks chan task
	busy  int64
	wg    sync.WaitGroup
	size  uint
}

func newPool(workersCount uint) *pool {
	return &pool{tasks: make(chan task), size: workersCount}
}

// start spawns the workers. They drain the queue until ctx is canceled; a
// task already picked up always runs to completion.
func (p *pool) start(ctx context.Context) {
	for i := uint(0); i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

func (p *pool) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			atomic.AddInt64(&p.busy, 1)
			t.do()
			atomic.AddInt64(&p.busy, -1)
		}
	}
}

// dispatch blocks until a worker picks the task up. Returns false when ctx
// was canceled first and nobody took the task.
func (p *pool) dispatch(ctx context.Context, t task) bool {
	select {
	case <-ctx.Done():
		return false
	case p.tasks <- t:
		return true
	}
}

// busyWorkers returns how many workers are in the middle of a task
func (p *pool) busyWorkers() int {
	return int(atomic.LoadInt64(&p.busy))
}
