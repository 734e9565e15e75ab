package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of work executed by the pool.
type Task func(ctx context.Context, workerID int) error

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	NumWorkers  int
	tasks       chan Task
	log         zerolog.Logger
	wg          sync.WaitGroup
	taskWG      sync.WaitGroup
	activeTasks int64

	mu     sync.Mutex
	closed bool
}

func NewWorkerPool(numWorkers int, log zerolog.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	bufferSize := numWorkers * 10
	if bufferSize < 100 {
		bufferSize = 100
	}
	return &WorkerPool{
		NumWorkers: numWorkers,
		tasks:      make(chan Task, bufferSize),
		log:        log,
	}
}

// Start launches the workers. They exit when Stop is called; ctx is handed
// to every task.
func (p *WorkerPool) Start(ctx context.Context) {
	p.log.Debug().Int("workers", p.NumWorkers).Msg("starting worker pool")
	for i := 0; i < p.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		atomic.AddInt64(&p.activeTasks, 1)
		if err := task(ctx, id); err != nil {
			p.log.Error().Err(err).Int("worker", id).Msg("task failed")
		}
		atomic.AddInt64(&p.activeTasks, -1)
		p.taskWG.Done()
	}
}

// Submit queues a task without blocking. It reports false when the buffer
// is full or the pool has been stopped; the caller keeps ownership of the
// work in that case.
func (p *WorkerPool) Submit(t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.taskWG.Add(1)
	select {
	case p.tasks <- t:
		return true
	default:
		p.taskWG.Done()
		return false
	}
}

// Wait blocks until every submitted task has completed.
func (p *WorkerPool) Wait() {
	p.taskWG.Wait()
}

// Stop closes the queue and waits for the workers to drain it.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// ActiveCount returns the number of tasks currently executing.
func (p *WorkerPool) ActiveCount() int {
	return int(atomic.LoadInt64(&p.activeTasks))
}
