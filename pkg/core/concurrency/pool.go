package concurrency

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// PoolStats is a point-in-time snapshot of a ThreadPool.
type PoolStats struct {
	Workers       int   // fixed number of workers
	QueueCapacity int   // 0 means unbounded
	Queued        int   // jobs waiting in the queue
	Busy          int64 // workers currently running a job
	Submitted     int64 // jobs accepted by Submit
	Completed     int64 // jobs that returned, including panicked ones
	Panicked      int64 // jobs that panicked
	Rejected      int64 // submissions refused after shutdown began
}

// PoolOption configures a ThreadPool.
type PoolOption func(*ThreadPool)

// WithName sets the name used in log lines.
func WithName(name string) PoolOption {
	return func(p *ThreadPool) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger replaces the default standard-library logger.
func WithLogger(logger Logger) PoolOption {
	return func(p *ThreadPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithQueueCapacity bounds the job queue. With capacity > 0, Submit blocks
// while the queue is full. The default (0) is an unbounded queue.
func WithQueueCapacity(capacity int) PoolOption {
	return func(p *ThreadPool) {
		p.queueCapacity = capacity
	}
}

// WithJobObserver registers an observer called after every job.
func WithJobObserver(observer JobObserver) PoolOption {
	return func(p *ThreadPool) {
		if observer != nil {
			p.observers = append(p.observers, observer)
		}
	}
}

// ThreadPool runs submitted jobs on a fixed set of worker goroutines.
//
// The pool owns the only producer handle of its queue. Shutdown closes the
// queue, lets the workers drain whatever was submitted before, and joins
// them. A job that never returns keeps its worker busy forever and makes
// Shutdown wait for it; use ShutdownContext to bound that wait.
type ThreadPool struct {
	name          string
	size          int
	queueCapacity int
	workers       []*worker
	queue         *jobQueue
	logger        Logger
	observers     []JobObserver

	shutdownOnce sync.Once
	joined       chan struct{}

	// Metrics (atomic for thread-safety)
	submitted int64
	completed int64
	panicked  int64
	rejected  int64
	busy      int64
}

// worker is one long-lived goroutine. done is its join handle.
type worker struct {
	id   int
	done chan struct{}
}

// NewThreadPool starts size workers. It returns ErrInvalidPoolSize, and starts
// nothing, when size < 1.
func NewThreadPool(size int, opts ...PoolOption) (*ThreadPool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d (must be at least 1)", ErrInvalidPoolSize, size)
	}

	p := &ThreadPool{
		name:   "pool",
		size:   size,
		logger: newDefaultSimpleLogger(),
		joined: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queueCapacity < 0 {
		return nil, fmt.Errorf("invalid queue capacity: %d", p.queueCapacity)
	}
	p.queue = newJobQueue(p.queueCapacity)

	p.workers = make([]*worker, size)
	for i := range p.workers {
		p.workers[i] = &worker{id: i, done: make(chan struct{})}
	}
	for _, w := range p.workers {
		go p.run(w)
	}

	p.logger.Infof("%s: started %d workers", p.name, size)
	return p, nil
}

// Submit hands job to the pool. It never runs job on the caller's goroutine.
func (p *ThreadPool) Submit(job Job) error {
	return p.SubmitNamed("job", job)
}

// SubmitNamed is Submit with a name that shows up in logs and panic reports.
func (p *ThreadPool) SubmitNamed(name string, job Job) error {
	if job == nil {
		return ErrNilJob
	}

	// Count first so Completed can never overtake Submitted in Stats.
	atomic.AddInt64(&p.submitted, 1)
	err := p.queue.push(queuedJob{name: name, job: job, enqueued: time.Now()})
	if err != nil {
		atomic.AddInt64(&p.submitted, -1)
		atomic.AddInt64(&p.rejected, 1)
		return fmt.Errorf("submit %s: %w", name, ErrPoolShuttingDown)
	}
	return nil
}

// Shutdown closes the queue and waits until every worker has drained it and
// exited. Later and concurrent calls wait for the same join and return.
func (p *ThreadPool) Shutdown() {
	p.beginShutdown()
	<-p.joined
}

// ShutdownContext is Shutdown with a deadline. When ctx expires first the
// workers keep draining in the background and the error wraps ctx.Err().
func (p *ThreadPool) ShutdownContext(ctx context.Context) error {
	p.beginShutdown()
	select {
	case <-p.joined:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: shutdown timeout: %w", p.name, ctx.Err())
	}
}

// Done is closed once every worker has been joined.
func (p *ThreadPool) Done() <-chan struct{} {
	return p.joined
}

func (p *ThreadPool) beginShutdown() {
	p.shutdownOnce.Do(func() {
		p.logger.Infof("%s: shutting down (%d jobs queued)", p.name, p.queue.len())
		p.queue.close()
		go p.join()
	})
}

// join waits for each worker in id order, exactly once per worker.
func (p *ThreadPool) join() {
	for _, w := range p.workers {
		<-w.done
		p.logger.Debugf("%s: worker %d joined", p.name, w.id)
	}
	p.logger.Infof("%s: all %d workers stopped", p.name, p.size)
	close(p.joined)
}

func (p *ThreadPool) run(w *worker) {
	defer close(w.done)
	p.logger.Debugf("%s: worker %d idle", p.name, w.id)

	for {
		item, ok := p.queue.pop()
		if !ok {
			p.logger.Debugf("%s: worker %d observed closed queue", p.name, w.id)
			return
		}
		p.execute(w, item)
	}
}

// execute runs one job behind a recover boundary so a panicking job never
// takes its worker down.
func (p *ThreadPool) execute(w *worker, item queuedJob) {
	atomic.AddInt64(&p.busy, 1)
	start := time.Now()

	panicErr := func() (perr *JobPanicError) {
		defer func() {
			if r := recover(); r != nil {
				perr = &JobPanicError{
					WorkerID: w.id,
					JobName:  item.name,
					Value:    r,
					Stack:    debug.Stack(),
				}
			}
		}()
		item.job()
		return nil
	}()

	elapsed := time.Since(start)
	atomic.AddInt64(&p.busy, -1)
	atomic.AddInt64(&p.completed, 1)

	if panicErr != nil {
		atomic.AddInt64(&p.panicked, 1)
		p.logger.Errorf("%s: %v (isolated)\n%s", p.name, panicErr, panicErr.Stack)
	}

	if len(p.observers) == 0 {
		return
	}
	result := JobResult{
		WorkerID: w.id,
		Name:     item.name,
		Waited:   start.Sub(item.enqueued),
		Elapsed:  elapsed,
		Panic:    panicErr,
	}
	for i, observe := range p.observers {
		p.notify(i, observe, result)
	}
}

// notify runs one observer behind its own recover boundary. A panicking
// observer is logged and the remaining observers still run.
func (p *ThreadPool) notify(i int, observe JobObserver, result JobResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("%s: observer %d panicked on job %s: %v\n%s",
				p.name, i, result.Name, r, debug.Stack())
		}
	}()
	observe(result)
}

// Size returns the fixed number of workers.
func (p *ThreadPool) Size() int {
	return p.size
}

// Name returns the pool name.
func (p *ThreadPool) Name() string {
	return p.name
}

// IsShutdown reports whether Shutdown has been initiated.
func (p *ThreadPool) IsShutdown() bool {
	return p.queue.isClosed()
}

// Stats returns current pool statistics.
func (p *ThreadPool) Stats() PoolStats {
	return PoolStats{
		Workers:       p.size,
		QueueCapacity: p.queueCapacity,
		Queued:        p.queue.len(),
		Busy:          atomic.LoadInt64(&p.busy),
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Panicked:      atomic.LoadInt64(&p.panicked),
		Rejected:      atomic.LoadInt64(&p.rejected),
	}
}
