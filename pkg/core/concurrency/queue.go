package concurrency

import (
	"sync"
)

// jobQueue is the multi-producer, multi-consumer handoff between Submit and
// the workers. It replaces a plain channel because closing must be safe while
// producers are still calling push, and because the default mode is unbounded.
//
// capacity == 0 means unbounded: push never blocks.
// capacity > 0 means bounded: push blocks while the queue is full.
//
// Jobs buffered at close time are still handed out by pop; pop reports
// closure only once the queue is both closed and empty.
type jobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []queuedJob
	capacity int
	closed   bool
}

func newJobQueue(capacity int) *jobQueue {
	if capacity < 0 {
		capacity = 0
	}
	q := &jobQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// push appends item, blocking in bounded mode until there is room.
// Returns ErrQueueClosed if the queue is closed before the item is accepted.
func (q *jobQueue) push(item queuedJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.capacity > 0 && len(q.items) >= q.capacity {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// pop blocks until an item is available or the queue is closed and drained.
func (q *jobQueue) pop() (queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return queuedJob{}, false
	}

	item := q.items[0]
	q.items[0] = queuedJob{} // drop the reference so the closure can be collected
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	if q.capacity > 0 {
		q.notFull.Signal()
	}
	return item, true
}

// close is idempotent. Every blocked producer and consumer is woken.
func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *jobQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
