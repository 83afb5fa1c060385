package concurrency

import (
	"fmt"
	"time"
)

// Job is a unit of fire-and-forget work executed by exactly one worker.
//
// Whatever a Job captures moves to the worker goroutine at submission time.
// The submitter must not keep mutating captured state afterwards unless that
// state is guarded (sync.Mutex, sync/atomic, channels).
type Job func()

// queuedJob is what travels through the jobQueue.
type queuedJob struct {
	name     string
	job      Job
	enqueued time.Time
}

// JobResult describes one finished job. It is handed to every JobObserver.
type JobResult struct {
	WorkerID int
	Name     string
	Waited   time.Duration // time spent in the queue
	Elapsed  time.Duration // time spent running
	Panic    *JobPanicError
}

// JobObserver is notified on the worker goroutine after each job returns.
// Observers must be fast. A panicking observer is recovered and logged.
type JobObserver func(result JobResult)

// JobPanicError is the isolated failure of a job that panicked.
type JobPanicError struct {
	WorkerID int
	JobName  string
	Value    interface{}
	Stack    []byte
}

func (e *JobPanicError) Error() string {
	return fmt.Sprintf("job %s panicked on worker %d: %v", e.JobName, e.WorkerID, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *JobPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
