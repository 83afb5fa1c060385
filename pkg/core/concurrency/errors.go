package concurrency

import "errors"

var (
	// ErrInvalidPoolSize is returned by NewThreadPool when size < 1.
	ErrInvalidPoolSize = errors.New("invalid pool size")

	// ErrPoolShuttingDown is returned by Submit once Shutdown has begun.
	ErrPoolShuttingDown = errors.New("pool is shutting down")

	// ErrNilJob is returned when a nil Job is submitted.
	ErrNilJob = errors.New("job cannot be nil")

	// ErrQueueClosed is returned when pushing to a closed queue
	ErrQueueClosed = errors.New("job queue is closed")
)
