package worker

import "errors"

// Pool lifecycle and submission errors
var (
	ErrNilProcessor       = errors.New("worker pool requires a processor function")
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrStopTimeout        = errors.New("worker pool stop timed out")
)
