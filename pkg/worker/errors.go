package worker

import (
	"github.com/qualabs/cmcd-toolkit/errors"
)

// Sentinel errors for worker pool operations
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")

	// ErrQueueFull is the shared transient sentinel so callers can treat a
	// full queue as retryable.
	ErrQueueFull = errors.ErrQueueFull
)
