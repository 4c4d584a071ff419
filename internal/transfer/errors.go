package transfer

import "errors"

var (
	// ErrNoRecords reports that the selection filters matched nothing.
	ErrNoRecords = errors.New("no eligible records")
	// ErrDuplicateBatch reports a batch id already present in the registry.
	ErrDuplicateBatch = errors.New("batch already exists")
	// ErrBatchNotFound reports an unknown batch id.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrAtCapacity reports that the concurrent batch limit is reached.
	ErrAtCapacity = errors.New("too many concurrent batches")
	// ErrDriverUnavailable marks driver faults that abort the whole batch.
	// Drivers wrap it when the remote session is gone, not when a single
	// submission is rejected.
	ErrDriverUnavailable = errors.New("automation driver unavailable")
	// ErrShuttingDown reports that the service no longer accepts batches.
	ErrShuttingDown = errors.New("transfer service is shutting down")
)
