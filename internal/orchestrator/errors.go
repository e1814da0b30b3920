package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

var (
	// ErrRoutingExhausted is returned when a run exceeds its step bound.
	ErrRoutingExhausted = errors.New("routing exhausted")

	// ErrWorkerUnavailable is returned when a worker's reasoning backend
	// cannot be reached. The run is aborted and not retried.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrMalformedWorkerOutput is returned when a worker breaks the output
	// contract.
	ErrMalformedWorkerOutput = errors.New("malformed worker output")

	// ErrNoWorker is returned when a node has no bound worker.
	ErrNoWorker = errors.New("no worker bound to node")
)

// WorkerError records which node's worker failed.
type WorkerError struct {
	Node Node
	Err  error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: %v", e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Is matches ErrWorkerUnavailable for any worker failure that is not a
// contract violation.
func (e *WorkerError) Is(target error) bool {
	return target == ErrWorkerUnavailable && !errors.Is(e.Err, ErrMalformedWorkerOutput)
}

// Error kinds reported to callers.
const (
	KindRoutingExhausted  = "routing_exhausted"
	KindWorkerUnavailable = "worker_unavailable"
	KindMalformedOutput   = "malformed_worker_output"
	KindPersistence       = "persistence_failure"
	KindInvalidInput      = "invalid_input"
	KindTimeout           = "timeout"
	KindCanceled          = "canceled"
	KindInternal          = "internal"
)

// ErrorKind classifies err for external reporting. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, transcript.ErrInvalidTurn), errors.Is(err, transcript.ErrInvalidThreadID):
		return KindInvalidInput
	case errors.Is(err, ErrRoutingExhausted):
		return KindRoutingExhausted
	case errors.Is(err, ErrMalformedWorkerOutput):
		return KindMalformedOutput
	case errors.Is(err, transcript.ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrWorkerUnavailable), errors.Is(err, ErrNoWorker):
		return KindWorkerUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}
