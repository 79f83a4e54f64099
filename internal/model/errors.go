package model

import (
	"errors"
	"fmt"
)

// Dispatch error kinds. All remote-call errors are converted into one
// of these at the call site; no raw transport error reaches the
// registry.
var (
	// ErrInvalidTransition means the requested action is not valid for
	// the workload's current status. Rejected synchronously.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrBusy means an action session is already active for the
	// workload and cannot be superseded. Rejected synchronously.
	ErrBusy = errors.New("workload busy")

	// ErrUnknownWorkload means the workload id has never been observed
	ErrUnknownWorkload = errors.New("unknown workload")
)

// RemoteCallError wraps a failed mutating call against the cluster API
type RemoteCallError struct {
	Op  string
	Err error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call %s failed: %v", e.Op, e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
