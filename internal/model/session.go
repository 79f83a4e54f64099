package model

import "time"

// Action is a user-issued intent against a workload
type Action string

// Supported workload actions
const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionScale  Action = "scale"
	ActionExpand Action = "expand"
)

// ValidAction reports whether a is one of the dispatchable actions
func ValidAction(a Action) bool {
	switch a {
	case ActionStart, ActionStop, ActionScale, ActionExpand:
		return true
	}
	return false
}

// Outcome is the terminal (or pending) result of an action session
type Outcome string

// Session outcomes
const (
	OutcomePending    Outcome = "pending"
	OutcomeConverged  Outcome = "converged"
	OutcomeTimedOut   Outcome = "timed_out"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuperseded Outcome = "superseded"
)

// Terminal reports whether the outcome ends the session
func (o Outcome) Terminal() bool {
	return o != OutcomePending
}

// ActionParams carries the optional targets of a scale or expand action
type ActionParams struct {
	TargetReplicas  int   `json:"replicas,omitempty"`
	TargetSizeBytes int64 `json:"size_bytes,omitempty"`
}

// ActionSession tracks one in-flight user action against a workload.
// At most one active session exists per workload id; stop may supersede
// an active start session for the same workload.
type ActionSession struct {
	ID         string       `json:"id"`
	WorkloadID string       `json:"workload_id"`
	Action     Action       `json:"action"`
	Params     ActionParams `json:"params"`
	StartedAt  time.Time    `json:"started_at"`
	Deadline   time.Time    `json:"deadline"`
	Outcome    Outcome      `json:"outcome"`
	Reason     string       `json:"reason,omitempty"` // populated when Outcome is failed
}
