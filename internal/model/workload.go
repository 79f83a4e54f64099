package model

import "time"

// WorkloadStatus represents the lifecycle status of a managed workload
type WorkloadStatus string

// Possible workload statuses
const (
	StatusNotDeployed WorkloadStatus = "not_deployed"
	StatusStopped     WorkloadStatus = "stopped"
	StatusPreparing   WorkloadStatus = "preparing"
	StatusRunning     WorkloadStatus = "running"
	StatusStopping    WorkloadStatus = "stopping"
)

// statusRank orders statuses for merge decisions. Stopping has no rank:
// it sits beside Preparing and is compared by timestamp only.
var statusRank = map[WorkloadStatus]int{
	StatusNotDeployed: 0,
	StatusStopped:     1,
	StatusPreparing:   2,
	StatusRunning:     3,
}

// Comparable reports whether two statuses share the total order used by
// the registry merge rule.
func Comparable(a, b WorkloadStatus) bool {
	_, okA := statusRank[a]
	_, okB := statusRank[b]
	return okA && okB
}

// Rank returns the merge-order rank of a status. Statuses outside the
// total order (Stopping) report ok=false.
func Rank(s WorkloadStatus) (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

// WorkloadState is the last-known state of one workload, keyed by its
// stable identifier (e.g. "vllm", "rustfs", "qdrant").
type WorkloadState struct {
	ID             string         `json:"id"`
	Status         WorkloadStatus `json:"status"`
	Replicas       int            `json:"replicas"`
	ReadyReplicas  int            `json:"ready_replicas"`
	AllocatedBytes int64          `json:"allocated_bytes,omitempty"` // last known storage allocation
	LastObservedAt time.Time      `json:"last_observed_at"`
}

// DeriveStatus normalizes the status from replica counts: a workload
// with replicas but none ready is preparing, one with ready replicas is
// running. Remote responses that omit a status field rely on this.
func DeriveStatus(replicas, readyReplicas int) WorkloadStatus {
	switch {
	case replicas == 0:
		return StatusStopped
	case readyReplicas == 0:
		return StatusPreparing
	default:
		return StatusRunning
	}
}

// IsReady returns true if the workload has at least one ready replica
func (w *WorkloadState) IsReady() bool {
	return w.ReadyReplicas > 0
}
