package model

import "time"

// JobKind is the type of generative compute job
type JobKind string

// Supported generative job kinds
const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// JobResult is the terminal (or pending) result of a generative job
type JobResult string

// Job results
const (
	JobPending  JobResult = "pending"
	JobReady    JobResult = "ready"
	JobFailed   JobResult = "failed"
	JobTimedOut JobResult = "timed_out"
)

// Terminal reports whether the result ends polling for the job
func (r JobResult) Terminal() bool {
	return r != JobPending
}

// JobSpec describes a generative job to submit to the cluster
type JobSpec struct {
	Kind   JobKind `json:"kind"`
	Prompt string  `json:"prompt"`
	Model  string  `json:"model,omitempty"`
	Steps  int     `json:"steps,omitempty"`
}

// JobRecord tracks one submitted generative job. The job id is assigned
// by the remote system at submission time.
type JobRecord struct {
	JobID            string    `json:"job_id"`
	Kind             JobKind   `json:"kind"`
	SubmittedAt      time.Time `json:"submitted_at"`
	ProgressEstimate int       `json:"progress_estimate"` // advisory 0-100, never authoritative
	Result           JobResult `json:"result"`
	ArtifactRef      string    `json:"artifact_ref,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// ArtifactRef points at a generated output stored by the cluster
type ArtifactRef struct {
	URL  string  `json:"url"`
	Kind JobKind `json:"kind"`
}
