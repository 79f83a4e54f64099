package registry

import (
	"log/slog"
	"sort"
	"time"

	"github.com/dik654/k3s-console/internal/model"
)

// Registry is the in-memory map of workload identifiers to their
// last-known state. All mutation is funneled through a single owning
// goroutine, so observations from the reconciler and from action
// pollers interleave as whole steps and never see partial updates.
type Registry struct {
	ops    chan func()
	quit   chan struct{}
	logger *slog.Logger

	// Owned by the actor goroutine; never touched outside ops.
	workloads map[string]model.WorkloadState
	guards    map[string]time.Time // workload id -> active session startedAt
}

// New creates a registry and starts its owning goroutine
func New(logger *slog.Logger) *Registry {
	r := &Registry{
		ops:       make(chan func()),
		quit:      make(chan struct{}),
		logger:    logger,
		workloads: make(map[string]model.WorkloadState),
		guards:    make(map[string]time.Time),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.quit:
			return
		}
	}
}

// Close stops the owning goroutine. The registry must not be used after
// Close returns.
func (r *Registry) Close() {
	close(r.quit)
}

// exec runs fn on the owning goroutine and waits for it to finish
func (r *Registry) exec(fn func()) {
	done := make(chan struct{})
	select {
	case r.ops <- func() {
		fn()
		close(done)
	}:
		<-done
	case <-r.quit:
	}
}

// Apply merges one observation and reports whether it was accepted.
//
// Merge rule: last observation wins on the timestamp, with two
// exceptions. An observation staler than an active session's start
// never overwrites that session's optimistic transition, and an
// observation whose status is less advanced than the recorded one (in
// the order NotDeployed < Stopped < Preparing < Running) loses unless
// it is strictly newer. Stopping sits outside that order and is
// resolved by timestamp alone.
func (r *Registry) Apply(obs model.WorkloadState) bool {
	var accepted bool
	r.exec(func() {
		accepted = r.merge(obs)
	})
	return accepted
}

// ApplyAll merges a bulk observation set and returns the accepted count
func (r *Registry) ApplyAll(states []model.WorkloadState) int {
	var accepted int
	r.exec(func() {
		for i := range states {
			if r.merge(states[i]) {
				accepted++
			}
		}
	})
	return accepted
}

func (r *Registry) merge(obs model.WorkloadState) bool {
	cur, exists := r.workloads[obs.ID]
	if !exists {
		// First observation creates the entry
		r.workloads[obs.ID] = obs
		return true
	}

	// An in-flight session's optimistic transition must not be reverted
	// by a read that predates the session.
	if startedAt, guarded := r.guards[obs.ID]; guarded && obs.LastObservedAt.Before(startedAt) {
		r.logger.Debug("rejected stale observation for guarded workload",
			slog.String("workload", obs.ID),
			slog.Time("observed_at", obs.LastObservedAt),
			slog.Time("session_started_at", startedAt),
		)
		return false
	}

	newer := obs.LastObservedAt.After(cur.LastObservedAt)
	if !newer {
		// Equal or older stamp only wins when it is strictly more
		// advanced in the status order.
		obsRank, obsOK := model.Rank(obs.Status)
		curRank, curOK := model.Rank(cur.Status)
		if !obsOK || !curOK || obsRank <= curRank {
			return false
		}
	}

	// Bulk reads omit the storage allocation; keep the last known value
	if obs.AllocatedBytes == 0 {
		obs.AllocatedBytes = cur.AllocatedBytes
	}
	r.workloads[obs.ID] = obs
	return true
}

// Get returns the last-known state of one workload
func (r *Registry) Get(id string) (model.WorkloadState, bool) {
	var (
		state model.WorkloadState
		ok    bool
	)
	r.exec(func() {
		state, ok = r.workloads[id]
	})
	return state, ok
}

// Snapshot returns all workload states, sorted by id
func (r *Registry) Snapshot() []model.WorkloadState {
	var states []model.WorkloadState
	r.exec(func() {
		states = make([]model.WorkloadState, 0, len(r.workloads))
		for _, state := range r.workloads {
			states = append(states, state)
		}
	})
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// BeginSession records a session guard for a workload and, when status
// is non-empty, applies the action's optimistic transition. The guard
// keeps reconciler reads staler than startedAt from reverting it.
func (r *Registry) BeginSession(id string, startedAt time.Time, status model.WorkloadStatus) {
	r.exec(func() {
		r.guards[id] = startedAt
		if status == "" {
			return
		}
		state := r.workloads[id]
		state.ID = id
		state.Status = status
		r.workloads[id] = state
	})
}

// EndSession drops the session guard for a workload
func (r *Registry) EndSession(id string) {
	r.exec(func() {
		delete(r.guards, id)
	})
}
