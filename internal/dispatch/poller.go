package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff/v5"

	"github.com/dik654/k3s-console/internal/model"
)

// errNotConverged marks an attempt whose read did not yet satisfy the
// action's success predicate; the bounded retry keeps going.
var errNotConverged = errors.New("not yet converged")

// errSuperseded aborts the retry loop when the session was displaced
var errSuperseded = errors.New("session superseded")

// converged is the per-action success predicate evaluated against each
// observed state.
func converged(s *session, observed model.WorkloadState) bool {
	switch s.Action {
	case model.ActionStart:
		return observed.ReadyReplicas > 0
	case model.ActionStop:
		return observed.Status == model.StatusStopped ||
			observed.Replicas == 0 ||
			observed.ReadyReplicas == 0
	case model.ActionScale:
		return observed.Replicas == s.Params.TargetReplicas
	case model.ActionExpand:
		return observed.AllocatedBytes >= s.Params.TargetSizeBytes
	}
	return false
}

// pollCompletion runs the bounded completion loop for one session.
// Each attempt performs one scoped read, merges it into the registry
// and re-evaluates the predicate. Exhausting the attempt budget yields
// TimedOut, which is reported as a soft success: the cluster is assumed
// to converge eventually.
func (d *Dispatcher) pollCompletion(ctx context.Context, s *session) {
	defer d.wg.Done()

	operation := func() (model.WorkloadState, error) {
		if s.isSuperseded() {
			return model.WorkloadState{}, backoff.Permanent(errSuperseded)
		}

		observed, err := d.repo.WorkloadState(ctx, s.WorkloadID)
		if err != nil {
			// Read failures consume an attempt like any other miss
			d.logger.Warn("completion poll read failed",
				slog.String("workload", s.WorkloadID),
				slog.String("session", s.ID),
				slog.String("error", err.Error()),
			)
			return model.WorkloadState{}, errNotConverged
		}

		// Re-check cancellation before merging the result
		if s.isSuperseded() {
			return model.WorkloadState{}, backoff.Permanent(errSuperseded)
		}
		d.registry.Apply(observed)

		if converged(s, observed) {
			return observed, nil
		}
		return observed, errNotConverged
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(d.pollInterval)),
		backoff.WithMaxTries(uint(d.maxAttempts)),
	)

	switch {
	case err == nil:
		d.finish(s, model.OutcomeConverged, "")
	case errors.Is(err, errSuperseded), ctx.Err() != nil:
		// Superseded by a newer action or torn down with the dispatcher
		d.finish(s, model.OutcomeSuperseded, "")
	default:
		d.refreshOnce(s.WorkloadID)
		d.finish(s, model.OutcomeTimedOut, "")
	}
}

// refreshOnce merges one final scoped read after a timed-out session so
// the registry reflects whatever the cluster last reported.
func (d *Dispatcher) refreshOnce(workloadID string) {
	ctx, cancel := context.WithTimeout(d.rootCtx, d.pollInterval)
	defer cancel()

	observed, err := d.repo.WorkloadState(ctx, workloadID)
	if err != nil {
		d.logger.Warn("final refresh failed",
			slog.String("workload", workloadID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.registry.Apply(observed)
}
