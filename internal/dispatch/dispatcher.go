package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/notify"
	"github.com/dik654/k3s-console/internal/registry"
	"github.com/dik654/k3s-console/internal/repository"
)

// Dispatcher turns user intents into remote calls and completion
// polling. At most one session is active per workload; a stop intent
// may supersede an active start session for the same workload.
type Dispatcher struct {
	repo         repository.ClusterRepository
	registry     *registry.Registry
	sink         notify.Sink
	logger       *slog.Logger
	pollInterval time.Duration
	maxAttempts  int

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]*session // workload id -> in-flight session
}

// session is the in-flight bookkeeping around a model.ActionSession
type session struct {
	model.ActionSession

	cancel     context.CancelFunc
	superseded chan struct{}
	once       sync.Once
}

// supersede cancels the session's polling; safe to call more than once
func (s *session) supersede() {
	s.once.Do(func() {
		close(s.superseded)
		s.cancel()
	})
}

func (s *session) isSuperseded() bool {
	select {
	case <-s.superseded:
		return true
	default:
		return false
	}
}

// New creates a dispatcher. pollInterval and maxAttempts bound every
// completion poll loop.
func New(
	repo repository.ClusterRepository,
	reg *registry.Registry,
	sink notify.Sink,
	pollInterval time.Duration,
	maxAttempts int,
	logger *slog.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		repo:         repo,
		registry:     reg,
		sink:         sink,
		logger:       logger,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		rootCtx:      ctx,
		cancel:       cancel,
		active:       make(map[string]*session),
	}
}

// Dispatch validates the intent, issues the mutating remote call and,
// on acknowledgement, applies the optimistic transition and starts a
// completion poller. Rejections (invalid transition, busy) and remote
// call failures each produce exactly one notification.
func (d *Dispatcher) Dispatch(ctx context.Context, workloadID string, action model.Action, params model.ActionParams) (*model.ActionSession, error) {
	if !model.ValidAction(action) {
		return nil, fmt.Errorf("%w: unknown action %q", model.ErrInvalidTransition, action)
	}

	d.mu.Lock()

	// An active session rejects new intents with Busy before any status
	// validation; only a stop intent may displace an active start.
	existing, hasExisting := d.active[workloadID]
	if hasExisting && !(action == model.ActionStop && existing.Action == model.ActionStart) {
		d.mu.Unlock()
		err := fmt.Errorf("%w: %s session %s still active", model.ErrBusy, existing.Action, existing.ID)
		d.sink.Notify(fmt.Sprintf("%s %s rejected: %v", action, workloadID, err), notify.SeverityWarning)
		return nil, err
	}

	// A stop displacing an active start skips status validation: the
	// start is being cancelled, whatever status its reads last showed.
	if !hasExisting {
		current, _ := d.registry.Get(workloadID)
		if current.ID == "" {
			// Never observed: treat as not deployed for validation
			current = model.WorkloadState{ID: workloadID, Status: model.StatusNotDeployed}
		}

		if err := validate(action, params, current); err != nil {
			d.mu.Unlock()
			d.sink.Notify(fmt.Sprintf("%s %s rejected: %v", action, workloadID, err), notify.SeverityWarning)
			return nil, err
		}
	}

	if hasExisting {
		d.logger.Info("superseding start session with stop",
			slog.String("workload", workloadID),
			slog.String("session", existing.ID),
		)
		existing.supersede()
	}

	startedAt := time.Now()
	sctx, scancel := context.WithCancel(d.rootCtx)
	s := &session{
		ActionSession: model.ActionSession{
			ID:         uuid.NewString(),
			WorkloadID: workloadID,
			Action:     action,
			Params:     params,
			StartedAt:  startedAt,
			Deadline:   startedAt.Add(time.Duration(d.maxAttempts) * d.pollInterval),
			Outcome:    model.OutcomePending,
		},
		cancel:     scancel,
		superseded: make(chan struct{}),
	}
	d.active[workloadID] = s
	d.mu.Unlock()

	d.logger.Info("dispatching workload action",
		slog.String("workload", workloadID),
		slog.String("action", string(action)),
		slog.String("session", s.ID),
	)

	// One mutating call; the poller only ever reads
	if err := d.repo.PostAction(ctx, workloadID, action, params); err != nil {
		d.finish(s, model.OutcomeFailed, err.Error())
		result := s.ActionSession
		return &result, err
	}

	// A stop may have displaced this session while the call was in
	// flight; its optimistic transition must not overwrite the stop's.
	if s.isSuperseded() {
		d.finish(s, model.OutcomeSuperseded, "")
		result := s.ActionSession
		return &result, nil
	}

	// Acknowledged: apply the optimistic transition and register the
	// session guard so stale reconciler reads cannot revert it.
	d.registry.BeginSession(workloadID, startedAt, optimisticStatus(action))

	// Copy before the poller starts; it owns the session from here on
	result := s.ActionSession

	d.wg.Add(1)
	go d.pollCompletion(sctx, s)

	return &result, nil
}

// validate enforces the per-action preconditions against current state
func validate(action model.Action, params model.ActionParams, current model.WorkloadState) error {
	switch action {
	case model.ActionStart:
		if current.Status == model.StatusRunning || current.Status == model.StatusPreparing {
			return fmt.Errorf("%w: cannot start workload in status %s", model.ErrInvalidTransition, current.Status)
		}
	case model.ActionStop:
		if current.Status == model.StatusStopped || current.Status == model.StatusNotDeployed {
			return fmt.Errorf("%w: cannot stop workload in status %s", model.ErrInvalidTransition, current.Status)
		}
	case model.ActionScale:
		if current.Status != model.StatusRunning {
			return fmt.Errorf("%w: cannot scale workload in status %s", model.ErrInvalidTransition, current.Status)
		}
		if params.TargetReplicas < 1 {
			return fmt.Errorf("%w: scale requires at least 1 replica", model.ErrInvalidTransition)
		}
	case model.ActionExpand:
		if current.Status != model.StatusRunning {
			return fmt.Errorf("%w: cannot expand workload in status %s", model.ErrInvalidTransition, current.Status)
		}
		if params.TargetSizeBytes <= current.AllocatedBytes {
			return fmt.Errorf("%w: expand target %d must exceed allocated %d bytes",
				model.ErrInvalidTransition, params.TargetSizeBytes, current.AllocatedBytes)
		}
	}
	return nil
}

// optimisticStatus is the local transition applied once the mutating
// call is acknowledged. Scale and expand leave the status untouched.
func optimisticStatus(action model.Action) model.WorkloadStatus {
	switch action {
	case model.ActionStart:
		return model.StatusPreparing
	case model.ActionStop:
		return model.StatusStopping
	default:
		return ""
	}
}

// finish finalizes a session exactly once, emits its notification and
// releases the active slot if this session still holds it.
func (d *Dispatcher) finish(s *session, outcome model.Outcome, reason string) {
	// Terminal writes happen under the same lock ActiveSessions and
	// Dispatch read under; session state is never touched unlocked.
	d.mu.Lock()
	s.Outcome = outcome
	s.Reason = reason
	if d.active[s.WorkloadID] == s {
		delete(d.active, s.WorkloadID)
		d.registry.EndSession(s.WorkloadID)
	}
	d.mu.Unlock()

	d.logger.Info("action session finished",
		slog.String("workload", s.WorkloadID),
		slog.String("action", string(s.Action)),
		slog.String("session", s.ID),
		slog.String("outcome", string(outcome)),
	)

	switch outcome {
	case model.OutcomeConverged:
		d.sink.Notify(fmt.Sprintf("%s %s completed", s.Action, s.WorkloadID), notify.SeverityInfo)
	case model.OutcomeTimedOut:
		// Convergence is assumed eventual; reported as a soft success
		d.sink.Notify(fmt.Sprintf("%s requested for %s", s.Action, s.WorkloadID), notify.SeverityInfo)
	case model.OutcomeFailed:
		d.sink.Notify(fmt.Sprintf("%s %s failed: %s", s.Action, s.WorkloadID, reason), notify.SeverityError)
	case model.OutcomeSuperseded:
		// Silently discarded
	}
}

// ActiveSessions returns a snapshot of in-flight sessions, sorted by
// workload id.
func (d *Dispatcher) ActiveSessions() []model.ActionSession {
	d.mu.Lock()
	sessions := make([]model.ActionSession, 0, len(d.active))
	for _, s := range d.active {
		sessions = append(sessions, s.ActionSession)
	}
	d.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].WorkloadID < sessions[j].WorkloadID })
	return sessions
}

// Stop cancels all in-flight sessions and waits for their pollers
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}
