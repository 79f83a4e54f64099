package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dik654/k3s-console/internal/concurrent"
	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/registry"
	"github.com/dik654/k3s-console/internal/repository"
)

// scopedReadConcurrency caps parallel per-workload reads during the
// initial warm load.
const scopedReadConcurrency = 8

// Reconciler periodically re-fetches the full fleet state and merges it
// into the registry, independent of any in-flight action. A failed bulk
// read leaves the registry unchanged and is retried on the next tick.
type Reconciler struct {
	repo      repository.ClusterRepository
	registry  *registry.Registry
	snapshots repository.SnapshotRepository // optional, may be nil
	interval  time.Duration
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	lastTick time.Time
}

// New creates a reconciler ticking at the given interval
func New(
	repo repository.ClusterRepository,
	reg *registry.Registry,
	snapshots repository.SnapshotRepository,
	interval time.Duration,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		registry:  reg,
		snapshots: snapshots,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start performs the initial load and begins the tick loop
func (r *Reconciler) Start(ctx context.Context) {
	r.initialLoad(ctx)

	r.logger.Info("starting reconciler",
		slog.Duration("interval", r.interval),
	)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop gracefully stops the reconciler
func (r *Reconciler) Stop() {
	r.logger.Info("stopping reconciler")
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

// LastTick reports when the last successful bulk read was merged
func (r *Reconciler) LastTick() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastTick
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one bulk read and merges every observation into the
// registry. The merge rule alone decides what survives; the reconciler
// never bypasses it.
func (r *Reconciler) Tick(ctx context.Context) {
	states, err := r.repo.FleetState(ctx)
	if err != nil {
		// Registry stays as it was; next tick retries with no backoff
		r.logger.Warn("fleet read failed, keeping previous state",
			slog.String("error", err.Error()),
		)
		return
	}

	accepted := r.registry.ApplyAll(states)

	r.mu.Lock()
	r.lastTick = time.Now()
	r.mu.Unlock()

	r.logger.Debug("reconcile tick merged fleet state",
		slog.Int("observed", len(states)),
		slog.Int("accepted", accepted),
	)

	if r.snapshots != nil {
		if err := r.snapshots.WriteFleetSnapshot(ctx, r.registry.Snapshot()); err != nil {
			r.logger.Warn("failed to persist fleet snapshot",
				slog.String("error", err.Error()),
			)
		}
	}
}

// initialLoad warms the registry before the first tick: restore the
// persisted snapshot if one exists, then do a bulk read followed by
// parallel scoped reads, which carry the storage allocation detail the
// bulk endpoint omits.
func (r *Reconciler) initialLoad(ctx context.Context) {
	if r.snapshots != nil {
		if states, err := r.snapshots.ReadFleetSnapshot(ctx); err != nil {
			r.logger.Warn("failed to restore fleet snapshot",
				slog.String("error", err.Error()),
			)
		} else if len(states) > 0 {
			r.registry.ApplyAll(states)
			r.logger.Info("restored fleet snapshot",
				slog.Int("workloads", len(states)),
			)
		}
	}

	states, err := r.repo.FleetState(ctx)
	if err != nil {
		r.logger.Warn("initial fleet read failed",
			slog.String("error", err.Error()),
		)
		return
	}
	r.registry.ApplyAll(states)

	// Bounded fan-out keeps a large fleet from stampeding the API
	results := concurrent.ParallelMapWithLimit(ctx, states, func(ctx context.Context, state model.WorkloadState) (model.WorkloadState, error) {
		return r.repo.WorkloadState(ctx, state.ID)
	}, scopedReadConcurrency)
	for _, result := range results {
		if result.Error != nil {
			r.logger.Warn("initial scoped read failed",
				slog.String("workload", states[result.Index].ID),
				slog.String("error", result.Error.Error()),
			)
			continue
		}
		r.registry.Apply(result.Value)
	}

	r.mu.Lock()
	r.lastTick = time.Now()
	r.mu.Unlock()

	r.logger.Info("initial fleet state loaded",
		slog.Int("workloads", len(states)),
	)
}
