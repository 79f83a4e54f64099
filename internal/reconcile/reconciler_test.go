package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dik654/k3s-console/internal/logger"
	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/registry"
)

// fakeCluster implements the read half of ClusterRepository
type fakeCluster struct {
	mu       sync.Mutex
	fleet    []model.WorkloadState
	fleetErr error
	scoped   map[string]model.WorkloadState
}

func (f *fakeCluster) FleetState(_ context.Context) ([]model.WorkloadState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fleetErr != nil {
		return nil, f.fleetErr
	}
	out := make([]model.WorkloadState, len(f.fleet))
	copy(out, f.fleet)
	return out, nil
}

func (f *fakeCluster) WorkloadState(_ context.Context, id string) (model.WorkloadState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.scoped[id]
	if !ok {
		return model.WorkloadState{}, errors.New("not found")
	}
	return state, nil
}

func (f *fakeCluster) PostAction(_ context.Context, _ string, _ model.Action, _ model.ActionParams) error {
	return errors.New("not implemented")
}

func (f *fakeCluster) SubmitJob(_ context.Context, _ model.JobSpec) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeCluster) JobHistory(_ context.Context, _ string) ([]model.ArtifactRef, error) {
	return nil, errors.New("not implemented")
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(logger.New())
	t.Cleanup(r.Close)
	return r
}

func TestTickMergesFleetState(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fake := &fakeCluster{
		fleet: []model.WorkloadState{
			{ID: "vllm", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1, LastObservedAt: now},
			{ID: "qdrant", Status: model.StatusStopped, LastObservedAt: now},
		},
	}
	reg := newTestRegistry(t)
	r := New(fake, reg, nil, time.Second, logger.New())

	r.Tick(context.Background())

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)
	assert.False(t, r.LastTick().IsZero())
}

func TestFailedBulkReadLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	require.True(t, reg.Apply(model.WorkloadState{
		ID: "vllm", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1,
		LastObservedAt: time.Now(),
	}))

	fake := &fakeCluster{fleetErr: errors.New("connection reset")}
	r := New(fake, reg, nil, time.Second, logger.New())

	r.Tick(context.Background())

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, model.StatusRunning, snapshot[0].Status)
	assert.True(t, r.LastTick().IsZero())
}

func TestStaleBulkReadDoesNotRegressScopedRead(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)

	// A scoped action-poller read already advanced the workload
	fresh := time.Now()
	require.True(t, reg.Apply(model.WorkloadState{
		ID: "qdrant", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1,
		LastObservedAt: fresh,
	}))

	// The bulk read was taken earlier and still reports Stopped
	fake := &fakeCluster{
		fleet: []model.WorkloadState{
			{ID: "qdrant", Status: model.StatusStopped, LastObservedAt: fresh.Add(-time.Second)},
		},
	}
	r := New(fake, reg, nil, time.Second, logger.New())
	r.Tick(context.Background())

	got, _ := reg.Get("qdrant")
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestInitialLoadFillsAllocationDetail(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fake := &fakeCluster{
		fleet: []model.WorkloadState{
			{ID: "rustfs", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1, LastObservedAt: now},
		},
		scoped: map[string]model.WorkloadState{
			"rustfs": {
				ID: "rustfs", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1,
				AllocatedBytes: 4 << 30, LastObservedAt: now.Add(time.Millisecond),
			},
		},
	}
	reg := newTestRegistry(t)
	r := New(fake, reg, nil, time.Minute, logger.New())

	r.initialLoad(context.Background())

	got, ok := reg.Get("rustfs")
	require.True(t, ok)
	assert.Equal(t, int64(4<<30), got.AllocatedBytes)
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	fake := &fakeCluster{
		fleet: []model.WorkloadState{
			{ID: "vllm", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1, LastObservedAt: time.Now()},
		},
		scoped: map[string]model.WorkloadState{},
	}
	reg := newTestRegistry(t)
	r := New(fake, reg, nil, 5*time.Millisecond, logger.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	require.Eventually(t, func() bool {
		_, ok := reg.Get("vllm")
		return ok
	}, time.Second, time.Millisecond)

	r.Stop()
}
