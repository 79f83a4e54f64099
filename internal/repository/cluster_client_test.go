package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dik654/k3s-console/internal/config"
	"github.com/dik654/k3s-console/internal/logger"
	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/registry"
)

func newTestClient(t *testing.T, handler http.Handler) ClusterRepository {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	repo, err := NewClusterRepository(config.ClusterConfig{
		Address: srv.URL,
		Timeout: 5 * time.Second,
	}, logger.New())
	require.NoError(t, err)
	return repo
}

func TestFleetState(t *testing.T) {
	t.Parallel()

	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/fleet", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"workloads":[
			{"id":"vllm","status":"running","replicas":1,"ready_replicas":1},
			{"id":"qdrant","replicas":2,"ready_replicas":0},
			{"id":"rustfs","replicas":0,"ready_replicas":0}
		]}`))
	}))

	states, err := repo.FleetState(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.Equal(t, model.StatusRunning, states[0].Status)
	// Status omitted on the wire is derived from replica counts
	assert.Equal(t, model.StatusPreparing, states[1].Status)
	assert.Equal(t, model.StatusStopped, states[2].Status)
	for _, state := range states {
		assert.False(t, state.LastObservedAt.IsZero())
	}
}

func TestFleetStateStampedAtRequestTime(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"workloads":[{"id":"vllm","status":"running","replicas":1,"ready_replicas":1}]}`))
	}))

	reg := registry.New(logger.New())
	t.Cleanup(reg.Close)
	require.True(t, reg.Apply(model.WorkloadState{
		ID: "vllm", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1,
		LastObservedAt: time.Now().Add(-time.Minute),
	}))

	type result struct {
		states []model.WorkloadState
		err    error
	}
	done := make(chan result, 1)
	go func() {
		states, err := repo.FleetState(context.Background())
		done <- result{states, err}
	}()

	// A stop session begins while the bulk read is in flight; the
	// response, sampled before the session started, must not pass the
	// staleness guard when it finally arrives.
	<-entered
	time.Sleep(10 * time.Millisecond)
	reg.BeginSession("vllm", time.Now(), model.StatusStopping)
	close(release)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.states, 1)

	assert.Zero(t, reg.ApplyAll(res.states))
	got, _ := reg.Get("vllm")
	assert.Equal(t, model.StatusStopping, got.Status)
}

func TestWorkloadState(t *testing.T) {
	t.Parallel()

	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/workloads/rustfs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"running","replicas":1,"ready_replicas":1,"allocated_bytes":1073741824}`))
	}))

	state, err := repo.WorkloadState(context.Background(), "rustfs")
	require.NoError(t, err)
	// ID is filled from the request when the response omits it
	assert.Equal(t, "rustfs", state.ID)
	assert.Equal(t, int64(1<<30), state.AllocatedBytes)
}

func TestPostAction(t *testing.T) {
	t.Parallel()

	var got struct {
		Action    string `json:"action"`
		Replicas  int    `json:"replicas"`
		SizeBytes int64  `json:"size_bytes"`
	}
	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/workloads/vllm/action", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))

	err := repo.PostAction(context.Background(), "vllm", model.ActionScale, model.ActionParams{TargetReplicas: 3})
	require.NoError(t, err)
	assert.Equal(t, "scale", got.Action)
	assert.Equal(t, 3, got.Replicas)
}

func TestPostActionFailureWrapsRemoteCallError(t *testing.T) {
	t.Parallel()

	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "workload is draining", http.StatusConflict)
	}))

	err := repo.PostAction(context.Background(), "vllm", model.ActionStop, model.ActionParams{})
	require.Error(t, err)

	var remoteErr *model.RemoteCallError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, "stop vllm", remoteErr.Op)
	assert.Contains(t, remoteErr.Error(), "409")
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		var spec model.JobSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, model.JobKindImage, spec.Kind)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-42"}`))
	}))

	jobID, err := repo.SubmitJob(context.Background(), model.JobSpec{Kind: model.JobKindImage, Prompt: "a lighthouse"})
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
}

func TestSubmitJobRejectsEmptyJobID(t *testing.T) {
	t.Parallel()

	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := repo.SubmitJob(context.Background(), model.JobSpec{Kind: model.JobKindVideo})
	var remoteErr *model.RemoteCallError
	require.True(t, errors.As(err, &remoteErr))
}

func TestJobHistory(t *testing.T) {
	t.Parallel()

	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job-42/history", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"outputs":[{"url":"https://artifacts.local/job-42.png","kind":"image"}]}`))
	}))

	outputs, err := repo.JobHistory(context.Background(), "job-42")
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "https://artifacts.local/job-42.png", outputs[0].URL)
}

func TestJobHistoryEmptyWhileRunning(t *testing.T) {
	t.Parallel()

	repo := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))

	outputs, err := repo.JobHistory(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Empty(t, outputs)
}
