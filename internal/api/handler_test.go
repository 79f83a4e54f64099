package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dik654/k3s-console/internal/cache"
	"github.com/dik654/k3s-console/internal/dispatch"
	"github.com/dik654/k3s-console/internal/genjob"
	"github.com/dik654/k3s-console/internal/logger"
	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/notify"
	"github.com/dik654/k3s-console/internal/reconcile"
	"github.com/dik654/k3s-console/internal/registry"
)

// fakeCluster is a controllable ClusterRepository double
type fakeCluster struct {
	state model.WorkloadState
	jobID string
}

func (f *fakeCluster) FleetState(_ context.Context) ([]model.WorkloadState, error) {
	if f.state.ID == "" {
		return nil, nil
	}
	return []model.WorkloadState{f.state}, nil
}

func (f *fakeCluster) WorkloadState(_ context.Context, _ string) (model.WorkloadState, error) {
	state := f.state
	state.LastObservedAt = time.Now()
	return state, nil
}

func (f *fakeCluster) PostAction(_ context.Context, _ string, _ model.Action, _ model.ActionParams) error {
	return nil
}

func (f *fakeCluster) SubmitJob(_ context.Context, _ model.JobSpec) (string, error) {
	if f.jobID == "" {
		return "", &model.RemoteCallError{Op: "submit image job", Err: errors.New("unreachable")}
	}
	return f.jobID, nil
}

func (f *fakeCluster) JobHistory(_ context.Context, _ string) ([]model.ArtifactRef, error) {
	return nil, nil
}

// newTestServer wires a full handler stack over the fake cluster and
// merges the fake's fleet state into the registry with one tick
func newTestServer(t *testing.T, fake *fakeCluster) *httptest.Server {
	t.Helper()

	log := logger.New()
	reg := registry.New(log)
	t.Cleanup(reg.Close)

	feed := notify.NewFeed(100)
	d := dispatch.New(fake, reg, feed, time.Millisecond, 3, log)
	t.Cleanup(d.Stop)

	jobs := genjob.New(fake, feed, cache.New(time.Minute), nil, time.Millisecond, 3, time.Minute, log)
	t.Cleanup(jobs.Stop)

	r := reconcile.New(fake, reg, nil, time.Minute, log)
	r.Tick(context.Background())

	h := NewHandler(reg, d, jobs, r, feed, "", false, log)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestListWorkloads(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{state: model.WorkloadState{
		ID: "vllm", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1,
		LastObservedAt: time.Now(),
	}})

	resp, err := http.Get(srv.URL + "/api/workloads")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var states []model.WorkloadState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&states))
	require.Len(t, states, 1)
	assert.Equal(t, "vllm", states[0].ID)
}

func TestGetWorkloadNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{})

	resp, err := http.Get(srv.URL + "/api/workloads/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatchActionRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{state: model.WorkloadState{
		ID: "qdrant", Status: model.StatusStopped, LastObservedAt: time.Now(),
	}})

	// stop is not valid while the workload is already stopped
	resp, err := http.Post(srv.URL+"/api/workloads/qdrant/actions", "application/json",
		strings.NewReader(`{"action":"stop"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "invalid transition")
}

func TestDispatchActionAccepted(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{state: model.WorkloadState{
		ID: "vllm", Status: model.StatusRunning, Replicas: 1, ReadyReplicas: 1,
		LastObservedAt: time.Now(),
	}})

	resp, err := http.Post(srv.URL+"/api/workloads/vllm/actions", "application/json",
		strings.NewReader(`{"action":"stop"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var session model.ActionSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, model.ActionStop, session.Action)
	assert.NotEmpty(t, session.ID)
}

func TestDispatchActionBadBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{})

	resp, err := http.Post(srv.URL+"/api/workloads/vllm/actions", "application/json",
		strings.NewReader(`{`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{jobID: "remote-7"})

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json",
		strings.NewReader(`{"kind":"image","prompt":"a lighthouse at dusk"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var record model.JobRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&record))
	assert.Equal(t, "remote-7", record.JobID)
}

func TestSubmitJobRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{jobID: "remote-7"})

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json",
		strings.NewReader(`{"kind":"hologram","prompt":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{})

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Workloads      int  `json:"workloads"`
		ActiveSessions int  `json:"active_sessions"`
		EtcdEnabled    bool `json:"etcd_enabled"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.EtcdEnabled)
}

func TestNotificationsFeed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeCluster{})

	// A failed job submission produces exactly one notification
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json",
		strings.NewReader(`{"kind":"image","prompt":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/notifications")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var notes []notify.Notification
		if err := json.NewDecoder(r.Body).Decode(&notes); err != nil {
			return false
		}
		return len(notes) == 1 && notes[0].Severity == notify.SeverityError
	}, time.Second, 5*time.Millisecond)
}
