package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dik654/k3s-console/internal/config"
	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/util"
)

// ClusterRepository defines the remote control surface of the cluster.
// It is stateless between calls; all state lives in the registry.
type ClusterRepository interface {
	// FleetState performs the bulk read of all workload states
	FleetState(ctx context.Context) ([]model.WorkloadState, error)

	// WorkloadState performs a scoped read of one workload
	WorkloadState(ctx context.Context, id string) (model.WorkloadState, error)

	// PostAction issues a mutating call for a workload action
	PostAction(ctx context.Context, id string, action model.Action, params model.ActionParams) error

	// SubmitJob submits a generative job and returns the remote job id
	SubmitJob(ctx context.Context, spec model.JobSpec) (string, error)

	// JobHistory returns output artifacts recorded for a job, if any
	JobHistory(ctx context.Context, jobID string) ([]model.ArtifactRef, error)
}

// clusterClient implements ClusterRepository over the cluster's HTTP API
type clusterClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClusterRepository creates a cluster client from config
func NewClusterRepository(cfg config.ClusterConfig, logger *slog.Logger) (ClusterRepository, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.TLS != nil {
		tlsConfig, err := util.LoadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &clusterClient{
		baseURL: strings.TrimRight(cfg.Address, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// workloadStateResponse is the wire shape of a workload state
type workloadStateResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status,omitempty"`
	Replicas       int    `json:"replicas"`
	ReadyReplicas  int    `json:"ready_replicas"`
	AllocatedBytes int64  `json:"allocated_bytes,omitempty"`
}

func (r *workloadStateResponse) toModel(observedAt time.Time) model.WorkloadState {
	status := model.WorkloadStatus(r.Status)
	if status == "" {
		// Older control planes omit status; derive it from replica counts
		status = model.DeriveStatus(r.Replicas, r.ReadyReplicas)
	}
	return model.WorkloadState{
		ID:             r.ID,
		Status:         status,
		Replicas:       r.Replicas,
		ReadyReplicas:  r.ReadyReplicas,
		AllocatedBytes: r.AllocatedBytes,
		LastObservedAt: observedAt,
	}
}

// FleetState performs the bulk read of all workload states
func (c *clusterClient) FleetState(ctx context.Context) ([]model.WorkloadState, error) {
	// Stamp before issuing the request: the data is no fresher than the
	// moment it was asked for, so a response that arrives late merges
	// with the stamp of its request, not of its completion.
	observedAt := time.Now()

	var resp struct {
		Workloads []workloadStateResponse `json:"workloads"`
	}
	if err := c.get(ctx, "/v1/fleet", &resp); err != nil {
		return nil, fmt.Errorf("failed to read fleet state: %w", err)
	}

	states := make([]model.WorkloadState, 0, len(resp.Workloads))
	for i := range resp.Workloads {
		states = append(states, resp.Workloads[i].toModel(observedAt))
	}
	return states, nil
}

// WorkloadState performs a scoped read of one workload
func (c *clusterClient) WorkloadState(ctx context.Context, id string) (model.WorkloadState, error) {
	observedAt := time.Now()

	var resp workloadStateResponse
	if err := c.get(ctx, "/v1/workloads/"+url.PathEscape(id), &resp); err != nil {
		return model.WorkloadState{}, fmt.Errorf("failed to read workload %s: %w", id, err)
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return resp.toModel(observedAt), nil
}

// PostAction issues the mutating call for a workload action
func (c *clusterClient) PostAction(ctx context.Context, id string, action model.Action, params model.ActionParams) error {
	payload := struct {
		Action    model.Action `json:"action"`
		Replicas  int          `json:"replicas,omitempty"`
		SizeBytes int64        `json:"size_bytes,omitempty"`
	}{
		Action:    action,
		Replicas:  params.TargetReplicas,
		SizeBytes: params.TargetSizeBytes,
	}

	if err := c.post(ctx, "/v1/workloads/"+url.PathEscape(id)+"/action", payload, nil); err != nil {
		return &model.RemoteCallError{Op: string(action) + " " + id, Err: err}
	}
	return nil
}

// SubmitJob submits a generative job and returns the remote job id
func (c *clusterClient) SubmitJob(ctx context.Context, spec model.JobSpec) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.post(ctx, "/v1/jobs", spec, &resp); err != nil {
		return "", &model.RemoteCallError{Op: "submit " + string(spec.Kind) + " job", Err: err}
	}
	if resp.JobID == "" {
		return "", &model.RemoteCallError{Op: "submit " + string(spec.Kind) + " job", Err: fmt.Errorf("response contained no job id")}
	}
	return resp.JobID, nil
}

// JobHistory returns output artifacts recorded for a job, if any
func (c *clusterClient) JobHistory(ctx context.Context, jobID string) ([]model.ArtifactRef, error) {
	var resp struct {
		Outputs []model.ArtifactRef `json:"outputs,omitempty"`
	}
	if err := c.get(ctx, "/v1/jobs/"+url.PathEscape(jobID)+"/history", &resp); err != nil {
		return nil, fmt.Errorf("failed to read history for job %s: %w", jobID, err)
	}
	return resp.Outputs, nil
}

// get performs a GET request and decodes the JSON response into out
func (c *clusterClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, out)
}

// post performs a POST request with a JSON body; out may be nil
func (c *clusterClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *clusterClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("cluster api call failed",
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
