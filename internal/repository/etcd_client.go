package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/dik654/k3s-console/internal/config"
	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/util"
)

const (
	// etcd key prefixes
	keyFleetSnapshot = "k3s-console/fleet-snapshot"
	keyJobPrefix     = "k3s-console/jobs/"
)

// SnapshotRepository persists the last fleet snapshot and archived job
// records so a restarted console starts with a warm registry instead of
// waiting for the first reconcile tick.
type SnapshotRepository interface {
	// WriteFleetSnapshot stores the current set of workload states
	WriteFleetSnapshot(ctx context.Context, states []model.WorkloadState) error

	// ReadFleetSnapshot returns the last stored workload states
	ReadFleetSnapshot(ctx context.Context) ([]model.WorkloadState, error)

	// ArchiveJob stores a terminal job record
	ArchiveJob(ctx context.Context, record *model.JobRecord) error

	// ReadArchivedJobs returns all archived job records
	ReadArchivedJobs(ctx context.Context) ([]model.JobRecord, error)

	// Close closes the underlying client connection
	Close() error
}

// etcdClient implements SnapshotRepository
type etcdClient struct {
	client *clientv3.Client
	logger *slog.Logger
}

// NewSnapshotRepository creates an etcd-backed snapshot store
func NewSnapshotRepository(cfg config.EtcdConfig, logger *slog.Logger) (SnapshotRepository, error) {
	etcdCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	}

	// Configure TLS if provided
	if cfg.TLS != nil {
		tlsConfig, err := util.LoadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		etcdCfg.TLS = tlsConfig
	}

	client, err := clientv3.New(etcdCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err = client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logger.Info("connected to etcd cluster", "endpoints", cfg.Endpoints)

	return &etcdClient{
		client: client,
		logger: logger,
	}, nil
}

// WriteFleetSnapshot stores the current set of workload states
func (e *etcdClient) WriteFleetSnapshot(ctx context.Context, states []model.WorkloadState) error {
	data, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to marshal fleet snapshot: %w", err)
	}

	if _, err = e.client.Put(ctx, keyFleetSnapshot, string(data)); err != nil {
		return fmt.Errorf("failed to write fleet snapshot to etcd: %w", err)
	}

	e.logger.Debug("wrote fleet snapshot to etcd", "workloads", len(states))

	return nil
}

// ReadFleetSnapshot returns the last stored workload states
func (e *etcdClient) ReadFleetSnapshot(ctx context.Context) ([]model.WorkloadState, error) {
	resp, err := e.client.Get(ctx, keyFleetSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet snapshot from etcd: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var states []model.WorkloadState
	if err := json.Unmarshal(resp.Kvs[0].Value, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fleet snapshot: %w", err)
	}

	return states, nil
}

// ArchiveJob stores a terminal job record
func (e *etcdClient) ArchiveJob(ctx context.Context, record *model.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	key := keyJobPrefix + record.JobID
	if _, err = e.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to archive job to etcd: %w", err)
	}

	e.logger.Debug("archived job record to etcd",
		"job_id", record.JobID,
		"result", string(record.Result))

	return nil
}

// ReadArchivedJobs returns all archived job records
func (e *etcdClient) ReadArchivedJobs(ctx context.Context) ([]model.JobRecord, error) {
	resp, err := e.client.Get(ctx, keyJobPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read archived jobs from etcd: %w", err)
	}

	records := make([]model.JobRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record model.JobRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			e.logger.Warn("skipping malformed job record in etcd", "key", string(kv.Key))
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// Close closes the etcd client connection
func (e *etcdClient) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
