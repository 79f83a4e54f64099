package genjob

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dik654/k3s-console/internal/cache"
	"github.com/dik654/k3s-console/internal/model"
	"github.com/dik654/k3s-console/internal/notify"
	"github.com/dik654/k3s-console/internal/repository"
)

// Manager submits generative jobs and polls their history until an
// output artifact appears or the attempt budget runs out. Terminal
// records move into a TTL archive served by the API.
type Manager struct {
	repo         repository.ClusterRepository
	sink         notify.Sink
	archive      cache.Cache
	snapshots    repository.SnapshotRepository // optional, may be nil
	logger       *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
	archiveTTL   time.Duration

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]*model.JobRecord
}

// New creates a job manager. pollInterval and maxAttempts bound every
// history poll loop; archiveTTL bounds how long terminal records stay
// listable.
func New(
	repo repository.ClusterRepository,
	sink notify.Sink,
	archive cache.Cache,
	snapshots repository.SnapshotRepository,
	pollInterval time.Duration,
	maxAttempts int,
	archiveTTL time.Duration,
	logger *slog.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:         repo,
		sink:         sink,
		archive:      archive,
		snapshots:    snapshots,
		logger:       logger,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		archiveTTL:   archiveTTL,
		rootCtx:      ctx,
		cancel:       cancel,
		active:       make(map[string]*model.JobRecord),
	}
}

// RestoreArchive loads previously archived job records from the
// snapshot store into the listing archive.
func (m *Manager) RestoreArchive(ctx context.Context) {
	if m.snapshots == nil {
		return
	}

	records, err := m.snapshots.ReadArchivedJobs(ctx)
	if err != nil {
		m.logger.Warn("failed to restore job archive",
			slog.String("error", err.Error()),
		)
		return
	}

	for i := range records {
		record := records[i]
		m.archive.Set(record.JobID, &record, m.archiveTTL)
	}

	if len(records) > 0 {
		m.logger.Info("restored job archive",
			slog.Int("jobs", len(records)),
		)
	}
}

// Submit issues the mutating submission call and, on success, starts
// the history poller for the returned job id. A failed submission
// produces a Failed record immediately; no polling occurs.
func (m *Manager) Submit(ctx context.Context, spec model.JobSpec) (*model.JobRecord, error) {
	if spec.Kind != model.JobKindImage && spec.Kind != model.JobKindVideo {
		return nil, fmt.Errorf("unknown job kind %q", spec.Kind)
	}

	jobID, err := m.repo.SubmitJob(ctx, spec)
	if err != nil {
		record := &model.JobRecord{
			Kind:        spec.Kind,
			SubmittedAt: time.Now(),
			Result:      model.JobFailed,
			Reason:      err.Error(),
		}
		m.sink.Notify(fmt.Sprintf("%s job submission failed: %v", spec.Kind, err), notify.SeverityError)
		return record, err
	}

	record := &model.JobRecord{
		JobID:       jobID,
		Kind:        spec.Kind,
		SubmittedAt: time.Now(),
		Result:      model.JobPending,
	}

	m.mu.Lock()
	m.active[jobID] = record
	m.mu.Unlock()

	m.logger.Info("generative job submitted",
		slog.String("job_id", jobID),
		slog.String("kind", string(spec.Kind)),
	)

	m.wg.Add(1)
	go m.pollUntilComplete(record)

	result := *record
	return &result, nil
}

// Get returns a job record by id, active or archived
func (m *Manager) Get(jobID string) (*model.JobRecord, bool) {
	m.mu.Lock()
	if record, ok := m.active[jobID]; ok {
		result := *record
		m.mu.Unlock()
		return &result, true
	}
	m.mu.Unlock()

	if cached, ok := m.archive.Get(jobID); ok {
		if record, ok := cached.(*model.JobRecord); ok {
			result := *record
			return &result, true
		}
	}
	return nil, false
}

// List returns all active and archived job records, newest first
func (m *Manager) List() []model.JobRecord {
	m.mu.Lock()
	records := make([]model.JobRecord, 0, len(m.active))
	for _, record := range m.active {
		records = append(records, *record)
	}
	m.mu.Unlock()

	for _, item := range m.archive.Items() {
		if record, ok := item.(*model.JobRecord); ok {
			records = append(records, *record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SubmittedAt.After(records[j].SubmittedAt)
	})
	return records
}

// finish moves a record out of the active set, archives it and emits
// its single terminal notification.
func (m *Manager) finish(record *model.JobRecord) {
	m.mu.Lock()
	delete(m.active, record.JobID)
	m.mu.Unlock()

	archived := *record
	m.archive.Set(record.JobID, &archived, m.archiveTTL)

	if m.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.snapshots.ArchiveJob(ctx, record); err != nil {
			m.logger.Warn("failed to archive job record",
				slog.String("job_id", record.JobID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	m.logger.Info("generative job finished",
		slog.String("job_id", record.JobID),
		slog.String("result", string(record.Result)),
	)

	switch record.Result {
	case model.JobReady:
		m.sink.Notify(fmt.Sprintf("%s job %s produced output", record.Kind, record.JobID), notify.SeverityInfo)
	case model.JobTimedOut:
		// Unlike infra actions, a job with no output is presumed stuck
		m.sink.Notify(fmt.Sprintf("%s job %s timed out without output", record.Kind, record.JobID), notify.SeverityError)
	case model.JobFailed:
		m.sink.Notify(fmt.Sprintf("%s job %s failed: %s", record.Kind, record.JobID, record.Reason), notify.SeverityError)
	}
}

// Stop cancels all history pollers and waits for them
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}
