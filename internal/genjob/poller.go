package genjob

import (
	"errors"
	"log/slog"
	"math/rand/v2"

	"github.com/cenkalti/backoff/v5"

	"github.com/dik654/k3s-console/internal/model"
)

// errNoOutputYet marks an attempt whose history carried no artifact
var errNoOutputYet = errors.New("no output yet")

// Progress ceiling while no terminal result has been observed. The
// estimate is advisory feedback only and never terminates polling.
const progressCeiling = 95

// pollUntilComplete polls job history on a fixed interval until an
// output artifact appears or the attempt budget is exhausted. The first
// response containing an artifact stops polling immediately.
func (m *Manager) pollUntilComplete(record *model.JobRecord) {
	defer m.wg.Done()

	operation := func() (model.ArtifactRef, error) {
		outputs, err := m.repo.JobHistory(m.rootCtx, record.JobID)
		if err != nil {
			// History read failures consume an attempt like a miss
			m.logger.Warn("job history read failed",
				slog.String("job_id", record.JobID),
				slog.String("error", err.Error()),
			)
			return model.ArtifactRef{}, errNoOutputYet
		}

		if len(outputs) > 0 {
			return outputs[0], nil
		}

		m.bumpProgress(record)
		return model.ArtifactRef{}, errNoOutputYet
	}

	artifact, err := backoff.Retry(m.rootCtx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.pollInterval)),
		backoff.WithMaxTries(uint(m.maxAttempts)),
	)

	switch {
	case err == nil:
		m.mu.Lock()
		record.Result = model.JobReady
		record.ArtifactRef = artifact.URL
		record.ProgressEstimate = 100
		m.mu.Unlock()
		m.finish(record)
	case m.rootCtx.Err() != nil:
		// Torn down with the manager; the record stays pending and is
		// not notified.
		m.logger.Info("job poll cancelled",
			slog.String("job_id", record.JobID),
		)
	default:
		m.mu.Lock()
		record.Result = model.JobTimedOut
		m.mu.Unlock()
		m.finish(record)
	}
}

// bumpProgress raises the advisory estimate by a small random step,
// keeping it monotonic and below the ceiling.
func (m *Manager) bumpProgress(record *model.JobRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := record.ProgressEstimate + 1 + rand.IntN(6)
	if next > progressCeiling {
		next = progressCeiling
	}
	if next > record.ProgressEstimate {
		record.ProgressEstimate = next
	}
}
