package callback

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/voxflow/voxflow/internal/domain"
	"github.com/voxflow/voxflow/internal/store"
)

// ErrValidation marks callbacks rejected before any store interaction.
var ErrValidation = errors.New("invalid callback payload")

// Ingestor applies worker-origin result callbacks to the job store. It never
// originates job rows; an unknown job id is an error, not a create.
type Ingestor struct {
	logger   *log.Logger
	jobStore store.JobStore
}

func NewIngestor(logger *log.Logger, jobStore store.JobStore) *Ingestor {
	return &Ingestor{
		logger:   logger,
		jobStore: jobStore,
	}
}

// Ingest validates payload and writes the mapped result as a single keyed
// update. The returned job is the row after the write. Store errors pass
// through unwrapped sentinels: store.ErrJobNotFound for an unknown id,
// store.ErrJobTerminal when the row already holds a final status.
func (i *Ingestor) Ingest(ctx context.Context, payload domain.ResultPayload) (domain.Job, error) {
	if err := payload.Validate(); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	result := domain.ResultFromPayload(payload)
	job, err := i.jobStore.ApplyResult(ctx, payload.JobID, result)
	if err != nil {
		i.logger.Printf("callback apply failed job_id=%s status=%s err=%v", payload.JobID, result.Status, err)
		return job, err
	}

	i.logger.Printf("callback applied job_id=%s status=%s", job.ID, job.Status)
	return job, nil
}
