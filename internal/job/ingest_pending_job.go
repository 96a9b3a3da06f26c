package job

import (
	"context"
	"fmt"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/service"
)

type IngestPendingJob struct {
	batch *service.BatchService
	limit int
}

func NewIngestPendingJob(batch *service.BatchService, limit int) *IngestPendingJob {
	return &IngestPendingJob{batch: batch, limit: limit}
}

func (j *IngestPendingJob) Name() string {
	return "ingest_pending"
}

func (j *IngestPendingJob) Run(ctx context.Context) error {
	if j.batch == nil {
		return nil
	}
	run, err := j.batch.RunBatch(ctx, j.limit)
	if err != nil {
		return err
	}
	if run.Status == model.RunStatusFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}
