package service

import (
	"context"

	"github.com/xxxsen/legisrag/internal/model"
)

// ScrapeStore is the bookkeeping side of raw scrapes. repo.ScrapeRepo
// implements it against Postgres.
type ScrapeStore interface {
	Create(ctx context.Context, s *model.RawScrape) error
	Get(ctx context.Context, id string) (*model.RawScrape, error)
	ListPending(ctx context.Context, limit, maxAttempts int) ([]*model.RawScrape, error)
	ExistsBySourceHash(ctx context.Context, sourceID, contentHash string) (bool, error)
	MarkProcessed(ctx context.Context, id, blobURI string, mtime int64) error
	MarkFailed(ctx context.Context, id, errMsg string, mtime int64) error
	Stats(ctx context.Context) (*model.ScrapeStats, error)
}

type RunStore interface {
	Create(ctx context.Context, run *model.PipelineRun) error
	Get(ctx context.Context, id string) (*model.PipelineRun, error)
	List(ctx context.Context, kind string, offset, limit int) ([]*model.PipelineRun, error)
	UpdateStatusIf(ctx context.Context, id, fromStatus, toStatus string, at int64) (bool, error)
	SaveResult(ctx context.Context, run *model.PipelineRun) error
}
