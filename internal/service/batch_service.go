package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/legisrag/internal/model"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

type BatchConfig struct {
	Concurrency int
	Limit       int
	// scrapes that failed this many times are no longer picked up; 0 retries forever
	MaxAttempts int
}

type runHandle struct {
	cancelled atomic.Bool
}

// BatchService runs ingestion over pending scrapes and records each batch as
// a PipelineRun.
type BatchService struct {
	ingest  *IngestionService
	scrapes ScrapeStore
	runs    RunStore
	cfg     BatchConfig
	now     func() time.Time

	mu     sync.Mutex
	active map[string]*runHandle
}

func NewBatchService(ingest *IngestionService, scrapes ScrapeStore, runs RunStore, cfg BatchConfig) *BatchService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	return &BatchService{
		ingest:  ingest,
		scrapes: scrapes,
		runs:    runs,
		cfg:     cfg,
		now:     time.Now,
		active:  make(map[string]*runHandle),
	}
}

// RunBatch ingests up to limit pending scrapes and returns the finished run.
func (s *BatchService) RunBatch(ctx context.Context, limit int) (*model.PipelineRun, error) {
	run, h, err := s.create(ctx)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, run, h, limit)
}

// Start queues a run and executes it in the background.
func (s *BatchService) Start(ctx context.Context, limit int) (*model.PipelineRun, error) {
	run, h, err := s.create(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	go func() {
		if _, err := s.execute(context.WithoutCancel(ctx), run, h, limit); err != nil {
			logutil.GetLogger(ctx).Error("background batch failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return &snapshot, nil
}

func (s *BatchService) Get(ctx context.Context, runID string) (*model.PipelineRun, error) {
	return s.runs.Get(ctx, runID)
}

func (s *BatchService) List(ctx context.Context, offset, limit int) ([]*model.PipelineRun, error) {
	return s.runs.List(ctx, model.RunKindIngest, offset, limit)
}

// Cancel stops a queued or running batch from scheduling more documents.
// Documents already in flight finish normally.
func (s *BatchService) Cancel(ctx context.Context, runID string) (*model.PipelineRun, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransitionRunStatus(run.Status, model.RunStatusCancelled) {
		return nil, fmt.Errorf("%w: run %s is %s", appErr.ErrInvalidTransition, runID, run.Status)
	}
	s.mu.Lock()
	if h := s.active[runID]; h != nil {
		h.cancelled.Store(true)
	}
	s.mu.Unlock()
	ok, err := s.runs.UpdateStatusIf(ctx, runID, run.Status, model.RunStatusCancelled, s.now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: run %s changed status concurrently", appErr.ErrConflict, runID)
	}
	logutil.GetLogger(ctx).Info("pipeline run cancelled", zap.String("run_id", runID))
	return s.runs.Get(ctx, runID)
}

func (s *BatchService) create(ctx context.Context) (*model.PipelineRun, *runHandle, error) {
	now := s.now().UnixMilli()
	run := &model.PipelineRun{
		ID:      newID(),
		Kind:    model.RunKindIngest,
		Subject: "pending_scrapes",
		Status:  model.RunStatusQueued,
		Steps:   []model.RunStep{},
		Ctime:   now,
		Mtime:   now,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, nil, err
	}
	h := &runHandle{}
	s.mu.Lock()
	s.active[run.ID] = h
	s.mu.Unlock()
	return run, h, nil
}

func (s *BatchService) execute(ctx context.Context, run *model.PipelineRun, h *runHandle, limit int) (*model.PipelineRun, error) {
	defer func() {
		s.mu.Lock()
		delete(s.active, run.ID)
		s.mu.Unlock()
	}()
	logger := logutil.GetLogger(ctx).With(zap.String("run_id", run.ID))
	if limit <= 0 || limit > s.cfg.Limit {
		limit = s.cfg.Limit
	}

	start := s.now()
	ok, err := s.runs.UpdateStatusIf(ctx, run.ID, model.RunStatusQueued, model.RunStatusRunning, start.UnixMilli())
	if err != nil {
		return nil, err
	}
	if !ok {
		// cancelled before it started
		return s.runs.Get(ctx, run.ID)
	}
	run.Status = model.RunStatusRunning
	run.StartedAt = start.UnixMilli()

	pending, err := s.scrapes.ListPending(ctx, limit, s.cfg.MaxAttempts)
	if err != nil {
		run.Error = fmt.Sprintf("list pending scrapes: %v", err)
		return s.finish(ctx, run, model.RunStatusFailed, start)
	}
	logger.Info("pipeline run started", zap.Int("pending", len(pending)))

	steps := make([]model.RunStep, len(pending))
	var backendDown atomic.Bool
	eg := errgroup.Group{}
	eg.SetLimit(s.cfg.Concurrency)
	scheduled := 0
	for i, scrape := range pending {
		if h.cancelled.Load() || backendDown.Load() || ctx.Err() != nil {
			break
		}
		scheduled++
		eg.Go(func() error {
			began := time.Now()
			res := s.ingest.Ingest(ctx, scrape, run.ID)
			steps[i] = stepFromResult(res, time.Since(began))
			if IsBackendUnavailable(res) {
				backendDown.Store(true)
			}
			return nil
		})
	}
	_ = eg.Wait()

	run.Steps = steps[:scheduled]
	for _, st := range run.Steps {
		if st.Status == IngestStatusSuccess {
			run.Succeeded++
		} else {
			run.Failed++
		}
	}
	status := model.RunStatusCompleted
	switch {
	case h.cancelled.Load():
		status = model.RunStatusCancelled
	case backendDown.Load():
		status = model.RunStatusFailed
		run.Error = appErr.ErrBackendUnavailable.Error()
	case ctx.Err() != nil:
		status = model.RunStatusFailed
		run.Error = ctx.Err().Error()
	}
	return s.finish(ctx, run, status, start)
}

func (s *BatchService) finish(ctx context.Context, run *model.PipelineRun, status string, start time.Time) (*model.PipelineRun, error) {
	ctx = context.WithoutCancel(ctx)
	end := s.now()
	run.FinishedAt = end.UnixMilli()
	run.DurationMs = end.Sub(start).Milliseconds()
	run.Mtime = run.FinishedAt
	if err := s.runs.SaveResult(ctx, run); err != nil {
		return nil, err
	}
	ok, err := s.runs.UpdateStatusIf(ctx, run.ID, model.RunStatusRunning, status, run.FinishedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		// someone else already ended it, most likely Cancel
		latest, err := s.runs.Get(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Status = latest.Status
	} else {
		run.Status = status
	}
	logutil.GetLogger(ctx).Info("pipeline run finished",
		zap.String("run_id", run.ID),
		zap.String("status", run.Status),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int64("duration_ms", run.DurationMs),
	)
	return run, nil
}

func stepFromResult(res *IngestResult, took time.Duration) model.RunStep {
	st := model.RunStep{
		Name:          "ingest",
		ScrapeID:      res.ScrapeID,
		Status:        res.Status,
		Reason:        res.Reason,
		ChunksCreated: res.ChunksCreated,
		ArchiveStatus: res.Archive.Status,
		DurationMs:    took.Milliseconds(),
	}
	if res.Err != nil {
		st.Error = res.Err.Error()
	}
	return st
}
