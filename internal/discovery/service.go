package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/model"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

const (
	StepOK      = "success"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

type ScrapeStore interface {
	Create(ctx context.Context, s *model.RawScrape) error
	ExistsBySourceHash(ctx context.Context, sourceID, contentHash string) (bool, error)
}

type RunStore interface {
	Create(ctx context.Context, run *model.PipelineRun) error
	UpdateStatusIf(ctx context.Context, id, fromStatus, toStatus string, at int64) (bool, error)
	SaveResult(ctx context.Context, run *model.PipelineRun) error
}

type ServiceConfig struct {
	SourceID   string
	Queries    []string
	MaxResults int
	// stamped on every stored scrape
	Metadata map[string]string
}

// Service turns search results into raw scrapes waiting for ingestion.
type Service struct {
	adapter Adapter
	fetcher *Fetcher
	scrapes ScrapeStore
	runs    RunStore
	cfg     ServiceConfig
	now     func() time.Time
}

func NewService(adapter Adapter, fetcher *Fetcher, scrapes ScrapeStore, runs RunStore, cfg ServiceConfig) *Service {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "discovery"
	}
	return &Service{
		adapter: adapter,
		fetcher: fetcher,
		scrapes: scrapes,
		runs:    runs,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run searches every configured query once and stores what it fetched. The
// returned run is already persisted.
func (s *Service) Run(ctx context.Context) (*model.PipelineRun, error) {
	start := s.now()
	run := &model.PipelineRun{
		ID:      uuid.NewString(),
		Kind:    model.RunKindDiscovery,
		Subject: s.adapter.Name(),
		Status:  model.RunStatusQueued,
		Steps:   []model.RunStep{},
		Ctime:   start.UnixMilli(),
		Mtime:   start.UnixMilli(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	if _, err := s.runs.UpdateStatusIf(ctx, run.ID, model.RunStatusQueued, model.RunStatusRunning, start.UnixMilli()); err != nil {
		return nil, err
	}
	run.Status = model.RunStatusRunning
	run.StartedAt = start.UnixMilli()
	logger := logutil.GetLogger(ctx).With(zap.String("run_id", run.ID), zap.String("adapter", s.adapter.Name()))

	seen := make(map[string]struct{})
	queryFailures := 0
	for _, query := range s.cfg.Queries {
		if ctx.Err() != nil {
			break
		}
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		began := time.Now()
		candidates, err := s.adapter.Discover(ctx, query, s.cfg.MaxResults)
		step := model.RunStep{Name: "discover:" + query, Status: StepOK}
		if err != nil {
			queryFailures++
			step.Status = StepFailed
			step.Error = err.Error()
			logger.Warn("discovery query failed", zap.String("query", query), zap.Error(err))
		}
		step.DurationMs = time.Since(began).Milliseconds()
		run.Steps = append(run.Steps, step)

		for _, c := range candidates {
			if _, ok := seen[c.URL]; ok {
				continue
			}
			seen[c.URL] = struct{}{}
			st := s.fetchOne(ctx, c)
			if st.Status == StepOK {
				run.Succeeded++
			} else if st.Status == StepFailed {
				run.Failed++
			}
			run.Steps = append(run.Steps, st)
		}
	}

	status := model.RunStatusCompleted
	switch {
	case ctx.Err() != nil:
		status = model.RunStatusFailed
		run.Error = ctx.Err().Error()
	case queryFailures > 0 && queryFailures == len(s.cfg.Queries):
		status = model.RunStatusFailed
		run.Error = "every discovery query failed"
	}
	return s.finish(ctx, run, status, start)
}

func (s *Service) fetchOne(ctx context.Context, c Candidate) (st model.RunStep) {
	logger := logutil.GetLogger(ctx).With(zap.String("url", c.URL))
	began := time.Now()
	st = model.RunStep{Name: "fetch", Status: StepOK}
	defer func() { st.DurationMs = time.Since(began).Milliseconds() }()

	scrape, err := s.fetcher.Fetch(ctx, s.cfg.SourceID, c)
	if scrape == nil {
		st.Status = StepFailed
		st.Error = err.Error()
		return st
	}
	if len(s.cfg.Metadata) > 0 {
		scrape.Metadata = make(map[string]string, len(s.cfg.Metadata))
		for k, v := range s.cfg.Metadata {
			scrape.Metadata[k] = v
		}
	}
	if err != nil || scrape.ErrorMessage != "" {
		logger.Warn("fetch candidate failed", zap.Int("status", scrape.HTTPStatus), zap.String("error", scrape.ErrorMessage))
		st.Status = StepFailed
		st.Error = scrape.ErrorMessage
	} else {
		exists, err := s.scrapes.ExistsBySourceHash(ctx, scrape.SourceID, scrape.ContentHash)
		if err != nil {
			st.Status = StepFailed
			st.Error = err.Error()
			return st
		}
		if exists {
			st.Status = StepSkipped
			st.Reason = "duplicate"
			return st
		}
	}
	// failed fetches are stored too so the audit shows what was tried
	if err := s.scrapes.Create(ctx, scrape); err != nil && !errors.Is(err, appErr.ErrConflict) {
		logger.Error("store scrape failed", zap.Error(err))
		st.Status = StepFailed
		st.Error = fmt.Sprintf("store scrape: %v", err)
		return st
	}
	st.ScrapeID = scrape.ID
	return st
}

func (s *Service) finish(ctx context.Context, run *model.PipelineRun, status string, start time.Time) (*model.PipelineRun, error) {
	ctx = context.WithoutCancel(ctx)
	end := s.now()
	run.FinishedAt = end.UnixMilli()
	run.DurationMs = end.Sub(start).Milliseconds()
	run.Mtime = run.FinishedAt
	if err := s.runs.SaveResult(ctx, run); err != nil {
		return nil, err
	}
	if _, err := s.runs.UpdateStatusIf(ctx, run.ID, model.RunStatusRunning, status, run.FinishedAt); err != nil {
		return nil, err
	}
	run.Status = status
	logutil.GetLogger(ctx).Info("discovery run finished",
		zap.String("run_id", run.ID),
		zap.String("status", status),
		zap.Int("stored", run.Succeeded),
		zap.Int("failed", run.Failed),
	)
	return run, nil
}
