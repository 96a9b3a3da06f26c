package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/blobstore"
	"github.com/xxxsen/legisrag/internal/chunker"
	"github.com/xxxsen/legisrag/internal/extract"
	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/contenthash"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
	"github.com/xxxsen/legisrag/internal/pkg/keylock"
	"github.com/xxxsen/legisrag/internal/vectorstore"
)

const (
	IngestStatusSuccess = "success"
	IngestStatusFailed  = "failed"
)

const (
	ReasonIndexed         = "indexed"
	ReasonEmpty           = "empty"
	ReasonDuplicate       = "duplicate"
	ReasonExtractFailed   = "extract_failed"
	ReasonEmbeddingFailed = "embedding_failed"
	ReasonStorageFailed   = "storage_failed"
	ReasonCancelled       = "cancelled"
)

const (
	ChannelOK      = "ok"
	ChannelFailed  = "failed"
	ChannelSkipped = "skipped"
)

// ChannelResult reports one independently failable output of an ingestion:
// the vector index or the raw archive.
type ChannelResult struct {
	Status string `json:"status"`
	URI    string `json:"uri,omitempty"`
	Error  string `json:"error,omitempty"`
}

type IngestResult struct {
	ScrapeID      string        `json:"scrape_id"`
	DocumentID    string        `json:"document_id"`
	ChunksCreated int           `json:"chunks_created"`
	Status        string        `json:"status"`
	Reason        string        `json:"reason"`
	Err           error         `json:"-"`
	Index         ChannelResult `json:"index"`
	Archive       ChannelResult `json:"archive"`
}

func (r *IngestResult) Succeeded() bool {
	return r.Status == IngestStatusSuccess
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MinTextRunes int
}

type IngestionService struct {
	scrapes  ScrapeStore
	backend  vectorstore.Backend
	embedder ai.IEmbedder
	blobs    blobstore.Store
	cfg      IngestConfig
	locks    *keylock.KeyLock
	now      func() time.Time
}

// NewIngestionService wires the pipeline. blobs may be nil to disable
// archival.
func NewIngestionService(scrapes ScrapeStore, backend vectorstore.Backend, embedder ai.IEmbedder, blobs blobstore.Store, cfg IngestConfig) (*IngestionService, error) {
	if err := chunker.Validate(cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.MinTextRunes <= 0 {
		cfg.MinTextRunes = 1
	}
	if embedder.Config().Dimension != backend.Dimension() {
		return nil, fmt.Errorf("%w: embedder produces %d dims, backend stores %d",
			appErr.ErrDimensionMismatch, embedder.Config().Dimension, backend.Dimension())
	}
	return &IngestionService{
		scrapes:  scrapes,
		backend:  backend,
		embedder: embedder,
		blobs:    blobs,
		cfg:      cfg,
		locks:    keylock.New(),
		now:      time.Now,
	}, nil
}

func (s *IngestionService) IngestByID(ctx context.Context, scrapeID, runID string) (*IngestResult, error) {
	scrape, err := s.scrapes.Get(ctx, scrapeID)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, scrape, runID), nil
}

// Ingest runs one scrape through extract, chunk, embed, upsert and archive.
// Per-document failures are reported in the result, never returned as panics.
func (s *IngestionService) Ingest(ctx context.Context, scrape *model.RawScrape, runID string) *IngestResult {
	if scrape.ContentHash == "" {
		scrape.ContentHash = contenthash.Sum(scrape.Data)
	}
	docID := contenthash.DocumentKey(scrape.SourceID, scrape.ContentHash)
	res := &IngestResult{
		ScrapeID:   scrape.ID,
		DocumentID: docID,
		Index:      ChannelResult{Status: ChannelSkipped},
		Archive:    ChannelResult{Status: ChannelSkipped},
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("scrape_id", scrape.ID),
		zap.String("document_id", docID),
		zap.String("source_id", scrape.SourceID),
	)
	if runID != "" {
		logger = logger.With(zap.String("run_id", runID))
	}

	unlock, err := s.locks.Lock(ctx, docID)
	if err != nil {
		return s.fail(ctx, logger, res, scrape, ReasonCancelled, err, false)
	}
	defer unlock()

	exists, err := s.backend.HasDocument(ctx, docID)
	if err != nil {
		return s.fail(ctx, logger, res, scrape, ReasonStorageFailed, err, true)
	}
	if exists {
		res.Status = IngestStatusSuccess
		res.Reason = ReasonDuplicate
		if err := s.scrapes.MarkProcessed(ctx, scrape.ID, "", s.now().UnixMilli()); err != nil {
			return s.fail(ctx, logger, res, scrape, ReasonStorageFailed, err, false)
		}
		logger.Info("document already indexed, skip")
		return res
	}

	text, err := extract.Extract(ctx, scrape.Data, scrape.ContentType)
	if err != nil {
		return s.fail(ctx, logger, res, scrape, ReasonExtractFailed, err, true)
	}
	if extract.IsEmpty(text.Text, s.cfg.MinTextRunes) {
		res.Archive = s.archive(ctx, logger, scrape)
		if err := s.scrapes.MarkProcessed(ctx, scrape.ID, res.Archive.URI, s.now().UnixMilli()); err != nil {
			return s.fail(ctx, logger, res, scrape, ReasonStorageFailed, err, false)
		}
		res.Status = IngestStatusSuccess
		res.Reason = ReasonEmpty
		logger.Info("extracted text is empty, mark processed without chunks")
		return res
	}

	pieces, err := chunker.Collect(text.Text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return s.fail(ctx, logger, res, scrape, ReasonExtractFailed, err, false)
	}
	logger.Debug("document chunked", zap.Int("chunks", len(pieces)))

	vectors, err := s.embedder.Embed(ctx, pieces, ai.TaskRetrievalDocument)
	if err != nil {
		return s.fail(ctx, logger, res, scrape, ReasonEmbeddingFailed, err, true)
	}

	embCfg := s.embedder.Config()
	now := s.now().UnixMilli()
	chunks := make([]*model.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &model.DocumentChunk{
			ID:             chunkID(docID, i),
			DocumentID:     docID,
			ScrapeID:       scrape.ID,
			SourceID:       scrape.SourceID,
			ContentHash:    scrape.ContentHash,
			ChunkIndex:     i,
			Content:        piece,
			Embedding:      vectors[i],
			EmbeddingModel: embCfg.Model,
			SourceURL:      scrape.URL,
			SourceTitle:    text.Title,
			Metadata:       chunkMetadata(scrape),
			RunID:          runID,
			Ctime:          now,
		}
	}
	written, err := s.backend.Upsert(ctx, chunks)
	if err != nil {
		return s.fail(ctx, logger, res, scrape, ReasonStorageFailed, err, true)
	}
	res.ChunksCreated = written
	res.Index = ChannelResult{Status: ChannelOK}

	res.Archive = s.archive(ctx, logger, scrape)
	if err := s.scrapes.MarkProcessed(ctx, scrape.ID, res.Archive.URI, s.now().UnixMilli()); err != nil {
		// chunks are visible; the next run sees a duplicate and marks it
		return s.fail(ctx, logger, res, scrape, ReasonStorageFailed, err, false)
	}
	res.Status = IngestStatusSuccess
	res.Reason = ReasonIndexed
	logger.Info("document indexed", zap.Int("chunks", written), zap.String("archive", res.Archive.Status))
	return res
}

func (s *IngestionService) fail(ctx context.Context, logger *zap.Logger, res *IngestResult, scrape *model.RawScrape, reason string, cause error, markFailed bool) *IngestResult {
	res.Status = IngestStatusFailed
	res.Reason = reason
	res.Err = fmt.Errorf("%w: %s: %w", appErr.ErrIngestionFailure, reason, cause)
	if reason == ReasonStorageFailed && res.Index.Status != ChannelOK {
		res.Index = ChannelResult{Status: ChannelFailed, Error: cause.Error()}
	}
	if reason == ReasonEmbeddingFailed {
		res.Index = ChannelResult{Status: ChannelFailed, Error: cause.Error()}
	}
	logger.Error("ingestion failed", zap.String("reason", reason), zap.Error(cause))
	if markFailed {
		// bookkeeping must not inherit a cancelled batch context
		markCtx := context.WithoutCancel(ctx)
		if err := s.scrapes.MarkFailed(markCtx, scrape.ID, truncate(reason+": "+cause.Error(), 1000), s.now().UnixMilli()); err != nil {
			logger.Warn("mark scrape failed", zap.Error(err))
		}
	}
	return res
}

func (s *IngestionService) archive(ctx context.Context, logger *zap.Logger, scrape *model.RawScrape) ChannelResult {
	if s.blobs == nil {
		return ChannelResult{Status: ChannelSkipped}
	}
	key := blobstore.RawKey(scrape.SourceID, scrape.ContentHash)
	exists, err := s.blobs.Exists(ctx, key)
	if err == nil && exists {
		return ChannelResult{Status: ChannelSkipped, URI: s.blobs.URI(key)}
	}
	if err != nil {
		logger.Warn("check archived payload failed", zap.String("key", key), zap.Error(err))
	}
	uri, err := s.blobs.Put(ctx, key, scrape.Data, scrape.ContentType)
	if err != nil {
		logger.Warn("archive raw payload failed", zap.String("key", key), zap.Error(err))
		return ChannelResult{Status: ChannelFailed, Error: err.Error()}
	}
	return ChannelResult{Status: ChannelOK, URI: uri}
}

// IsBackendUnavailable reports whether a result failed because the vector
// backend could not be reached, which should stop the surrounding batch.
func IsBackendUnavailable(res *IngestResult) bool {
	return res != nil && res.Err != nil && errors.Is(res.Err, appErr.ErrBackendUnavailable)
}

func chunkMetadata(scrape *model.RawScrape) map[string]string {
	meta := make(map[string]string, len(scrape.Metadata)+1)
	for k, v := range scrape.Metadata {
		meta[k] = v
	}
	if mt := extract.MediaType(scrape.ContentType); mt != "" {
		meta["content_type"] = mt
	}
	return meta
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
