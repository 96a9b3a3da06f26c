package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/ai"
	"github.com/xxxsen/legisrag/internal/model"
	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
	"github.com/xxxsen/legisrag/internal/vectorstore"
)

const (
	DefaultTopK = 5
	MaxTopK     = 50
)

type RetrievalConfig struct {
	MaxTopK  int
	MinScore float64
}

type RetrieveRequest struct {
	Query  string             `json:"query"`
	TopK   int                `json:"top_k"`
	Filter vectorstore.Filter `json:"filters"`
}

type RetrievalService struct {
	backend  vectorstore.Backend
	embedder ai.IEmbedder
	cfg      RetrievalConfig
}

// NewRetrievalService refuses an embedder whose vectors cannot be compared
// with what the backend stores.
func NewRetrievalService(backend vectorstore.Backend, embedder ai.IEmbedder, cfg RetrievalConfig) (*RetrievalService, error) {
	if embedder.Config().Dimension != backend.Dimension() {
		return nil, fmt.Errorf("%w: query embedder produces %d dims, backend stores %d",
			appErr.ErrDimensionMismatch, embedder.Config().Dimension, backend.Dimension())
	}
	if cfg.MaxTopK <= 0 || cfg.MaxTopK > MaxTopK {
		cfg.MaxTopK = MaxTopK
	}
	return &RetrievalService{backend: backend, embedder: embedder, cfg: cfg}, nil
}

// ClampTopK applies the default and the upper bound.
func (s *RetrievalService) ClampTopK(topK int) int {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return min(topK, s.cfg.MaxTopK)
}

func (s *RetrievalService) Retrieve(ctx context.Context, req RetrieveRequest) ([]*model.CitedResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", appErr.ErrInvalid)
	}
	topK := s.ClampTopK(req.TopK)
	embCfg := s.embedder.Config()
	filter := req.Filter
	if filter.EmbeddingModel != "" && filter.EmbeddingModel != embCfg.Model {
		return nil, fmt.Errorf("%w: query model is %s, filter asks for %s", appErr.ErrModelMismatch, embCfg.Model, filter.EmbeddingModel)
	}
	// chunks embedded by another model live in another space
	filter.EmbeddingModel = embCfg.Model
	filter.MinScore = max(filter.MinScore, s.cfg.MinScore)

	logger := logutil.GetLogger(ctx).With(zap.Int("top_k", topK), zap.String("model", embCfg.Model))
	vecs, err := s.embedder.Embed(ctx, []string{query}, ai.TaskRetrievalQuery)
	if err != nil {
		logger.Error("failed to embed retrieval query", zap.Error(err))
		return nil, err
	}
	hits, err := s.backend.Query(ctx, vecs[0], topK, filter)
	if err != nil {
		logger.Error("vector query failed", zap.Error(err))
		return nil, err
	}
	out := make([]*model.CitedResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, &model.CitedResult{
			Text:       h.Chunk.Content,
			SourceURL:  h.Chunk.SourceURL,
			Title:      h.Chunk.SourceTitle,
			Score:      h.Score,
			DocumentID: h.Chunk.DocumentID,
			ChunkIndex: h.Chunk.ChunkIndex,
			Metadata:   h.Chunk.Metadata,
		})
	}
	logger.Debug("retrieval finished", zap.Int("hits", len(out)))
	return out, nil
}
